package stats

import (
	"math"
	"strings"
	"testing"

	"github.com/promptdrive/promptdrive-go/pricing"
	"github.com/promptdrive/promptdrive-go/ratelimit"
)

func testPricing(t *testing.T) *pricing.Table {
	t.Helper()
	return pricing.NewTable(map[string]pricing.ModelConfig{
		"test-model": {Input: 1.0, Output: 2.0, Cache: 0.5},
	})
}

func TestRecordRequestAccumulates(t *testing.T) {
	m := NewManager(testPricing(t), nil)
	m.StartBatch("b1")

	m.RecordRequest(RequestRecord{
		BatchID:      "b1",
		Model:        "test-model",
		Success:      true,
		InputTokens:  1000,
		OutputTokens: 500,
		TotalTokens:  1500,
		Attempts:     1,
	})
	m.RecordRequest(RequestRecord{
		BatchID:         "b1",
		Model:           "test-model",
		Success:         false,
		ErrorType:       "RetryError",
		APIResponseTime: 2.5,
		Attempts:        3,
	})

	for _, c := range []*Container{m.GlobalStats(), m.BatchStats("b1")} {
		if c.TotalRequests != 2 || c.SuccessfulRequests != 1 || c.FailedRequests != 1 {
			t.Errorf("counts = %d/%d/%d, want 2/1/1",
				c.TotalRequests, c.SuccessfulRequests, c.FailedRequests)
		}
		if c.ErrorTypeCounts["RetryError"] != 1 {
			t.Errorf("RetryError count = %d, want 1", c.ErrorTypeCounts["RetryError"])
		}
		if c.TotalInputTokens != 1000 || c.TotalOutputTokens != 500 || c.TotalTokens != 1500 {
			t.Errorf("tokens = %d/%d/%d, want 1000/500/1500",
				c.TotalInputTokens, c.TotalOutputTokens, c.TotalTokens)
		}
		// 1000/1000*1.0 + 500/1000*2.0 = 2.0
		if math.Abs(c.TotalCost-2.0) > 1e-9 {
			t.Errorf("TotalCost = %v, want 2.0", c.TotalCost)
		}
		if c.RetryCount != 2 {
			t.Errorf("RetryCount = %d, want 2", c.RetryCount)
		}
		if len(c.APIResponseTimes) != 1 {
			t.Errorf("APIResponseTimes length = %d, want 1 (zero samples skipped)",
				len(c.APIResponseTimes))
		}
	}
}

func TestFailureWithoutErrorTypeDefaultsToUnknown(t *testing.T) {
	m := NewManager(nil, nil)
	m.RecordRequest(RequestRecord{Success: false, Attempts: 1})

	if got := m.GlobalStats().ErrorTypeCounts["UnknownError"]; got != 1 {
		t.Errorf("UnknownError count = %d, want 1", got)
	}
}

func TestRecordToUnknownBatchGoesGlobalOnly(t *testing.T) {
	m := NewManager(nil, nil)
	m.RecordRequest(RequestRecord{BatchID: "ghost", Success: true, Attempts: 1})

	if got := m.GlobalStats().TotalRequests; got != 1 {
		t.Errorf("global TotalRequests = %d, want 1", got)
	}
	if c := m.BatchStats("ghost"); c != nil {
		t.Error("unknown batch id materialized a container")
	}
}

func TestEndBatchIsIdempotent(t *testing.T) {
	m := NewManager(nil, nil)
	m.StartBatch("b1")

	first := m.EndBatch("b1")
	if first == nil || first.EndTime == nil {
		t.Fatal("first EndBatch did not close the container")
	}
	if second := m.EndBatch("b1"); second != nil {
		t.Error("second EndBatch returned a container, want nil")
	}
	if unknown := m.EndBatch("nope"); unknown != nil {
		t.Error("EndBatch of unknown id returned a container, want nil")
	}
}

func TestEndBatchMirrorsGlobalEndTime(t *testing.T) {
	m := NewManager(nil, nil)
	m.StartBatch("b1")
	c := m.EndBatch("b1")

	g := m.GlobalStats()
	if g.EndTime == nil {
		t.Fatal("global EndTime not set by EndBatch")
	}
	if !g.EndTime.Equal(*c.EndTime) {
		t.Errorf("global EndTime %v != batch EndTime %v", g.EndTime, c.EndTime)
	}
}

func TestConcurrentStartEndTracksPeak(t *testing.T) {
	m := NewManager(nil, nil)
	m.StartBatch("b1")

	m.RecordConcurrentStart("b1")
	m.RecordConcurrentStart("b1")
	m.RecordConcurrentStart("b1")
	m.RecordConcurrentEnd("b1")
	m.RecordConcurrentStart("b1")

	c := m.BatchStats("b1")
	if c.CurrentConcurrentRequests != 3 {
		t.Errorf("CurrentConcurrentRequests = %d, want 3", c.CurrentConcurrentRequests)
	}
	if c.ConcurrentPeak != 3 {
		t.Errorf("ConcurrentPeak = %d, want 3", c.ConcurrentPeak)
	}

	m.RecordConcurrentEnd("b1")
	m.RecordConcurrentEnd("b1")
	m.RecordConcurrentEnd("b1")
	m.RecordConcurrentEnd("b1") // extra end must not go negative

	c = m.BatchStats("b1")
	if c.CurrentConcurrentRequests != 0 {
		t.Errorf("CurrentConcurrentRequests = %d, want 0", c.CurrentConcurrentRequests)
	}
	if c.ConcurrentPeak != 3 {
		t.Errorf("ConcurrentPeak = %d after drain, want 3", c.ConcurrentPeak)
	}
}

func TestHandleLimiterEventUpdatesOpenScopes(t *testing.T) {
	m := NewManager(nil, nil)
	m.StartBatch("open")
	m.StartBatch("closed")
	m.EndBatch("closed")

	m.HandleLimiterEvent(ratelimit.Event{Type: ratelimit.EventTokenUsage, CurrentTPM: 400})
	m.HandleLimiterEvent(ratelimit.Event{Type: ratelimit.EventTokenUsage, CurrentTPM: 250})
	m.HandleLimiterEvent(ratelimit.Event{Type: ratelimit.EventAPIRateLimit, WaitTime: 30})
	m.HandleLimiterEvent(ratelimit.Event{Type: ratelimit.EventProactivePause, WaitTime: 1.5})
	m.HandleLimiterEvent(ratelimit.Event{Type: ratelimit.EventConcurrencyUpdate, NewConcurrency: 5})

	for _, tc := range []struct {
		name string
		c    *Container
	}{
		{"global", m.GlobalStats()},
		{"open batch", m.BatchStats("open")},
	} {
		if tc.c.PeakTPM != 400 {
			t.Errorf("%s: PeakTPM = %d, want 400 (monotone)", tc.name, tc.c.PeakTPM)
		}
		if tc.c.APIRateLimitsDetected != 1 {
			t.Errorf("%s: APIRateLimitsDetected = %d, want 1", tc.name, tc.c.APIRateLimitsDetected)
		}
		if tc.c.ProactivePauses != 1 || tc.c.ProactivePauseSeconds != 1.5 {
			t.Errorf("%s: pauses = %d (%vs), want 1 (1.5s)",
				tc.name, tc.c.ProactivePauses, tc.c.ProactivePauseSeconds)
		}
		if tc.c.ConcurrencyLimit != 5 {
			t.Errorf("%s: ConcurrencyLimit = %d, want 5", tc.name, tc.c.ConcurrencyLimit)
		}
	}

	if closed := m.BatchStats("closed"); closed.PeakTPM != 0 {
		t.Errorf("closed batch PeakTPM = %d, want 0 (not updated)", closed.PeakTPM)
	}
}

func TestSummaryUnknownBatch(t *testing.T) {
	m := NewManager(nil, nil)
	got := m.Summary("missing")
	want := `ERROR: no statistics recorded for batch "missing"`
	if got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}

func TestSummaryFormatting(t *testing.T) {
	m := NewManager(testPricing(t), nil)
	m.StartBatch("b1")
	m.RecordRequest(RequestRecord{
		BatchID:         "b1",
		Model:           "test-model",
		Success:         true,
		InputTokens:     1000,
		OutputTokens:    500,
		TotalTokens:     1500,
		APIResponseTime: 1.25,
		Attempts:        1,
	})
	m.EndBatch("b1")

	got := m.Summary("b1")
	for _, want := range []string{
		"=== b1 STATISTICS ===",
		"Requests:              1 (1 ok, 0 failed)",
		"Tokens:                1000 in / 500 out / 0 cached / 1500 total",
		"Cost:                  $2.0000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary missing %q in:\n%s", want, got)
		}
	}

	global := m.Summary("")
	if !strings.Contains(global, "=== GLOBAL STATISTICS ===") {
		t.Errorf("global Summary missing header:\n%s", global)
	}
}
