package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/promptdrive/promptdrive-go/promptdrive"
	"github.com/promptdrive/promptdrive-go/ratelimit"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			byName[m.Name] = m
		}
	}
	return byName
}

func counterTotal(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s data = %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRequestMetricsRecordsOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	m, err := NewRequestMetrics("test.outcomes")
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	m.OnOutcome(ctx, "test-model", &promptdrive.Outcome{
		Success:      true,
		InputTokens:  100,
		OutputTokens: 50,
		Cost:         0.2,
		Attempts:     1,
	})
	m.OnOutcome(ctx, "test-model", &promptdrive.Outcome{
		Success:  false,
		Attempts: 3,
	})

	byName := collectMetrics(t, reader)

	if got := counterTotal(t, byName["promptdrive.requests"]); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if got := counterTotal(t, byName["promptdrive.retries"]); got != 2 {
		t.Errorf("retries = %d, want 2", got)
	}
	if got := counterTotal(t, byName["promptdrive.tokens"]); got != 150 {
		t.Errorf("tokens = %d, want 150", got)
	}
}

func TestRequestMetricsRecordsLimiterEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	m, err := NewRequestMetrics("test.limiter")
	if err != nil {
		t.Fatal(err)
	}

	m.OnLimiterEvent(ratelimit.Event{Type: ratelimit.EventAPIRateLimit, WaitTime: 30})
	m.OnLimiterEvent(ratelimit.Event{Type: ratelimit.EventProactivePause, WaitTime: 1})
	m.OnLimiterEvent(ratelimit.Event{Type: ratelimit.EventTokenUsage, CurrentTPM: 1234})
	m.OnLimiterEvent(ratelimit.Event{Type: ratelimit.EventConcurrencyUpdate, NewConcurrency: 7})

	byName := collectMetrics(t, reader)

	if got := counterTotal(t, byName["promptdrive.rate_limit_hits"]); got != 1 {
		t.Errorf("rate_limit_hits = %d, want 1", got)
	}
	if got := counterTotal(t, byName["promptdrive.proactive_pauses"]); got != 1 {
		t.Errorf("proactive_pauses = %d, want 1", got)
	}

	tpm, ok := byName["promptdrive.tokens_per_minute"].Data.(metricdata.Gauge[int64])
	if !ok || len(tpm.DataPoints) == 0 {
		t.Fatal("tpm gauge missing data points")
	}
	if tpm.DataPoints[0].Value != 1234 {
		t.Errorf("tpm gauge = %d, want 1234", tpm.DataPoints[0].Value)
	}

	conc, ok := byName["promptdrive.concurrency_limit"].Data.(metricdata.Gauge[int64])
	if !ok || len(conc.DataPoints) == 0 {
		t.Fatal("concurrency gauge missing data points")
	}
	if conc.DataPoints[0].Value != 7 {
		t.Errorf("concurrency gauge = %d, want 7", conc.DataPoints[0].Value)
	}
}
