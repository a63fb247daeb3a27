package stats

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/promptdrive/promptdrive-go/pricing"
	"github.com/promptdrive/promptdrive-go/promptdrive"
	"github.com/promptdrive/promptdrive-go/ratelimit"
)

// Manager owns one global container and a mapping of batch id to batch
// container. All mutation is serialized through a single mutex shared
// across every container.
//
// The global container is created at construction and never destroyed.
// Batch containers are created by StartBatch, closed by EndBatch, and
// retained for later summary retrieval.
type Manager struct {
	mu      sync.Mutex
	global  *Container
	batches map[string]*Container
	pricing *pricing.Table
	log     *slog.Logger
}

// RequestRecord carries the telemetry of one terminated request into the
// manager.
type RequestRecord struct {
	BatchID string // "" records to the global scope only
	Model   string

	Success   bool
	ErrorType string // defaults to "UnknownError" for failures

	InputTokens  int
	OutputTokens int
	CachedTokens int
	TotalTokens  int

	APIResponseTime float64 // seconds; appended only when positive
	Attempts        int     // 1-based final attempt count
}

// NewManager creates a manager with an open global container. A nil
// logger discards log output.
func NewManager(table *pricing.Table, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		global:  newContainer(time.Now()),
		batches: make(map[string]*Container),
		pricing: table,
		log:     logger,
	}
}

// StartBatch creates and registers a batch container. An existing id is
// overwritten with a warning.
func (m *Manager) StartBatch(id string) *Container {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[id]; exists {
		m.log.Warn("batch id already registered, overwriting",
			slog.String("action", "batch_overwrite"),
			slog.String("batch_id", id))
	}
	c := newContainer(time.Now())
	m.batches[id] = c
	return c
}

// EndBatch closes a batch container and mirrors the close instant onto
// the global container, so the most recently closed batch marks the
// global window's tail. Closing an unknown or already-closed batch is a
// no-op returning nil.
func (m *Manager) EndBatch(id string) *Container {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.batches[id]
	if !ok || c.EndTime != nil {
		return nil
	}
	now := time.Now()
	c.EndTime = &now
	globalEnd := now
	m.global.EndTime = &globalEnd
	return c
}

// RecordRequest folds one terminated request into the global container
// and, when the batch id is known, the batch container.
func (m *Manager) RecordRequest(rec RequestRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cost := 0.0
	if m.pricing != nil {
		cost = m.pricing.Cost(rec.Model, rec.InputTokens, rec.OutputTokens, rec.CachedTokens)
	}

	m.applyRequestLocked(m.global, rec, cost)
	if rec.BatchID != "" {
		if c, ok := m.batches[rec.BatchID]; ok {
			m.applyRequestLocked(c, rec, cost)
		}
	}
}

func (m *Manager) applyRequestLocked(c *Container, rec RequestRecord, cost float64) {
	c.TotalRequests++
	if rec.Success {
		c.SuccessfulRequests++
	} else {
		c.FailedRequests++
		errType := rec.ErrorType
		if errType == "" {
			errType = "UnknownError"
		}
		c.ErrorTypeCounts[errType]++
	}

	c.TotalInputTokens += rec.InputTokens
	c.TotalOutputTokens += rec.OutputTokens
	c.TotalCachedTokens += rec.CachedTokens
	c.TotalTokens += rec.TotalTokens
	c.TotalCost += cost

	if rec.APIResponseTime > 0 {
		c.APIResponseTimes = append(c.APIResponseTimes, rec.APIResponseTime)
	}
	if rec.Attempts > 1 {
		c.RetryCount += rec.Attempts - 1
	}
}

// RecordConcurrentStart bumps the in-flight count for the global scope
// and the named batch, updating the peak.
func (m *Manager) RecordConcurrentStart(batchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.scopesLocked(batchID) {
		c.CurrentConcurrentRequests++
		if c.CurrentConcurrentRequests > c.ConcurrentPeak {
			c.ConcurrentPeak = c.CurrentConcurrentRequests
		}
	}
}

// RecordConcurrentEnd undoes a matched RecordConcurrentStart.
func (m *Manager) RecordConcurrentEnd(batchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.scopesLocked(batchID) {
		if c.CurrentConcurrentRequests > 0 {
			c.CurrentConcurrentRequests--
		}
	}
}

func (m *Manager) scopesLocked(batchID string) []*Container {
	scopes := []*Container{m.global}
	if batchID != "" {
		if c, ok := m.batches[batchID]; ok {
			scopes = append(scopes, c)
		}
	}
	return scopes
}

// HandleLimiterEvent folds a rate-limiter telemetry event into the global
// container and every still-open batch container. Its signature matches
// the limiter's OnEvent callback.
func (m *Manager) HandleLimiterEvent(ev ratelimit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	targets := []*Container{m.global}
	for _, c := range m.batches {
		if c.EndTime == nil {
			targets = append(targets, c)
		}
	}

	for _, c := range targets {
		switch ev.Type {
		case ratelimit.EventProactivePause:
			c.ProactivePauses++
			c.ProactivePauseSeconds += ev.WaitTime
		case ratelimit.EventAPIRateLimit:
			c.APIRateLimitsDetected++
		case ratelimit.EventTokenUsage:
			if ev.CurrentTPM > c.PeakTPM {
				c.PeakTPM = ev.CurrentTPM
			}
		case ratelimit.EventConcurrencyUpdate:
			c.ConcurrencyLimit = ev.NewConcurrency
		}
	}
}

// GlobalStats returns the global container.
func (m *Manager) GlobalStats() *Container {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global
}

// BatchStats returns the container for a batch id, or nil.
func (m *Manager) BatchStats(id string) *Container {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[id]
}

// Summary returns a formatted multi-line report for a batch, or for the
// global scope when id is empty. An unknown batch id yields a visible
// error string rather than an error value.
func (m *Manager) Summary(id string) string {
	m.mu.Lock()
	var c *Container
	label := "GLOBAL"
	if id == "" {
		c = m.global
	} else {
		c = m.batches[id]
		label = id
	}
	m.mu.Unlock()

	if c == nil {
		return fmt.Sprintf("ERROR: no statistics recorded for batch %q", id)
	}
	return formatSummary(label, c)
}

func formatSummary(label string, c *Container) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== %s STATISTICS ===\n", label)
	fmt.Fprintf(&b, "Start time:            %s\n", promptdrive.FormatReportTime(c.StartTime))
	if c.EndTime != nil {
		fmt.Fprintf(&b, "End time:              %s\n", promptdrive.FormatReportTime(*c.EndTime))
	} else {
		fmt.Fprintf(&b, "End time:              (still running)\n")
	}
	fmt.Fprintf(&b, "Processing time:       %.2fs\n", c.ProcessingTime())
	fmt.Fprintf(&b, "Requests:              %d (%d ok, %d failed)\n",
		c.TotalRequests, c.SuccessfulRequests, c.FailedRequests)
	fmt.Fprintf(&b, "Requests/second:       %.2f\n", c.RequestsPerSecond())
	fmt.Fprintf(&b, "Retries:               %d\n", c.RetryCount)

	if len(c.APIResponseTimes) > 0 {
		fmt.Fprintf(&b, "API time (min/avg/max): %.2fs / %.2fs / %.2fs\n",
			floats.Min(c.APIResponseTimes),
			stat.Mean(c.APIResponseTimes, nil),
			floats.Max(c.APIResponseTimes))
		fmt.Fprintf(&b, "Total API time:        %.2fs\n", c.TotalAPITime())
		fmt.Fprintf(&b, "Parallelization gain:  %.2fs (%.1f%%)\n",
			c.ParallelizationGainSeconds(), c.ParallelizationGainPercent())
	}

	fmt.Fprintf(&b, "Tokens:                %d in / %d out / %d cached / %d total\n",
		c.TotalInputTokens, c.TotalOutputTokens, c.TotalCachedTokens, c.TotalTokens)
	fmt.Fprintf(&b, "Cost:                  $%.4f\n", c.TotalCost)
	fmt.Fprintf(&b, "Concurrency peak:      %d\n", c.ConcurrentPeak)
	fmt.Fprintf(&b, "Peak TPM:              %d\n", c.PeakTPM)
	fmt.Fprintf(&b, "Rate limits hit:       %d\n", c.APIRateLimitsDetected)
	fmt.Fprintf(&b, "Proactive pauses:      %d (%.2fs)\n", c.ProactivePauses, c.ProactivePauseSeconds)

	if len(c.ErrorTypeCounts) > 0 {
		fmt.Fprintf(&b, "Errors by type:\n")
		for errType, n := range c.ErrorTypeCounts {
			fmt.Fprintf(&b, "  %-20s %d\n", errType, n)
		}
	}

	return b.String()
}
