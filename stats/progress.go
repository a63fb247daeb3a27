package stats

import (
	"log/slog"
	"sync"
	"time"
)

// ProgressTracker counts completed items of one batch and logs once per
// 10% milestone with observed rate and ETA.
type ProgressTracker struct {
	mu               sync.Mutex
	batchID          string
	total            int
	completed        int
	startTime        time.Time
	loggedMilestones map[int]bool
	log              *slog.Logger
}

// NewProgressTracker creates a tracker for a batch of total items.
func NewProgressTracker(batchID string, total int, logger *slog.Logger) *ProgressTracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ProgressTracker{
		batchID:          batchID,
		total:            total,
		startTime:        time.Now(),
		loggedMilestones: make(map[int]bool),
		log:              logger,
	}
}

// IncrementAndLog records one completed item. When the completion crosses
// a new 10% milestone it logs the milestone exactly once, with the rate
// observed so far and the ETA derived from elapsed wall time.
func (p *ProgressTracker) IncrementAndLog() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed++
	if p.total <= 0 {
		return
	}

	pct := 100 * p.completed / p.total
	milestone := pct / 10 * 10
	if milestone < 10 || p.loggedMilestones[milestone] {
		return
	}
	p.loggedMilestones[milestone] = true

	elapsed := time.Since(p.startTime).Seconds()
	rate := 0.0
	eta := 0.0
	if elapsed > 0 {
		rate = float64(p.completed) / elapsed
	}
	if rate > 0 {
		eta = float64(p.total-p.completed) / rate
	}

	p.log.Info("batch progress",
		slog.String("action", "batch_progress"),
		slog.String("batch_id", p.batchID),
		slog.Int("completed", p.completed),
		slog.Int("total", p.total),
		slog.Int("percent", milestone),
		slog.Float64("requests_per_second", rate),
		slog.Float64("eta_seconds", eta))
}

// Completed returns the number of items recorded so far.
func (p *ProgressTracker) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}
