// Package ratelimit provides the adaptive rate limiter: a sliding-window
// tokens-per-minute accountant coupled with a variable-capacity concurrency
// gate that re-tunes itself from observed request cost and provider
// pushback.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies a telemetry event emitted by the limiter.
type EventType string

const (
	EventProactivePause    EventType = "proactive_pause"
	EventAPIRateLimit      EventType = "api_rate_limit_detected"
	EventTokenUsage        EventType = "token_usage_update"
	EventConcurrencyUpdate EventType = "concurrency_update"
)

// Event is a fire-and-forget telemetry record. Only the fields relevant to
// the event type are populated.
type Event struct {
	Type EventType

	// WaitTime in seconds, for pause and rate-limit events.
	WaitTime float64

	// CurrentTPM for token-usage updates.
	CurrentTPM int

	// NewConcurrency for concurrency updates.
	NewConcurrency int
}

// Config configures the adaptive limiter. All tuning constants are injected
// here rather than living as process-wide globals.
type Config struct {
	// MaxTPM is the provider's tokens-per-minute ceiling. Required, > 0.
	MaxTPM int

	// InitialConcurrency is the starting capacity of the gate.
	// Default: 10
	InitialConcurrency int

	// MinConcurrency and MaxConcurrency bound the dynamic capacity.
	// Defaults: 2 and 100.
	MinConcurrency int
	MaxConcurrency int

	// Window is the sliding-window length for TPM accounting.
	// Default: 60s
	Window time.Duration

	// CostSampleSize bounds the queue of recent per-request token costs.
	// Default: 50
	CostSampleSize int

	// DefaultRequestCost is the assumed token cost before any sample
	// has been observed. Default: 1500
	DefaultRequestCost int

	// TargetUtilization is the fraction of MaxTPM the controller aims
	// for. Default: 0.90
	TargetUtilization float64

	// AdjustEvery is the number of successful completions between
	// heartbeat re-tunes. Default: 20
	AdjustEvery int

	// AdjustCooldown is the minimum interval between heartbeat
	// re-tunes. Emergency re-tunes ignore it. Default: 5s
	AdjustCooldown time.Duration

	// EventBuffer is the capacity of the telemetry channel. Events are
	// dropped, never blocked on, when the consumer falls behind.
	// Default: 256
	EventBuffer int

	// OnEvent receives telemetry on a dedicated goroutine. May be nil.
	OnEvent func(Event)

	// Logger for limiter decisions. Nil means discard.
	Logger *slog.Logger
}

// DefaultConfig returns a limiter config with the standard tuning
// constants for the given TPM budget.
func DefaultConfig(maxTPM int) Config {
	return Config{
		MaxTPM:             maxTPM,
		InitialConcurrency: 10,
		MinConcurrency:     2,
		MaxConcurrency:     100,
		Window:             60 * time.Second,
		CostSampleSize:     50,
		DefaultRequestCost: 1500,
		TargetUtilization:  0.90,
		AdjustEvery:        20,
		AdjustCooldown:     5 * time.Second,
		EventBuffer:        256,
	}
}

// ErrInvalidMaxTPM is returned when constructing a limiter with a
// non-positive TPM budget.
var ErrInvalidMaxTPM = errors.New("ratelimit: MaxTPM must be positive")

type usageEntry struct {
	at     time.Time
	tokens int
}

// AdaptiveLimiter admits callers at a rate that approaches but does not
// exceed a TPM budget, without requiring callers to predict their own
// token cost.
//
// Pacing is achieved through the capacity of the concurrency gate, which
// the controller derives from the observed average request cost:
//
//	ideal = floor(TargetUtilization * MaxTPM / avgRequestCost)
//
// clamped to [MinConcurrency, MaxConcurrency]. The controller re-tunes on
// a heartbeat (every AdjustEvery successful completions, subject to
// AdjustCooldown) and applies the computed target unconditionally once the
// interval elapses. Provider pushback halves capacity immediately.
//
// The limiter never fails a caller; Acquire returns an error only when the
// caller's context is done.
type AdaptiveLimiter struct {
	cfg  Config
	gate *gate
	log  *slog.Logger

	mu              sync.Mutex
	window          []usageEntry
	tokensInWindow  int
	recentCosts     []int
	concurrency     int
	reqsSinceAdjust int
	lastAdjust      time.Time

	adjusting atomic.Bool

	events  chan Event
	dropped atomic.Int64
	done    chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup

	now func() time.Time // test hook
}

// NewAdaptiveLimiter creates a limiter. MaxTPM must be positive; other
// zero-valued fields receive defaults.
func NewAdaptiveLimiter(cfg Config) (*AdaptiveLimiter, error) {
	if cfg.MaxTPM <= 0 {
		return nil, ErrInvalidMaxTPM
	}
	def := DefaultConfig(cfg.MaxTPM)
	if cfg.InitialConcurrency <= 0 {
		cfg.InitialConcurrency = def.InitialConcurrency
	}
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = def.MinConcurrency
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.CostSampleSize <= 0 {
		cfg.CostSampleSize = def.CostSampleSize
	}
	if cfg.DefaultRequestCost <= 0 {
		cfg.DefaultRequestCost = def.DefaultRequestCost
	}
	if cfg.TargetUtilization <= 0 {
		cfg.TargetUtilization = def.TargetUtilization
	}
	if cfg.AdjustEvery <= 0 {
		cfg.AdjustEvery = def.AdjustEvery
	}
	if cfg.AdjustCooldown <= 0 {
		cfg.AdjustCooldown = def.AdjustCooldown
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.InitialConcurrency < cfg.MinConcurrency {
		cfg.InitialConcurrency = cfg.MinConcurrency
	}
	if cfg.InitialConcurrency > cfg.MaxConcurrency {
		cfg.InitialConcurrency = cfg.MaxConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	l := &AdaptiveLimiter{
		cfg:         cfg,
		gate:        newGate(cfg.InitialConcurrency),
		log:         cfg.Logger,
		concurrency: cfg.InitialConcurrency,
		events:      make(chan Event, cfg.EventBuffer),
		done:        make(chan struct{}),
		now:         time.Now,
	}

	l.wg.Add(1)
	go l.deliverEvents()

	return l, nil
}

// Acquire suspends until a concurrency slot is available, then prunes the
// sliding window and returns. It does not gate on predicted TPM; pacing is
// the gate capacity, which the controller derives from observed TPM.
func (l *AdaptiveLimiter) Acquire(ctx context.Context) error {
	start := l.now()
	blocked, err := l.gate.Acquire(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.pruneLocked(l.now())
	l.mu.Unlock()

	if blocked {
		waited := l.now().Sub(start).Seconds()
		l.emit(Event{Type: EventProactivePause, WaitTime: waited})
	}
	return nil
}

// RecordCompletion releases the caller's slot and updates the window and
// cost statistics. Successful completions with tokensUsed > 0 feed the
// sliding window; every AdjustEvery successes the controller re-tunes.
//
// The slot release is immediate; release above the current capacity after
// a shrink is absorbed by the gate.
func (l *AdaptiveLimiter) RecordCompletion(tokensUsed int, success bool) {
	l.gate.Release()

	now := l.now()
	l.mu.Lock()
	l.pruneLocked(now)
	if success && tokensUsed > 0 {
		l.window = append(l.window, usageEntry{at: now, tokens: tokensUsed})
		l.tokensInWindow += tokensUsed
		l.recentCosts = append(l.recentCosts, tokensUsed)
		if len(l.recentCosts) > l.cfg.CostSampleSize {
			l.recentCosts = l.recentCosts[len(l.recentCosts)-l.cfg.CostSampleSize:]
		}
	}
	var due bool
	if success {
		l.reqsSinceAdjust++
		due = l.reqsSinceAdjust >= l.cfg.AdjustEvery &&
			now.Sub(l.lastAdjust) >= l.cfg.AdjustCooldown
	}
	tpm := l.tokensInWindow
	l.mu.Unlock()

	l.emit(Event{Type: EventTokenUsage, CurrentTPM: tpm})

	if due {
		l.heartbeatAdjust()
	}
}

// RecordAPIRateLimit reacts to provider pushback: it logs the mandated
// wait and performs an emergency re-tune that halves capacity, subject to
// the floor. The emergency path ignores the heartbeat cooldown.
func (l *AdaptiveLimiter) RecordAPIRateLimit(wait time.Duration) {
	l.log.Warn("provider rate limit hit",
		slog.String("action", "api_rate_limit_detected"),
		slog.Float64("wait_time", wait.Seconds()))
	l.emit(Event{Type: EventAPIRateLimit, WaitTime: wait.Seconds()})

	if !l.adjusting.CompareAndSwap(false, true) {
		return
	}
	defer l.adjusting.Store(false)

	l.mu.Lock()
	target := l.concurrency / 2
	if target < l.cfg.MinConcurrency {
		target = l.cfg.MinConcurrency
	}
	old := l.concurrency
	l.concurrency = target
	l.reqsSinceAdjust = 0
	l.lastAdjust = l.now()
	l.mu.Unlock()

	l.gate.SetCapacity(target)
	l.log.Warn("emergency concurrency reduction",
		slog.String("action", "concurrency_update"),
		slog.Int("old_concurrency", old),
		slog.Int("new_concurrency", target))
	l.emit(Event{Type: EventConcurrencyUpdate, NewConcurrency: target})
}

// heartbeatAdjust applies the computed target unconditionally: the event
// is emitted even when the move is zero, since the feedback itself has
// value. Concurrent tuning attempts are dropped.
func (l *AdaptiveLimiter) heartbeatAdjust() {
	if !l.adjusting.CompareAndSwap(false, true) {
		return
	}
	defer l.adjusting.Store(false)

	l.mu.Lock()
	avg := l.avgRequestCostLocked()
	ideal := int(l.cfg.TargetUtilization * float64(l.cfg.MaxTPM) / avg)
	if ideal < l.cfg.MinConcurrency {
		ideal = l.cfg.MinConcurrency
	}
	if ideal > l.cfg.MaxConcurrency {
		ideal = l.cfg.MaxConcurrency
	}
	old := l.concurrency
	l.concurrency = ideal
	l.reqsSinceAdjust = 0
	l.lastAdjust = l.now()
	l.mu.Unlock()

	l.gate.SetCapacity(ideal)
	l.log.Info("concurrency re-tuned",
		slog.String("action", "concurrency_update"),
		slog.Int("old_concurrency", old),
		slog.Int("new_concurrency", ideal),
		slog.Float64("avg_request_cost", avg))
	l.emit(Event{Type: EventConcurrencyUpdate, NewConcurrency: ideal})
}

func (l *AdaptiveLimiter) avgRequestCostLocked() float64 {
	if len(l.recentCosts) == 0 {
		return float64(l.cfg.DefaultRequestCost)
	}
	sum := 0
	for _, c := range l.recentCosts {
		sum += c
	}
	return float64(sum) / float64(len(l.recentCosts))
}

// pruneLocked drops window entries older than the window length, keeping
// tokensInWindow equal to the sum of the surviving entries.
func (l *AdaptiveLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.window) && !l.window[i].at.After(cutoff) {
		l.tokensInWindow -= l.window[i].tokens
		i++
	}
	if i > 0 {
		l.window = l.window[i:]
	}
}

// TokensInWindow returns the token total of the sliding window after
// pruning it.
func (l *AdaptiveLimiter) TokensInWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return l.tokensInWindow
}

// Concurrency returns the current dynamic capacity.
func (l *AdaptiveLimiter) Concurrency() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.concurrency
}

// AvgRequestCost returns the mean of the recent cost samples, or the
// configured default when none have been observed.
func (l *AdaptiveLimiter) AvgRequestCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.avgRequestCostLocked()
}

// DroppedEvents returns the number of telemetry events discarded because
// the consumer fell behind.
func (l *AdaptiveLimiter) DroppedEvents() int64 {
	return l.dropped.Load()
}

// emit hands an event to the delivery goroutine without ever blocking the
// limiter. A full buffer drops the event.
func (l *AdaptiveLimiter) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.dropped.Add(1)
	}
}

func (l *AdaptiveLimiter) deliverEvents() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.events:
			if l.cfg.OnEvent != nil {
				l.cfg.OnEvent(ev)
			}
		case <-l.done:
			// Drain what is already buffered, then stop.
			for {
				select {
				case ev := <-l.events:
					if l.cfg.OnEvent != nil {
						l.cfg.OnEvent(ev)
					}
				default:
					return
				}
			}
		}
	}
}

// Close stops telemetry delivery after draining buffered events. It is
// idempotent and does not interfere with permits already granted.
func (l *AdaptiveLimiter) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	close(l.done)
	l.wg.Wait()
}
