// Package stats aggregates performance, cost, and reliability statistics
// for the orchestration engine, per batch and globally.
package stats

import (
	"time"

	"gonum.org/v1/gonum/floats"
)

// Container is the value aggregate for one scope (global or one batch).
//
// All mutation goes through the owning Manager, which serializes it under
// a single lock. The derived methods read fields without locking; callers
// tolerate momentarily inconsistent mid-update snapshots.
//
// Invariants maintained by the Manager:
//
//	TotalRequests == SuccessfulRequests + FailedRequests
//	sum(ErrorTypeCounts) == FailedRequests
//	ConcurrentPeak >= CurrentConcurrentRequests >= 0
//	PeakTPM is monotone non-decreasing
//	EndTime is nil until closed, then immutable
type Container struct {
	StartTime time.Time
	EndTime   *time.Time

	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	ErrorTypeCounts    map[string]int

	TotalInputTokens  int
	TotalOutputTokens int
	TotalCachedTokens int
	TotalTokens       int
	TotalCost         float64

	// APIResponseTimes preserves arrival order; used for min/mean/max
	// and the serial-time total.
	APIResponseTimes []float64

	CurrentConcurrentRequests int
	ConcurrentPeak            int

	PeakTPM int

	RetryCount            int
	ProactivePauses       int
	ProactivePauseSeconds float64
	APIRateLimitsDetected int
	ConcurrencyLimit      int
}

func newContainer(now time.Time) *Container {
	return &Container{
		StartTime:       now,
		ErrorTypeCounts: make(map[string]int),
	}
}

// ProcessingTime is the wall-clock span of the container in seconds: from
// start to close, or to now while still open.
func (c *Container) ProcessingTime() float64 {
	end := time.Now()
	if c.EndTime != nil {
		end = *c.EndTime
	}
	return end.Sub(c.StartTime).Seconds()
}

// TotalAPITime is the serial sum of all recorded response times.
func (c *Container) TotalAPITime() float64 {
	return floats.Sum(c.APIResponseTimes)
}

// ParallelizationGainSeconds is serial API time minus wall-clock elapsed
// time. It may be negative for trivially small batches; it is reported as
// computed.
func (c *Container) ParallelizationGainSeconds() float64 {
	return c.TotalAPITime() - c.ProcessingTime()
}

// ParallelizationGainPercent is the gain as a percentage of serial API
// time, or 0 when no API time has been recorded.
func (c *Container) ParallelizationGainPercent() float64 {
	total := c.TotalAPITime()
	if total <= 0 {
		return 0
	}
	return 100 * c.ParallelizationGainSeconds() / total
}

// RequestsPerSecond is throughput over the container's wall-clock span,
// or 0 for a zero-length span.
func (c *Container) RequestsPerSecond() float64 {
	pt := c.ProcessingTime()
	if pt <= 0 {
		return 0
	}
	return float64(c.TotalRequests) / pt
}
