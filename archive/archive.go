// Package archive provides optional sinks for completed request outcomes,
// keyed by batch id. Archiving is best-effort: the orchestrator logs and
// drops write failures rather than surfacing them to callers.
package archive

import (
	"context"
	"sync"

	"github.com/promptdrive/promptdrive-go/promptdrive"
)

// Archiver stores and retrieves outcomes per batch.
type Archiver interface {
	// Store appends one outcome to a batch's archive.
	Store(ctx context.Context, batchID string, outcome *promptdrive.Outcome) error

	// List returns the archived outcomes of a batch in insertion order.
	List(ctx context.Context, batchID string) ([]*promptdrive.Outcome, error)
}

// InMemoryArchiver keeps outcomes in process memory. Suitable for tests
// and short-lived runs.
type InMemoryArchiver struct {
	mu       sync.RWMutex
	outcomes map[string][]*promptdrive.Outcome
}

var _ Archiver = (*InMemoryArchiver)(nil)

// NewInMemoryArchiver creates an empty in-memory archiver.
func NewInMemoryArchiver() *InMemoryArchiver {
	return &InMemoryArchiver{
		outcomes: make(map[string][]*promptdrive.Outcome),
	}
}

// Store appends the outcome under the batch id.
func (a *InMemoryArchiver) Store(_ context.Context, batchID string, outcome *promptdrive.Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[batchID] = append(a.outcomes[batchID], outcome)
	return nil
}

// List returns a copy of the batch's outcomes.
func (a *InMemoryArchiver) List(_ context.Context, batchID string) ([]*promptdrive.Outcome, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stored := a.outcomes[batchID]
	out := make([]*promptdrive.Outcome, len(stored))
	copy(out, stored)
	return out, nil
}
