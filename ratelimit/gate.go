package ratelimit

import (
	"container/list"
	"context"
	"sync"
)

// gate is a variable-capacity concurrency gate. It behaves like a counting
// semaphore whose capacity can be changed at runtime with two guarantees:
//
//   - A capacity reduction never revokes a permit already granted; it only
//     prevents new acquisitions until enough holders release.
//   - A release while more permits are outstanding than the current
//     capacity allows is absorbed silently.
//
// Waiters are woken in FIFO order.
type gate struct {
	mu       sync.Mutex
	capacity int
	inFlight int
	waiters  *list.List // of *gateWaiter
	resizes  uint64
}

type gateWaiter struct {
	ready   chan struct{}
	granted bool
}

func newGate(capacity int) *gate {
	return &gate{
		capacity: capacity,
		waiters:  list.New(),
	}
}

// Acquire blocks until a permit is available or ctx is done. It reports
// whether the caller had to wait.
func (g *gate) Acquire(ctx context.Context) (blocked bool, err error) {
	g.mu.Lock()
	if g.inFlight < g.capacity && g.waiters.Len() == 0 {
		g.inFlight++
		g.mu.Unlock()
		return false, nil
	}

	w := &gateWaiter{ready: make(chan struct{})}
	elem := g.waiters.PushBack(w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return true, nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			// Lost the race: the permit was granted between ctx firing
			// and us taking the lock. Hand it back.
			g.releaseLocked()
		} else {
			g.waiters.Remove(elem)
		}
		g.mu.Unlock()
		return true, ctx.Err()
	}
}

// Release returns a permit. Releasing above the current capacity (after a
// shrink) only decrements the outstanding count.
func (g *gate) Release() {
	g.mu.Lock()
	g.releaseLocked()
	g.mu.Unlock()
}

func (g *gate) releaseLocked() {
	if g.inFlight > 0 {
		g.inFlight--
	}
	g.wakeLocked()
}

// SetCapacity changes the effective capacity. Growth wakes queued waiters;
// shrinkage takes effect as outstanding permits drain.
func (g *gate) SetCapacity(n int) {
	if n < 0 {
		n = 0
	}
	g.mu.Lock()
	g.capacity = n
	g.resizes++
	g.wakeLocked()
	g.mu.Unlock()
}

func (g *gate) wakeLocked() {
	for g.inFlight < g.capacity && g.waiters.Len() > 0 {
		elem := g.waiters.Front()
		w := elem.Value.(*gateWaiter)
		g.waiters.Remove(elem)
		w.granted = true
		g.inFlight++
		close(w.ready)
	}
}

func (g *gate) Capacity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity
}

func (g *gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}
