package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestGateFastPath(t *testing.T) {
	g := newGate(2)

	for i := 0; i < 2; i++ {
		blocked, err := g.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d returned error: %v", i, err)
		}
		if blocked {
			t.Errorf("Acquire %d blocked below capacity", i)
		}
	}
	if got := g.InFlight(); got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}
}

func TestGateBlocksAtCapacity(t *testing.T) {
	g := newGate(1)

	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	acquired := make(chan bool, 1)
	go func() {
		blocked, err := g.Acquire(context.Background())
		if err != nil {
			t.Error(err)
		}
		acquired <- blocked
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while gate was full")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case blocked := <-acquired:
		if !blocked {
			t.Error("waiter did not report blocking")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken after Release")
	}
}

func TestGateContextCancellation(t *testing.T) {
	g := newGate(1)
	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Acquire error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire did not return")
	}

	// The abandoned waiter must not have consumed the permit.
	g.Release()
	blocked, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Error("Acquire blocked after cancelled waiter released the gate")
	}
}

func TestGateShrinkDoesNotRevoke(t *testing.T) {
	g := newGate(3)
	for i := 0; i < 3; i++ {
		if _, err := g.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	g.SetCapacity(1)

	if got := g.InFlight(); got != 3 {
		t.Errorf("InFlight = %d after shrink, want 3 (no revocation)", got)
	}

	// Releases above capacity are absorbed; a new Acquire only succeeds
	// once in-flight drops below the new capacity.
	g.Release()
	g.Release()

	done := make(chan struct{})
	go func() {
		if _, err := g.Acquire(context.Background()); err != nil {
			t.Error(err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Acquire succeeded while in-flight was at the shrunk capacity")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire not woken after drain below capacity")
	}
}

func TestGateGrowthWakesWaiters(t *testing.T) {
	g := newGate(1)
	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		if _, err := g.Acquire(context.Background()); err != nil {
			t.Error(err)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	g.SetCapacity(2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by capacity growth")
	}
}

func TestGateOverReleaseAbsorbed(t *testing.T) {
	g := newGate(2)
	g.Release()
	g.Release()

	if got := g.InFlight(); got != 0 {
		t.Errorf("InFlight = %d after over-release, want 0", got)
	}

	// Gate must still function normally.
	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := g.InFlight(); got != 1 {
		t.Errorf("InFlight = %d, want 1", got)
	}
}

func TestGateFIFOOrder(t *testing.T) {
	g := newGate(1)
	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	order := make(chan int, 2)
	ready := make(chan struct{}, 2)
	for i := 1; i <= 2; i++ {
		go func() {
			ready <- struct{}{}
			if _, err := g.Acquire(context.Background()); err != nil {
				t.Error(err)
			}
			order <- i
		}()
		<-ready
		// Give the goroutine time to enqueue before starting the next,
		// so queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	g.Release()
	first := <-order
	g.Release()
	second := <-order

	if first != 1 || second != 2 {
		t.Errorf("wake order = %d, %d; want 1, 2", first, second)
	}
}
