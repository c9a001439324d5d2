// Package barrier implements the three one-shot, N-party barriers
// (READY, RELEASE, RECEIVED) that synchronize one work-queue position across
// every Worker/Connection pair in a run.
package barrier

import (
	"context"
	"sync"
)

// Gate is a single one-shot, N-party barrier. Capacity arrivals (or one
// Open call) close it exactly once; everyone waiting on Wait is released
// at that point. It is not reusable — build a fresh Gate per queue position.
type Gate struct {
	capacity int

	mu       sync.Mutex
	arrived  int
	aborted  bool
	done     chan struct{}
	closeOne sync.Once
}

// NewGate returns a Gate that closes once `capacity` arrivals (counting
// aborted ones) have been recorded, or Open is called directly.
func NewGate(capacity int) *Gate {
	return &Gate{capacity: capacity, done: make(chan struct{})}
}

// Arrive records one arrival. aborted marks this particular arrival as an
// "aborted arrival" (spec §5) — it still counts toward capacity so peers are
// never stranded, and Wait reports it through its aborted result.
func (g *Gate) Arrive(aborted bool) {
	g.mu.Lock()
	g.arrived++
	if aborted {
		g.aborted = true
	}
	full := g.arrived >= g.capacity
	g.mu.Unlock()

	if full {
		g.closeOne.Do(func() { close(g.done) })
	}
}

// Open force-closes the gate immediately regardless of arrival count. Used
// by the Driver to open RELEASE once READY is observed full, and by
// cancellation to force every remaining gate open in the abort state.
func (g *Gate) Open(aborted bool) {
	g.mu.Lock()
	if aborted {
		g.aborted = true
	}
	g.mu.Unlock()
	g.closeOne.Do(func() { close(g.done) })
}

// Wait blocks until the gate closes (by full arrival or Open), or ctx is
// done first. Returns whether the gate had been opened in the aborted
// state, and an error if ctx expired first (the caller should treat that as
// BarrierTimeout).
func (g *Gate) Wait(ctx context.Context) (aborted bool, err error) {
	select {
	case <-g.done:
		g.mu.Lock()
		aborted = g.aborted
		g.mu.Unlock()
		return aborted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Set bundles the three barriers scoped to one queue position.
type Set struct {
	Ready    *Gate
	Release  *Gate
	Received *Gate
}

// NewSet allocates a fresh three-barrier set of the given capacity (spec
// §4.4 step 1).
func NewSet(capacity int) *Set {
	return &Set{
		Ready:    NewGate(capacity),
		Release:  NewGate(capacity),
		Received: NewGate(capacity),
	}
}

// Abort force-opens every barrier in the set in the aborted state, so no
// Worker or Connection is stranded waiting on a position that will never
// complete (spec §5, driver-initiated shutdown).
func (s *Set) Abort() {
	s.Ready.Open(true)
	s.Release.Open(true)
	s.Received.Open(true)
}
