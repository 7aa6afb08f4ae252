package conc

import (
	"context"
	"sync"
)

// Gate elects one leader among concurrent waiters. The first caller to
// Enter becomes the leader and must call Leave when its protected work is
// finished, on every exit path. Every follower that entered while the
// leader was active is released by that Leave, as a single broadcast, and
// returns with leader == false.
//
// Unlike a mutex, Leave releases all waiters at once; unlike a bare
// condition variable, followers know the leader's protected scope has
// fully exited by the time they return. The gate resets on Leave, so a
// later caller can become the next leader even after the previous leader
// failed.
type Gate struct {
	mu      sync.Mutex
	running chan struct{} // non-nil while a leader is active
}

// Enter reports whether the caller is the leader. Leaders must call Leave.
// Followers block until the current leader leaves or ctx is cancelled.
func (g *Gate) Enter(ctx context.Context) (bool, error) {
	g.mu.Lock()
	if g.running == nil {
		g.running = make(chan struct{})
		g.mu.Unlock()
		return true, nil
	}
	running := g.running
	g.mu.Unlock()

	select {
	case <-running:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Leave ends the leader's tenure, releasing all current followers and
// resetting the gate. It must be called exactly once per successful
// leader Enter.
func (g *Gate) Leave() {
	g.mu.Lock()
	running := g.running
	g.running = nil
	g.mu.Unlock()

	if running == nil {
		panic("conc: Gate.Leave without an active leader")
	}
	close(running)
}

// Do runs fn under the gate if the caller wins leadership, releasing
// followers when fn returns on any path. It reports whether the caller led
// and, if so, fn's error. Followers return (false, nil) after the leader
// leaves.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) (bool, error) {
	leader, err := g.Enter(ctx)
	if err != nil || !leader {
		return false, err
	}
	defer g.Leave()
	return true, fn(ctx)
}
