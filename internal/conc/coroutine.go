package conc

import (
	"context"
	"errors"
	"sync"
)

// CoroutineState is the lifecycle position of a Coroutine.
type CoroutineState int

const (
	StateIdle CoroutineState = iota
	StateRunning
	StateSuspended
	StateCompleted
)

// String returns the string representation of the state.
func (s CoroutineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Step performs one unit of a routine's work and reports whether the
// routine has finished. Each invocation is one checkpoint interval: the
// routine's position between invocations is whatever state the closure
// carries.
//
// interrupted is non-nil exactly once after a suspension caused by
// cancellation mid-unit: it is the captured cancellation, replayed into
// the routine on the drive that resumes it. The routine decides whether to
// absorb it and continue or to return it and finish.
type Step func(ctx context.Context, interrupted error) (done bool, err error)

// Coroutine wraps a routine that can be paused across an enclosing
// cancellation boundary and resumed later, preserving its internal
// position, instead of being torn down and restarted.
//
// Run drives the routine one unit at a time. If the drive's context is
// cancelled mid-unit, the cancellation is captured rather than treated as
// the routine's failure: the coroutine parks in StateSuspended and the
// captured cancellation is handed to the routine exactly once when it is
// next driven. A cancellation that merely races with natural completion is
// not reported as failure; completion wins.
type Coroutine struct {
	step Step

	mu      sync.Mutex
	state   CoroutineState
	pending error // captured cancellation, delivered on next drive
	result  error // terminal outcome once completed
}

// NewCoroutine creates a coroutine around step. The coroutine owns the
// routine for its lifetime.
func NewCoroutine(step Step) *Coroutine {
	return &Coroutine{step: step}
}

// State returns the coroutine's current lifecycle position.
func (c *Coroutine) State() CoroutineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the terminal outcome of a completed coroutine.
func (c *Coroutine) Result() (error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCompleted {
		return nil, false
	}
	return c.result, true
}

// Run drives the routine under ctx until it completes or the drive is
// cancelled. Only one driver may be active at a time. Driving a completed
// coroutine returns its stored outcome.
func (c *Coroutine) Run(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.mu.Unlock()
		return ErrCoroutineBusy
	case StateCompleted:
		result := c.result
		c.mu.Unlock()
		return result
	}
	c.state = StateRunning
	interrupted := c.pending
	c.pending = nil
	c.mu.Unlock()

	for {
		done, err := c.step(ctx, interrupted)
		interrupted = nil

		if done {
			// Completion wins over a cancellation racing it.
			c.settle(StateCompleted, nil, err)
			return err
		}

		if err != nil {
			if isCancellation(err) && ctx.Err() != nil {
				// Captured: park here and replay on the next drive.
				c.settle(StateSuspended, err, nil)
				return err
			}
			c.settle(StateCompleted, nil, err)
			return err
		}

		if cerr := ctx.Err(); cerr != nil {
			// Parked between units; nothing to replay.
			c.settle(StateSuspended, nil, nil)
			return cerr
		}
	}
}

func (c *Coroutine) settle(state CoroutineState, pending, result error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.pending = pending
	if state == StateCompleted {
		c.result = result
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
