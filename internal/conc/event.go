package conc

import (
	"context"
	"sync"
)

// Event is a one-shot completion built by retrying a fallible action under
// a Gate. Concurrent Wait callers elect a leader; the leader runs the
// action. On success the done flag is set and every current and future
// waiter returns nil. On failure the flag stays clear and the error is
// returned only to the waiter that ran the attempt; the others loop and
// may lead the next attempt.
//
// The action must be safe to abandon mid-attempt and retry from scratch:
// the Event never cleans up after a failed attempt on the action's behalf.
type Event struct {
	action func(context.Context) error

	gate Gate

	mu   sync.Mutex
	done chan struct{}
	set  bool
}

// NewEvent creates an Event around the given retryable action.
func NewEvent(action func(context.Context) error) *Event {
	return &Event{
		action: action,
		done:   make(chan struct{}),
	}
}

// Done reports whether the event has completed.
func (e *Event) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event completes. At most one waiter runs the
// action at a time. A failed attempt's error goes only to the waiter that
// ran it; waiters that merely followed keep waiting.
func (e *Event) Wait(ctx context.Context) error {
	for {
		select {
		case <-e.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		leader, err := e.gate.Enter(ctx)
		if err != nil {
			return err
		}
		if !leader {
			// The leader's attempt finished; re-check the flag and
			// possibly lead the next attempt.
			continue
		}

		if e.Done() {
			e.gate.Leave()
			return nil
		}

		err = e.action(ctx)
		if err == nil {
			e.complete()
		}
		e.gate.Leave()
		return err
	}
}

func (e *Event) complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.done)
	}
}
