package conc

import (
	"context"
	"sync"
)

// futureState is the write-once slot shared by a Future/Promise pair.
type futureState[T any] struct {
	mu   sync.Mutex
	done chan struct{}
	set  bool
	val  T
	err  error
}

func (s *futureState[T]) fulfill(val T, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return ErrAlreadyFulfilled
	}
	s.set = true
	s.val = val
	s.err = err
	close(s.done)
	return nil
}

// Future is the read side of a one-shot value handoff. Any number of
// waiters may Get; after fulfillment they all observe the same outcome.
type Future[T any] struct {
	s *futureState[T]
}

// Promise is the write side of a one-shot value handoff. It may be
// fulfilled exactly once; a second fulfillment returns ErrAlreadyFulfilled.
type Promise[T any] struct {
	s *futureState[T]
}

// NewFuture creates a bound Future/Promise pair.
func NewFuture[T any]() (*Future[T], *Promise[T]) {
	s := &futureState[T]{done: make(chan struct{})}
	return &Future[T]{s: s}, &Promise[T]{s: s}
}

// Send fulfills the promise with a value.
func (p *Promise[T]) Send(val T) error {
	return p.s.fulfill(val, nil)
}

// Throw fulfills the promise with an error.
func (p *Promise[T]) Throw(err error) error {
	var zero T
	return p.s.fulfill(zero, err)
}

// Set fulfills the promise with a complete outcome.
func (p *Promise[T]) Set(val T, err error) error {
	return p.s.fulfill(val, err)
}

// Fulfilled reports whether the promise has been set.
func (p *Promise[T]) Fulfilled() bool {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.set
}

// Get blocks until the future is fulfilled, then returns the stored value
// or error. The outcome is stable across calls and callers.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.s.done:
		return f.s.val, f.s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the future has been fulfilled, without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.s.done:
		return true
	default:
		return false
	}
}
