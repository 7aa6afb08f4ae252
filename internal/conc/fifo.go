package conc

import (
	"context"
	"sync"
)

// fifoState extends the future slot with a one-shot retrieval signal and an
// optional cancellation handle for producer-side work.
type fifoState struct {
	mu        sync.Mutex
	retrieved chan struct{}
	fired     bool
	cancel    context.CancelFunc
}

// FIFOFuture is the consumer side: it reads the value and acknowledges
// retrieval so the producer can stop doing redundant work.
type FIFOFuture[T any] struct {
	*Future[T]
	f *fifoState
}

// FIFOPromise is the producer side: it fulfills the value and can wait for
// the consumer's acknowledgment.
type FIFOPromise[T any] struct {
	*Promise[T]
	f *fifoState
}

// NewFIFOFuture creates a bound FIFOFuture/FIFOPromise pair.
func NewFIFOFuture[T any]() (*FIFOFuture[T], *FIFOPromise[T]) {
	fut, pr := NewFuture[T]()
	f := &fifoState{retrieved: make(chan struct{})}
	return &FIFOFuture[T]{Future: fut, f: f}, &FIFOPromise[T]{Promise: pr, f: f}
}

// SetCancel registers a cancellation handle for in-flight work being done
// on this future's behalf. If retrieval has already been acknowledged, the
// handle is invoked immediately (still exactly once overall).
func (f *FIFOFuture[T]) SetCancel(cancel context.CancelFunc) {
	f.f.mu.Lock()
	fired := f.f.fired
	if !fired {
		f.f.cancel = cancel
	}
	f.f.mu.Unlock()

	if fired && cancel != nil {
		cancel()
	}
}

// SetRetrieved acknowledges that the result has been taken. The first call
// triggers the bound cancellation handle, if any, and releases
// WaitForRetrieval; further calls do nothing.
func (f *FIFOFuture[T]) SetRetrieved() {
	f.f.mu.Lock()
	if f.f.fired {
		f.f.mu.Unlock()
		return
	}
	f.f.fired = true
	cancel := f.f.cancel
	f.f.cancel = nil
	close(f.f.retrieved)
	f.f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// WaitForRetrieval blocks until the consumer acknowledges retrieval.
func (p *FIFOPromise[T]) WaitForRetrieval(ctx context.Context) error {
	select {
	case <-p.f.retrieved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrieved reports whether retrieval has been acknowledged.
func (p *FIFOPromise[T]) Retrieved() bool {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	return p.f.fired
}
