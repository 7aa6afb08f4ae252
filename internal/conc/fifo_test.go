package conc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFORetrievalTriggersCancelOnce(t *testing.T) {
	fut, _ := NewFIFOFuture[int]()

	var cancels atomic.Int32
	fut.SetCancel(func() { cancels.Add(1) })

	fut.SetRetrieved()
	fut.SetRetrieved() // must not double-cancel

	assert.Equal(t, int32(1), cancels.Load())
}

func TestFIFOSetCancelAfterRetrieval(t *testing.T) {
	fut, _ := NewFIFOFuture[int]()

	fut.SetRetrieved()

	// A handle registered late still fires, exactly once.
	var cancels atomic.Int32
	fut.SetCancel(func() { cancels.Add(1) })
	fut.SetRetrieved()

	assert.Equal(t, int32(1), cancels.Load())
}

func TestFIFOWaitForRetrieval(t *testing.T) {
	ctx := context.Background()
	fut, pr := NewFIFOFuture[string]()

	require.NoError(t, pr.Send("result"))

	waited := make(chan error, 1)
	go func() { waited <- pr.WaitForRetrieval(ctx) }()

	select {
	case err := <-waited:
		t.Fatalf("WaitForRetrieval returned before SetRetrieved: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	val, err := fut.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "result", val)
	fut.SetRetrieved()

	require.NoError(t, <-waited)
	assert.True(t, pr.Retrieved())
}

func TestFIFOWaitForRetrievalCancellation(t *testing.T) {
	_, pr := NewFIFOFuture[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, pr.WaitForRetrieval(ctx), context.DeadlineExceeded)
}

func TestFIFODoubleFulfillment(t *testing.T) {
	_, pr := NewFIFOFuture[int]()

	require.NoError(t, pr.Send(1))
	assert.ErrorIs(t, pr.Send(2), ErrAlreadyFulfilled)
}

func TestFIFOCancelStopsProducer(t *testing.T) {
	fut, pr := NewFIFOFuture[int]()

	// Producer works under a scope bound to the future.
	workCtx, cancel := context.WithCancel(context.Background())
	fut.SetCancel(cancel)

	producerStopped := make(chan struct{})
	go func() {
		defer close(producerStopped)
		<-workCtx.Done()
	}()

	require.NoError(t, pr.Send(99))
	val, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99, val)

	// The consumer takes the value; redundant producer work stops.
	fut.SetRetrieved()

	select {
	case <-producerStopped:
	case <-time.After(time.Second):
		t.Fatal("producer work was not cancelled after retrieval")
	}
}
