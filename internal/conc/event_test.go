package conc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()

	const failures = 3
	const waiters = 6

	var (
		attempts  atomic.Int32
		inAction  atomic.Int32
		errorsGot atomic.Int32
	)
	ev := NewEvent(func(context.Context) error {
		assert.Equal(t, int32(1), inAction.Add(1), "action run by two waiters concurrently")
		defer inAction.Add(-1)

		n := attempts.Add(1)
		if n <= failures {
			return fmt.Errorf("attempt %d failed", n)
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// A waiter whose attempt failed sees the error itself; it
			// re-waits, like any caller that still needs the event.
			for {
				err := ev.Wait(ctx)
				if err == nil {
					return
				}
				errorsGot.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.True(t, ev.Done())
	assert.Equal(t, int32(failures+1), attempts.Load())
	// Every failure was delivered to exactly one waiter, never dropped.
	assert.Equal(t, int32(failures), errorsGot.Load())
}

func TestEventDoneShortCircuits(t *testing.T) {
	ctx := context.Background()

	var attempts atomic.Int32
	ev := NewEvent(func(context.Context) error {
		attempts.Add(1)
		return nil
	})

	require.NoError(t, ev.Wait(ctx))
	require.True(t, ev.Done())

	// Further waiters return without running the action again.
	for i := 0; i < 4; i++ {
		require.NoError(t, ev.Wait(ctx))
	}
	assert.Equal(t, int32(1), attempts.Load())
}

func TestEventFailureGoesToAttemptingWaiterOnly(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("boom")
	release := make(chan error, 1)
	ev := NewEvent(func(context.Context) error {
		return <-release
	})

	// First waiter leads and blocks inside the action.
	leaderErr := make(chan error, 1)
	go func() { leaderErr <- ev.Wait(ctx) }()

	// Second waiter follows; once the leader's attempt fails it loops and
	// leads the next attempt itself.
	followerErr := make(chan error, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		err := ev.Wait(ctx)
		for err != nil && !errors.Is(err, boom) {
			err = ev.Wait(ctx)
		}
		followerErr <- err
	}()

	time.Sleep(30 * time.Millisecond)
	release <- boom // delivered to the first attempt only
	release <- nil  // the follower's own attempt succeeds
	assert.ErrorIs(t, <-leaderErr, boom)
	assert.NoError(t, <-followerErr)
	assert.True(t, ev.Done())
}

func TestEventWaiterCancellation(t *testing.T) {
	ev := NewEvent(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ev.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ev.Done(), "cancelled attempt must not set the flag")
}
