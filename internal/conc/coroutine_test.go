package conc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoroutineRunsToCompletion(t *testing.T) {
	ctx := context.Background()

	steps := 0
	co := NewCoroutine(func(ctx context.Context, interrupted error) (bool, error) {
		steps++
		return steps == 3, nil
	})

	assert.Equal(t, StateIdle, co.State())
	require.NoError(t, co.Run(ctx))
	assert.Equal(t, StateCompleted, co.State())
	assert.Equal(t, 3, steps)

	result, ok := co.Result()
	assert.True(t, ok)
	assert.NoError(t, result)
}

func TestCoroutineSuspendsAndResumes(t *testing.T) {
	// The routine counts units of work; cancelling the first drive mid-unit
	// must pause it with its position intact, not restart it.
	position := 0
	var replayed error
	co := NewCoroutine(func(ctx context.Context, interrupted error) (bool, error) {
		if interrupted != nil {
			// The captured cancellation arrives in the routine's own
			// context on resume; this routine absorbs it and continues.
			replayed = interrupted
		}
		if position == 1 && interrupted == nil {
			// Second unit blocks until the drive is cancelled.
			<-ctx.Done()
			return false, ctx.Err()
		}
		position++
		return position == 3, nil
	})

	driveCtx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := co.Run(driveCtx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateSuspended, co.State())
	assert.Equal(t, 1, position, "internal position must be preserved")

	// Resume under a fresh scope: the captured cancellation is replayed
	// exactly once, then the routine finishes.
	require.NoError(t, co.Run(context.Background()))
	assert.Equal(t, StateCompleted, co.State())
	assert.ErrorIs(t, replayed, context.Canceled)
	assert.Equal(t, 3, position)
}

func TestCoroutineReplayHappensOnce(t *testing.T) {
	interruptions := 0
	co := NewCoroutine(func(ctx context.Context, interrupted error) (bool, error) {
		if interrupted != nil {
			interruptions++
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return interruptions > 0, nil
	})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	// First unit observes the already-cancelled drive mid-unit.
	require.ErrorIs(t, co.Run(cancelled), context.Canceled)
	require.Equal(t, StateSuspended, co.State())

	require.NoError(t, co.Run(context.Background()))
	assert.Equal(t, 1, interruptions)
}

func TestCoroutineSuspendBetweenUnits(t *testing.T) {
	driveCtx, cancel := context.WithCancel(context.Background())

	units := 0
	co := NewCoroutine(func(ctx context.Context, interrupted error) (bool, error) {
		assert.NoError(t, interrupted, "no unit was interrupted, nothing to replay")
		units++
		if units == 1 {
			cancel() // the enclosing scope goes away between units
		}
		return units == 2, nil
	})

	require.ErrorIs(t, co.Run(driveCtx), context.Canceled)
	assert.Equal(t, StateSuspended, co.State())
	assert.Equal(t, 1, units)

	require.NoError(t, co.Run(context.Background()))
	assert.Equal(t, 2, units)
}

func TestCoroutineCompletionWinsOverCancellation(t *testing.T) {
	driveCtx, cancel := context.WithCancel(context.Background())

	co := NewCoroutine(func(ctx context.Context, interrupted error) (bool, error) {
		cancel() // cancellation races natural completion
		return true, nil
	})

	// The guard keeps the race from surfacing as failure.
	require.NoError(t, co.Run(driveCtx))
	assert.Equal(t, StateCompleted, co.State())
}

func TestCoroutineErrorCompletes(t *testing.T) {
	boom := errors.New("boom")
	co := NewCoroutine(func(ctx context.Context, interrupted error) (bool, error) {
		return false, boom
	})

	require.ErrorIs(t, co.Run(context.Background()), boom)
	assert.Equal(t, StateCompleted, co.State())

	// A completed coroutine's outcome is stable.
	assert.ErrorIs(t, co.Run(context.Background()), boom)
}

func TestCoroutineSingleDriver(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	co := NewCoroutine(func(ctx context.Context, interrupted error) (bool, error) {
		close(entered)
		<-release
		return true, nil
	})

	done := make(chan error, 1)
	go func() { done <- co.Run(context.Background()) }()
	<-entered

	assert.ErrorIs(t, co.Run(context.Background()), ErrCoroutineBusy)

	close(release)
	require.NoError(t, <-done)
}
