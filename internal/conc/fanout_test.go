package conc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeNReturnsOrderedResults(t *testing.T) {
	ctx := context.Background()

	results, err := MakeN(ctx, 8, func(ctx context.Context, i int) (int, error) {
		return i * i, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 8)
	for i, val := range results {
		assert.Equal(t, i*i, val)
	}
}

func TestMakeNZero(t *testing.T) {
	results, err := MakeN(context.Background(), 0, func(ctx context.Context, i int) (int, error) {
		t.Fatal("should not be called")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMakeNCancelsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	var cancelled atomic.Int32
	_, err := MakeN(ctx, 6, func(ctx context.Context, i int) (int, error) {
		if i == 0 {
			return 0, boom
		}
		// The siblings park until the first failure cancels them.
		<-ctx.Done()
		cancelled.Add(1)
		return 0, ctx.Err()
	})

	assert.ErrorIs(t, err, boom, "the first failure is surfaced, not a cancellation")
	assert.Equal(t, int32(5), cancelled.Load())
}

func TestRunAll(t *testing.T) {
	ctx := context.Background()

	fns := []func(ctx context.Context) (string, error){
		func(ctx context.Context) (string, error) { return "a", nil },
		func(ctx context.Context) (string, error) { return "b", nil },
		func(ctx context.Context) (string, error) { return "c", nil },
	}

	results, err := RunAll(ctx, fns)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, results)
}

func TestRunAllPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	fns := []func(ctx context.Context) (int, error){
		func(ctx context.Context) (int, error) { return 1, nil },
		func(ctx context.Context) (int, error) { return 0, boom },
	}

	_, err := RunAll(context.Background(), fns)
	assert.ErrorIs(t, err, boom)
}
