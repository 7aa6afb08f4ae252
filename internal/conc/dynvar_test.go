package conc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynvarBindAndGet(t *testing.T) {
	ctx := context.Background()
	v := NewDynvar[string]("greeting")

	_, ok := v.Get(ctx)
	assert.False(t, ok, "unbound variable resolves to absent, not an error")

	bound := v.Bind(ctx, "hello")
	val, ok := v.Get(bound)
	require.True(t, ok)
	assert.Equal(t, "hello", val)

	// The original context is untouched.
	_, ok = v.Get(ctx)
	assert.False(t, ok)
}

func TestDynvarShadowing(t *testing.T) {
	ctx := context.Background()
	v := NewDynvar[int]("depth")

	outer := v.Bind(ctx, 1)
	inner := v.Bind(outer, 2)

	val, ok := v.Get(inner)
	require.True(t, ok)
	assert.Equal(t, 2, val)

	// Leaving the inner extent restores the outer binding.
	val, ok = v.Get(outer)
	require.True(t, ok)
	assert.Equal(t, 1, val)
}

func TestDynvarIdentity(t *testing.T) {
	ctx := context.Background()

	// Two variables of the same type never observe each other's bindings.
	a := NewDynvar[int]("a")
	b := NewDynvar[int]("b")

	ctx = a.Bind(ctx, 10)

	_, ok := b.Get(ctx)
	assert.False(t, ok)

	val, ok := a.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, 10, val)
}

func TestDynvarGetOr(t *testing.T) {
	ctx := context.Background()
	v := NewDynvar[int]("limit")

	assert.Equal(t, 64, v.GetOr(ctx, 64))
	assert.Equal(t, 8, v.GetOr(v.Bind(ctx, 8), 64))
}

func TestDynvarBound(t *testing.T) {
	v := NewDynvar[string]("phase")

	err := v.Bound(context.Background(), "setup", func(ctx context.Context) error {
		val, ok := v.Get(ctx)
		require.True(t, ok)
		assert.Equal(t, "setup", val)
		return nil
	})
	require.NoError(t, err)
}

func TestDynvarName(t *testing.T) {
	v := NewDynvar[int]("retries")
	assert.Equal(t, "retries", v.Name())
}
