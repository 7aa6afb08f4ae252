package conc

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MakeN calls fn count times in parallel and returns all results in index
// order. If any call fails, the remaining calls are cancelled through
// their context and the first failure is returned. A failed or cancelled
// call must release anything it partially created before returning; MakeN
// discards the partial results slice wholesale.
func MakeN[T any](ctx context.Context, count int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	results := make([]T, count)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			val, err := fn(ctx, i)
			if err != nil {
				return err
			}
			results[i] = val
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunAll calls every function in parallel and returns all results in
// input order, cancelling the rest on the first failure.
func RunAll[T any](ctx context.Context, fns []func(ctx context.Context) (T, error)) ([]T, error) {
	return MakeN(ctx, len(fns), func(ctx context.Context, i int) (T, error) {
		return fns[i](ctx)
	})
}
