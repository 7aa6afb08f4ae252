package conc

import "context"

// Dynvar propagates a value through the dynamic extent of a call chain
// without parameter threading. Bind attaches a value for everything called
// under the returned context; Get resolves the nearest enclosing binding
// of this Dynvar, or reports unbound when no driver in the chain carries
// one. Lookups are keyed by the Dynvar instance's identity, so two Dynvars
// of the same type never observe each other's bindings.
type Dynvar[T any] struct {
	name string
}

// dynvarKey keys context values by Dynvar identity.
type dynvarKey[T any] struct {
	v *Dynvar[T]
}

// NewDynvar creates a dynamic variable. The name is for diagnostics only.
func NewDynvar[T any](name string) *Dynvar[T] {
	return &Dynvar[T]{name: name}
}

// Name returns the diagnostic name the variable was created with.
func (d *Dynvar[T]) Name() string {
	return d.name
}

// Bind returns a context carrying val for this variable. The binding's
// scope is exactly the dynamic extent of use of the returned context,
// independent of lexical nesting; inner Binds shadow outer ones.
func (d *Dynvar[T]) Bind(ctx context.Context, val T) context.Context {
	return context.WithValue(ctx, dynvarKey[T]{v: d}, val)
}

// Get resolves the nearest binding of this variable. An unbound variable
// resolves to (zero, false) rather than failing.
func (d *Dynvar[T]) Get(ctx context.Context) (T, bool) {
	val, ok := ctx.Value(dynvarKey[T]{v: d}).(T)
	return val, ok
}

// GetOr resolves the nearest binding, or returns fallback when unbound.
func (d *Dynvar[T]) GetOr(ctx context.Context, fallback T) T {
	if val, ok := d.Get(ctx); ok {
		return val
	}
	return fallback
}

// Bound runs fn with val bound for the call's dynamic extent.
func (d *Dynvar[T]) Bound(ctx context.Context, val T, fn func(context.Context) error) error {
	return fn(d.Bind(ctx, val))
}
