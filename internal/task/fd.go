package task

import (
	"fmt"
	"sync"
)

// FD is an owned handle to one descriptor inside one task's table. A given
// descriptor has exactly one live handle; Move and Close invalidate it, and
// every later use fails with ErrClosed.
type FD struct {
	mu    sync.Mutex
	owner Task
	raw   int
	open  bool
}

// NewFD wraps a raw descriptor number owned by t. The caller asserts t's
// table actually holds raw.
func NewFD(t Task, raw int) *FD {
	return &FD{owner: t, raw: raw, open: true}
}

// Raw returns the descriptor number, or ErrClosed after Move or Close.
func (f *FD) Raw() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return -1, ErrClosed
	}
	return f.raw, nil
}

// Valid reports whether the handle still owns its descriptor.
func (f *FD) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Owner returns the task whose table holds the descriptor.
func (f *FD) Owner() Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

// Move transfers ownership to another task sharing the same descriptor
// table. The original handle is invalidated and a fresh handle owned by
// to is returned. No syscall happens: both tables are the same table, so
// the number is already valid there.
func (f *FD) Move(to Task) (*FD, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil, ErrClosed
	}
	if f.owner.FDTable() != to.FDTable() {
		return nil, ErrDifferentTable
	}
	f.open = false
	return NewFD(to, f.raw), nil
}

// invalidate marks the handle dead without closing the descriptor. Used
// when the descriptor's fate is decided elsewhere, e.g. after its number
// has been passed to another table.
func (f *FD) invalidate() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return -1, ErrClosed
	}
	f.open = false
	return f.raw, nil
}

func (f *FD) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return "fd(closed)"
	}
	return fmt.Sprintf("fd(%d@%s)", f.raw, f.owner.ID())
}
