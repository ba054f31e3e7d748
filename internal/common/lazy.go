// lazy.go - Single-flight lazily initialised values

package common

import (
	"context"
	"fmt"
	"sync"
)

// Lazy runs its loader at most once per process. Every caller, including
// callers that arrive while the load is in flight, shares the same result.
// Errors are memoized too: a failed load is never retried.
type Lazy[T any] struct {
	load  func(ctx context.Context) (T, error)
	start sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewLazy creates a Lazy around load.
func NewLazy[T any](load func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{
		load: load,
		done: make(chan struct{}),
	}
}

// Get returns the loaded value, starting the load on first use. The load
// itself is detached from ctx cancellation so that one caller giving up does
// not fail the load for everyone else; ctx only bounds how long this caller waits.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.start.Do(func() {
		loadCtx := context.WithoutCancel(ctx)
		go func() {
			defer close(l.done)
			defer func() {
				if r := recover(); r != nil {
					l.err = fmt.Errorf("lazy load panicked: %v", r)
				}
			}()
			l.value, l.err = l.load(loadCtx)
		}()
	})

	select {
	case <-l.done:
		return l.value, l.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Loaded reports whether the load has completed (successfully or not).
func (l *Lazy[T]) Loaded() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
