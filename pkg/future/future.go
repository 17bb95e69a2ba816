// Package future provides the cooperative-suspension primitive the
// collection blocks on at its documented suspension points: realization
// of a channel, get_bound_or_remoted(wait=true), wait_if_pending_alias,
// and alias-reservation promises. Modeled on hashicorp/raft's
// Future/ApplyFuture: a value is produced exactly once, from exactly one
// goroutine, and any number of callers may block on it concurrently.
package future

import "context"

// Future resolves to a single value of type T, set exactly once via
// Resolve. Wait may be called from multiple goroutines and will all
// observe the same value.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// New returns an unresolved Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already-resolved Future, for call sites that have
// the value synchronously and still want to hand back the Future[T] seam.
func Resolved[T any](val T, err error) *Future[T] {
	f := New[T]()
	f.Resolve(val, err)
	return f
}

// Resolve sets the future's value and wakes every blocked Wait call.
// Calling Resolve a second time is a no-op: the first value wins.
func (f *Future[T]) Resolve(val T, err error) {
	select {
	case <-f.done:
		return
	default:
	}
	f.val = val
	f.err = err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is done, whichever comes
// first. A context cancellation does not resolve the future for other
// waiters.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the future has resolved, without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
