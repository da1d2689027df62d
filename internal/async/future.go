// Package async provides the completion primitive behind every public
// datastore and key-value operation: a Future that a caller can await,
// paired with an optional callback. Both are fed by a single completion.
package async

import (
	"context"
	"fmt"
	"sync"
)

// Callback receives the outcome of an asynchronous operation.
// A nil Callback is allowed everywhere one is accepted.
type Callback[T any] func(T, error)

// Future is the eventual result of an asynchronous operation.
//
// Thread-safety: all methods are safe for concurrent use.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	cb   Callback[T]

	// val and err are written once, before done is closed.
	val T
	err error
}

// New creates an unresolved future that will invoke cb when completed.
func New[T any](cb Callback[T]) *Future[T] {
	return &Future[T]{done: make(chan struct{}), cb: cb}
}

// Go runs fn on a new goroutine and completes the returned future with
// its result.
//
// fn receives a context that keeps ctx's values but not its cancellation:
// the work finishes on its own schedule even if the caller stops waiting.
// A panic in fn completes the future with an error.
func Go[T any](ctx context.Context, cb Callback[T], fn func(ctx context.Context) (T, error)) *Future[T] {
	f := New(cb)
	work := context.WithoutCancel(ctx)
	go func() {
		var (
			val T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				val, err = zero, fmt.Errorf("async operation panicked: %v", r)
			}
			f.Complete(val, err)
		}()
		val, err = fn(work)
	}()
	return f
}

// Resolved returns a future already completed with val and err. The
// callback, if any, runs before Resolved returns.
func Resolved[T any](cb Callback[T], val T, err error) *Future[T] {
	f := New(cb)
	f.Complete(val, err)
	return f
}

// Complete resolves the future and then invokes the callback. Only the first
// call has any effect; it reports whether this call resolved the future.
func (f *Future[T]) Complete(val T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
		completed = true
	})
	if completed && f.cb != nil {
		f.cb(val, err)
	}
	return completed
}

// Done returns a channel closed when the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx is done. Abandoning the
// wait does not cancel the underlying operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while the
// future is unresolved.
func (f *Future[T]) Result() (val T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}
