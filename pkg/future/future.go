// Package future provides the asynchronous result primitive used by every
// estream client operation.
//
// A Future[T] is completed exactly once, either with a value (Complete) or
// with an error (Fail). Waiters can block on Get, select on Done, or attach
// a completion callback with WhenComplete. Completion is idempotent: the
// first Complete/Fail wins and later calls are no-ops, which lets a retry
// loop and a timeout race to resolve the same future safely.
package future

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Executor runs submitted callbacks on its own workers.
// internal/worker.Pool is the canonical implementation. Submit reports
// whether the callback was accepted (a closed executor drops it).
type Executor interface {
	Submit(fn func()) bool
}

// Future is a single-assignment asynchronous result.
// The zero value is not usable; construct with New, Completed, or Failed.
type Future[T any] struct {
	mu   sync.Mutex
	done chan struct{}
	val  T
	err  error
}

// New returns an incomplete Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a Future already resolved with v.
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Failed returns a Future already resolved with err.
// It is used to synthesize failures for methods that must keep an
// asynchronous signature even when they can reject immediately.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Complete resolves the future with v.
// Reports whether this call won the resolution race.
func (f *Future[T]) Complete(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return false
	default:
	}
	f.val = v
	close(f.done)
	return true
}

// Fail resolves the future with err.
// Reports whether this call won the resolution race.
func (f *Future[T]) Fail(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return false
	default:
	}
	f.err = err
	close(f.done)
	return true
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has been resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future resolves or ctx is cancelled.
// On cancellation the future itself stays unresolved; only this waiter
// gives up.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WhenComplete arranges for fn to run with the resolved value once the
// future completes. When exec is non-nil and accepting work the callback is
// handed to it; otherwise fn runs on the waiting goroutine. fn runs exactly
// once.
func (f *Future[T]) WhenComplete(exec Executor, fn func(v T, err error)) {
	go func() {
		<-f.done
		if exec == nil {
			fn(f.val, f.err)
			return
		}
		if !exec.Submit(func() { fn(f.val, f.err) }) {
			// The executor stopped accepting work (pool closed). Run the
			// callback on this waiter goroutine instead; a completion must
			// never be dropped or its outer future would hang forever.
			fn(f.val, f.err)
		}
	}()
}

// Pipe resolves dst with the eventual outcome of src.
func Pipe[T any](src *Future[T], dst *Future[T]) {
	src.WhenComplete(nil, func(v T, err error) {
		if err != nil {
			dst.Fail(err)
			return
		}
		dst.Complete(v)
	})
}

// Suppress runs fn and contains any panic: the failure is logged at error
// level and discarded, never reaching the caller. Continuation logic for
// asynchronous completions is always wrapped in Suppress so a broken
// callback cannot take down a worker.
func Suppress(logger *zap.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("suppressed callback panic", zap.Any("panic", r), zap.Stack("stack"))
			}
		}
	}()
	fn()
}
