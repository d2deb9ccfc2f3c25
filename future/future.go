// Package future implements a minimal single-resolution promise used to
// turn eventually-fired engine callbacks and bus events into awaitable
// results with timeout semantics.
package future

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned by WaitFor when the future is not settled within
// the given duration.
var ErrTimeout = errors.New("future: wait timed out")

// Promise is an exactly-once-settable slot. Resolve and Reject are each
// safe to call multiple times or concurrently; only the first call,
// atomically determined, has effect. The rest are silent no-ops, which is
// the cancellation mechanism for racing an event against a timeout:
// first writer wins, the loser's settle attempt does nothing.
type Promise[T any] struct {
	settled atomic.Bool
	done    chan struct{}

	value T
	err   error
}

// NewPromise returns an unsettled promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve settles the promise with value. It reports whether this call won
// the settlement race.
func (p *Promise[T]) Resolve(value T) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	p.value = value
	close(p.done)
	return true
}

// Reject settles the promise with err. It reports whether this call won
// the settlement race.
func (p *Promise[T]) Reject(err error) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	p.err = err
	close(p.done)
	return true
}

// Settled reports whether the promise has been resolved or rejected.
func (p *Promise[T]) Settled() bool {
	return p.settled.Load()
}

// Future returns the consumer handle for this promise.
func (p *Promise[T]) Future() *Future[T] {
	return &Future[T]{p: p}
}

// Resolved returns an already-resolved future. Used by waiters that
// short-circuit when their condition already holds.
func Resolved[T any](value T) *Future[T] {
	p := NewPromise[T]()
	p.Resolve(value)
	return p.Future()
}

// Future is the read side of a Promise.
type Future[T any] struct {
	p *Promise[T]
}

// Done returns a channel that is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.p.done
}

// Get blocks until the future is settled or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.p.done:
		return f.p.value, f.p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitFor blocks for at most d. It returns ErrTimeout if the future is
// still unsettled when d elapses; the underlying promise may still settle
// later.
func (f *Future[T]) WaitFor(d time.Duration) (T, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-f.p.done:
		return f.p.value, f.p.err
	case <-t.C:
		var zero T
		return zero, ErrTimeout
	}
}

// Settled reports whether the future has a result available.
func (f *Future[T]) Settled() bool {
	return f.p.Settled()
}

// ResolveAfter arms a timer that resolves p with value after d, unless p
// settles first. The timer closure holds the promise itself, so the
// promise stays valid even if the caller's scope has exited. Timers fired
// after the promise settled are no-ops. The returned timer may be stopped
// early, but stopping it is optional.
func ResolveAfter[T any](p *Promise[T], d time.Duration, value T) *time.Timer {
	return time.AfterFunc(d, func() {
		p.Resolve(value)
	})
}

// RejectAfter is ResolveAfter for the rejection path.
func RejectAfter[T any](p *Promise[T], d time.Duration, err error) *time.Timer {
	return time.AfterFunc(d, func() {
		p.Reject(err)
	})
}
