package tally

import (
	"context"
	"sync"
)

// Future is a write-once asynchronous result.
// It resolves exactly once, either to a value or to an error.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// Promise is the write side of a Future.
type Promise[T any] struct {
	future *Future[T]
}

// NewPromise creates an unresolved promise.
func NewPromise[T any]() Promise[T] {
	return Promise[T]{future: &Future[T]{done: make(chan struct{})}}
}

// Future returns the read side of the promise.
func (p Promise[T]) Future() *Future[T] {
	return p.future
}

// Succeed resolves the promise with v. It reports false if the promise was already resolved.
func (p Promise[T]) Succeed(v T) bool {
	return p.future.resolve(v, nil)
}

// Fail resolves the promise with err. It reports false if the promise was already resolved.
func (p Promise[T]) Fail(err error) bool {
	var zero T
	return p.future.resolve(zero, err)
}

func (f *Future[T]) resolve(v T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Failed returns a future already resolved with err.
func Failed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.Fail(err)
	return p.Future()
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the future resolves.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// Wait blocks until the future resolves or ctx ends.
// Abandoning the wait does not cancel the work behind the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then chains next after f. The returned future fails with f's error,
// or resolves with the outcome of the future next returns.
func Then[T, U any](f *Future[T], next func(T) *Future[U]) *Future[U] {
	p := NewPromise[U]()
	go func() {
		v, err := f.Get()
		if err != nil {
			p.Fail(err)
			return
		}
		u, err := next(v).Get()
		if err != nil {
			p.Fail(err)
			return
		}
		p.Succeed(u)
	}()
	return p.Future()
}
