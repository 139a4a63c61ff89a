package common

import (
	"context"
	"sync"
)

// Future is the pending result of an asynchronous operation.
// It is resolved exactly once, either with a value or with an error.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already resolved with v.
func Completed[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v)
	return f
}

// Failed returns a future already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Fail(err)
	return f
}

// Complete resolves the future with v. It reports false if the future was already resolved.
func (f *Future[T]) Complete(v T) bool {
	return f.resolve(v, nil)
}

// Fail resolves the future with err. It reports false if the future was already resolved.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.resolve(zero, err)
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

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get waits for the result or for ctx to be done.
// Giving up on ctx does not cancel the underlying operation.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err returns the failure of a resolved future, nil while pending or on success.
func (f *Future[T]) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// All resolves with the values of every future in input order once all of them succeed.
// It fails as soon as any one of them fails; futures that already succeeded keep their effects.
func All[T any](futures []*Future[T]) *Future[[]T] {
	res := NewFuture[[]T]()
	if len(futures) == 0 {
		res.Complete([]T{})
		return res
	}
	var (
		mu      sync.Mutex
		pending = len(futures)
		values  = make([]T, len(futures))
	)
	for i, f := range futures {
		go func(i int, f *Future[T]) {
			<-f.done
			if f.err != nil {
				res.Fail(f.err)
				return
			}
			mu.Lock()
			values[i] = f.value
			pending--
			last := pending == 0
			mu.Unlock()
			if last {
				res.Complete(values)
			}
		}(i, f)
	}
	return res
}

// Map resolves with fn applied to the value of f, or with the failure of either.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	res := NewFuture[U]()
	go func() {
		<-f.done
		if f.err != nil {
			res.Fail(f.err)
			return
		}
		v, err := fn(f.value)
		if err != nil {
			res.Fail(err)
			return
		}
		res.Complete(v)
	}()
	return res
}

// Discard maps a future to a value-less one carrying only its outcome.
func Discard[T any](f *Future[T]) *Future[struct{}] {
	res := NewFuture[struct{}]()
	go func() {
		<-f.done
		if f.err != nil {
			res.Fail(f.err)
			return
		}
		res.Complete(struct{}{})
	}()
	return res
}
