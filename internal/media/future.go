package media

import (
	"context"
	"sync"

	"github.com/keagan/reelcut/internal/session"
)

// Future is the result of an asynchronous handle transition. Continuations
// registered with Then run on the session loop, and are posted before Done is
// closed so a waiter never observes a result whose continuations are missing.
type Future[T any] struct {
	disp session.Dispatcher
	done chan struct{}

	mu       sync.Mutex
	resolved bool
	val      T
	err      error
	thens    []func(T, error)
}

func newFuture[T any](disp session.Dispatcher) *Future[T] {
	return &Future[T]{
		disp: disp,
		done: make(chan struct{}),
	}
}

// Resolved returns a future that already holds v and err.
func Resolved[T any](disp session.Dispatcher, v T, err error) *Future[T] {
	f := newFuture[T](disp)
	f.resolve(v, err)
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.val, f.err = v, err
	thens := f.thens
	f.thens = nil
	f.mu.Unlock()

	for _, fn := range thens {
		fn := fn
		f.disp.Post(func() { fn(v, err) })
	}
	close(f.done)
}

// Then registers fn to run on the loop once the future resolves.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if f.resolved {
		v, err := f.val, f.err
		f.mu.Unlock()
		f.disp.Post(func() { fn(v, err) })
		return
	}
	f.thens = append(f.thens, fn)
	f.mu.Unlock()
}

// Done is closed once the future has resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
