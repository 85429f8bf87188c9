package explorer

import (
	"context"
	"sync/atomic"
)

const (
	futurePending uint32 = iota
	futureRunning
	futureDone
	futureCancelled
)

// Future is the result of a task submitted using Submit or SubmitNow.
type Future[T any] struct {
	x     *Executor
	value T
	err   error
	done  chan struct{}
	state atomic.Uint32
}

// Submit behaves like Executor.Execute, but for a task with a result,
// returned via the Future. A panic from fn results in a *TaskError.
func Submit[T any](x *Executor, fn func() (T, error), fences ...Fence) (*Future[T], error) {
	f, task, err := newFuture(x, fn)
	if err != nil {
		return nil, err
	}
	if err := x.Execute(task, fences...); err != nil {
		return nil, err
	}
	return f, nil
}

// SubmitNow behaves like Executor.ExecuteNow, but for a task with a result,
// see Submit.
func SubmitNow[T any](x *Executor, fn func() (T, error), fences ...Fence) (*Future[T], error) {
	f, task, err := newFuture(x, fn)
	if err != nil {
		return nil, err
	}
	if err := x.ExecuteNow(task, fences...); err != nil {
		return nil, err
	}
	return f, nil
}

func newFuture[T any](x *Executor, fn func() (T, error)) (*Future[T], func(), error) {
	if fn == nil {
		return nil, nil, ErrNilTask
	}
	f := &Future[T]{x: x, done: make(chan struct{})}
	return f, func() {
		if !f.state.CompareAndSwap(futurePending, futureRunning) {
			return
		}
		var ok bool
		defer func() {
			if ok {
				return
			}
			// propagates, to be logged by the walker
			r := recover()
			err := &TaskError{Value: r, Track: -1}
			if w := x.currentWalker(); w != nil {
				err.Track = w.track
				if w.current != nil {
					err.Sequence = w.current.seq
				}
			}
			f.err = err
			f.complete(futureDone)
			panic(r)
		}()
		f.value, f.err = fn()
		ok = true
		f.complete(futureDone)
	}, nil
}

func (f *Future[T]) complete(state uint32) {
	f.state.Store(state)
	close(f.done)
}

// Get waits for the result, returning early if the context is done, or with
// ErrAbandoned, if the executor terminated without running the task.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-f.x.Done():
		select {
		case <-f.done:
			return f.value, f.err
		default:
		}
		var zero T
		return zero, ErrAbandoned
	}
}

// Done returns a channel that is closed once the task has completed, or been
// cancelled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Cancel prevents the task from running, returning false if it has already
// started (or been cancelled). The task still occupies its place in the
// queue, but is skipped when reached.
func (f *Future[T]) Cancel() bool {
	if !f.state.CompareAndSwap(futurePending, futureCancelled) {
		return false
	}
	f.err = ErrCancelled
	close(f.done)
	return true
}

// Cancelled reports whether Cancel succeeded.
func (f *Future[T]) Cancelled() bool {
	return f.state.Load() == futureCancelled
}
