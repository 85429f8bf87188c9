package explorer

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type (
	// RejectionHandler decides the outcome of a task that could not be
	// published, see WithRejectionHandler. The returned error is returned by
	// Execute (or Submit), and nil indicates the task was handled.
	RejectionHandler interface {
		Rejected(r *Rejection) error
	}

	// RejectionHandlerFunc implements RejectionHandler.
	RejectionHandlerFunc func(r *Rejection) error

	// Rejection describes a failed publish.
	Rejection struct {
		// Executor is the executor that rejected the task.
		Executor *Executor
		// Task is the rejected task.
		Task func()
		// Cause is ErrBusFull, or ErrClosed, updated by each failed Retry.
		Cause error
		// Fences are the task's fences, which must not be modified.
		Fences []Fence

		node *node
	}

	// AbortPolicy rejects the task, returning a *RejectionError. This is the
	// default policy.
	AbortPolicy struct{}

	// BlockPolicy retries the publish, with exponential backoff, until it
	// succeeds, the executor stops accepting work, or Context is done.
	//
	// Blocking within a task would risk deadlock (the bus may be full of
	// work for the calling track), so rejections on a walker goroutine go
	// straight to Fallback, as do rejections due to a closed executor.
	BlockPolicy struct {
		// Context bounds the wait, and may be nil.
		Context context.Context
		// Fallback handles rejections that won't be retried, defaulting to
		// AbortPolicy.
		Fallback RejectionHandler
		// BackOff returns the backoff strategy for a single rejection,
		// defaulting to an unbounded exponential backoff, between
		// 50 microseconds and 10 milliseconds.
		BackOff func() backoff.BackOff
	}

	// LocalPolicy runs the task synchronously, on the caller's goroutine,
	// recovering (and logging) any panic.
	//
	// WARNING: This bypasses fence serialization entirely. The task may run
	// concurrently with other tasks sharing its fences. Rejections due to a
	// closed executor are still aborted.
	LocalPolicy struct{}
)

var (
	_ RejectionHandler = RejectionHandlerFunc(nil)
	_ RejectionHandler = AbortPolicy{}
	_ RejectionHandler = BlockPolicy{}
	_ RejectionHandler = LocalPolicy{}
)

func (f RejectionHandlerFunc) Rejected(r *Rejection) error { return f(r) }

// Retry attempts to publish the task again, returning nil on success, or the
// new cause.
func (r *Rejection) Retry() error {
	err := r.Executor.tryPublish(r.node)
	if err != nil {
		r.Cause = err
	}
	return err
}

// Err returns a *RejectionError describing the rejection.
func (r *Rejection) Err() *RejectionError {
	return &RejectionError{
		Cause:    r.Cause,
		Task:     r.Task,
		Executor: r.Executor.String(),
		Fences:   slices.Clone(r.Fences),
	}
}

func (AbortPolicy) Rejected(r *Rejection) error {
	return r.Err()
}

func (x BlockPolicy) Rejected(r *Rejection) error {
	if errors.Is(r.Cause, ErrClosed) || r.Executor.OnWalker() {
		return x.fallback().Rejected(r)
	}

	ctx := x.Context
	if ctx == nil {
		ctx = context.Background()
	}

	err := backoff.Retry(func() error {
		err := r.Retry()
		if err == nil || errors.Is(err, ErrBusFull) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(x.newBackOff(), ctx))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrClosed):
		return x.fallback().Rejected(r)
	default:
		r.Cause = err
		return r.Err()
	}
}

func (x BlockPolicy) fallback() RejectionHandler {
	if x.Fallback != nil {
		return x.Fallback
	}
	return AbortPolicy{}
}

func (x BlockPolicy) newBackOff() backoff.BackOff {
	if x.BackOff != nil {
		return x.BackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

func (LocalPolicy) Rejected(r *Rejection) error {
	if errors.Is(r.Cause, ErrClosed) {
		return r.Err()
	}
	func() {
		defer func() {
			if v := recover(); v != nil {
				r.Executor.logTaskPanic(&TaskError{Value: v, Track: -1})
			}
		}()
		r.Task()
	}()
	return nil
}
