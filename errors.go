package explorer

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNilTask is returned when a nil task is passed to Execute or Submit.
	ErrNilTask = errors.New("explorer: nil task")

	// ErrNoFences is returned when no fences are passed to Execute or Submit.
	ErrNoFences = errors.New("explorer: at least one fence is required")

	// ErrNilFence is returned when one of the provided fences is nil.
	ErrNilFence = errors.New("explorer: nil fence")

	// ErrInvalidFence is returned when a fence cannot be hashed, e.g. because
	// its dynamic type is not comparable.
	ErrInvalidFence = errors.New("explorer: invalid fence")

	// ErrBusFull indicates the bus had no free slot for a publish.
	ErrBusFull = errors.New("explorer: bus is full")

	// ErrClosed indicates the executor no longer accepts work.
	ErrClosed = errors.New("explorer: executor is closed")

	// ErrIllegalState is matched (via errors.Is) by every IllegalStateError.
	ErrIllegalState = errors.New("explorer: illegal state")

	// ErrAbandoned is returned by Future.Get when the executor terminated
	// without running the submission, which is possible only after Close.
	ErrAbandoned = errors.New("explorer: submission abandoned by terminated executor")

	// ErrCancelled is returned by Future.Get after a successful Future.Cancel.
	ErrCancelled = errors.New("explorer: submission cancelled")

	// ErrIndexOutOfRange is returned by Registry methods given an index
	// outside [0, MaxStrategies).
	ErrIndexOutOfRange = errors.New("explorer: strategy index out of range")

	// ErrIndexEmpty is returned by Registry.Execute if the index has no
	// strategy.
	ErrIndexEmpty = errors.New("explorer: no strategy registered at index")

	// ErrIndexOccupied is returned by Registry.Register if the index already
	// has a strategy.
	ErrIndexOccupied = errors.New("explorer: strategy index already registered")
)

// RejectionError is returned by AbortPolicy (and by the other policies when
// they fall through to it), when a task could not be published.
type RejectionError struct {
	// Cause is the reason the publish failed, e.g. ErrBusFull or ErrClosed.
	Cause error
	// Task is the rejected task.
	Task func()
	// Executor identifies the executor, see Executor.String.
	Executor string
	// Fences are the fences the task was submitted with.
	Fences []Fence
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("explorer: task rejected by %s", e.Executor)
	}
	return fmt.Sprintf("explorer: task rejected by %s: %v", e.Executor, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *RejectionError) Unwrap() error {
	return e.Cause
}

// IllegalStateError indicates misuse of the executor lifecycle, e.g. calling
// Shutdown on an executor that is already closing.
type IllegalStateError struct {
	// Op is the attempted operation, e.g. "shutdown" or "close".
	Op string
	// State is the state observed when the operation was attempted.
	State State
}

// Error implements the error interface.
func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("explorer: illegal state for %s: %s", e.Op, e.State)
}

// Is matches ErrIllegalState.
func (e *IllegalStateError) Is(target error) bool {
	return target == ErrIllegalState
}

// TaskError wraps a value recovered from a panicking task.
type TaskError struct {
	// Value is the recovered panic value.
	Value any
	// Track is the track the task ran on, or -1 if it ran on a caller
	// goroutine (i.e. LocalPolicy).
	Track int
	// Sequence is the bus index of the task's node, which is only meaningful
	// for tasks that were published. A Future's TaskError carries the same
	// value as the logged panic.
	Sequence uint64
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("explorer: task panicked on track %d: %v", e.Track, e.Value)
}

// Unwrap returns the panic value, if it is an error, enabling use with
// [errors.Is] and [errors.As].
func (e *TaskError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
