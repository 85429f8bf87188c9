package explorer

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// State represents the lifecycle state of an [Executor].
//
// State Machine:
//
//	StateRunning (0)       → StateGracefulClose (1) [Shutdown()]
//	StateRunning (0)       → StateHardStop (2)      [Close()]
//	StateGracefulClose (1) → StateTerminated (3)    [watcher, once drained]
//	StateHardStop (2)      → StateTerminated (3)    [watcher, immediately]
//	StateTerminated (3)    → (terminal)
//
// Values are ordered: walkers treat any state >= StateHardStop as a request to
// exit, without draining.
type State uint32

const (
	// StateRunning indicates the executor accepts and runs work.
	StateRunning State = iota
	// StateGracefulClose indicates no new work is accepted, and everything
	// already published is being drained.
	StateGracefulClose
	// StateHardStop indicates no new work is accepted, and walkers are
	// exiting without draining.
	StateHardStop
	// StateTerminated indicates all walkers have been told to exit, and
	// termination callbacks are run (or have run).
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateGracefulClose:
		return "GracefulClose"
	case StateHardStop:
		return "HardStop"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state holder, padded onto its own cache line, as
// it is read by every walker on every iteration.
type fastState struct { // betteralign:ignore
	_ cpu.CacheLinePad
	v atomic.Uint32
	_ cpu.CacheLinePad
}

func (s *fastState) Load() State {
	return State(s.v.Load())
}

// Store must only be used for irreversible transitions (StateTerminated).
func (s *fastState) Store(state State) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// CanAcceptWork returns true if new work may be published.
func (s *fastState) CanAcceptWork() bool {
	return s.Load() == StateRunning
}
