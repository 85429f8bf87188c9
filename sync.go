package explorer

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// testHooks provides injection points for deterministic race testing, in the
// window between a walker deciding to park, and a producer waking it.
type testHooks struct {
	// prePark runs on the walker, after the scan found nothing, before the
	// stamp is validated.
	prePark func(track int)
	// preAcquireWrite runs on the producer, before the stamp is bumped.
	preAcquireWrite func(track int)
}

// synchronizer implements optimistic park/unpark for a single walker.
//
// The walker reads the stamp at the top of each iteration. Before parking it
// marks itself blocked, then re-reads the stamp: any acquireWrite between the
// two reads either changed the stamp (the walker rescans), or observes the
// blocked flag (and delivers a wake permit). Either way no wakeup is lost.
type synchronizer struct { // betteralign:ignore
	_       cpu.CacheLinePad
	stamp   atomic.Uint64
	blocked atomic.Bool
	_       cpu.CacheLinePad
	wake    chan struct{} // one permit
	hooks   *testHooks
	track   int
}

func newSynchronizer(track int, hooks *testHooks) *synchronizer {
	return &synchronizer{
		wake:  make(chan struct{}, 1),
		hooks: hooks,
		track: track,
	}
}

// load returns the current stamp, to be passed to validate.
func (s *synchronizer) load() uint64 {
	return s.stamp.Load()
}

// acquireWrite signals the walker that its inputs changed, unparking it if it
// is (or is about to be) blocked.
func (s *synchronizer) acquireWrite() {
	if s.hooks != nil && s.hooks.preAcquireWrite != nil {
		s.hooks.preAcquireWrite(s.track)
	}
	s.stamp.Add(1)
	if s.blocked.Load() && s.blocked.CompareAndSwap(true, false) {
		s.unpark()
	}
}

// validate marks the walker blocked, returning true if it may park, i.e. the
// stamp is unchanged since it was read.
func (s *synchronizer) validate(stamp uint64) bool {
	if s.hooks != nil && s.hooks.prePark != nil {
		s.hooks.prePark(s.track)
	}
	s.blocked.Store(true)
	if s.stamp.Load() != stamp {
		s.blocked.Store(false)
		return false
	}
	return true
}

// park blocks until a permit is available. A stale permit, from an unpark
// that raced a successful rescan, results in one extra scan.
func (s *synchronizer) park() {
	<-s.wake
	s.blocked.Store(false)
}

func (s *synchronizer) unpark() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
