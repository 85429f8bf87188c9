package explorer

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// walker is the worker for a single track. The bus cursor, and the barrier
// and cache lists, are owned by the walker goroutine. Everything else is
// shared with the watcher, and Stats, via atomics.
type walker struct {
	x    *Executor
	sync *synchronizer

	// barriers are multi-track nodes this track arrived at first, which are
	// run by another track. Nodes overlapping any barrier are held back.
	barriers []*node
	// cache are nodes read from the bus, in bus order, which couldn't yet
	// proceed, as they overlapped a barrier or an earlier cache entry.
	cache []*node

	cursor uint64
	track  int
	bit    uint64

	// current is the node running on the walker goroutine, including inline
	// runs, and is only accessed by that goroutine.
	current *node

	gid        atomic.Uint64 // walker goroutine, 0 if not running
	started    atomic.Int64  // unix nanos of the running task's start, 0 if idle
	runningSeq atomic.Uint64

	completed  atomic.Uint64 // nodes run
	inline     atomic.Uint64 // tasks run inline, via ExecuteNow
	parks      atomic.Uint64
	panics     atomic.Uint64
	stalls     atomic.Uint64
	position   atomic.Uint64 // mirror of cursor
	barrierLen atomic.Int32
	cacheLen   atomic.Int32

	latencyMu sync.Mutex
	latency   *latencyRecorder // nil unless metrics are enabled
}

func newWalker(x *Executor, track int) *walker {
	w := &walker{
		x:     x,
		sync:  newSynchronizer(track, x.opts.hooks),
		track: track,
		bit:   1 << uint(track),
	}
	if x.opts.metrics {
		w.latency = newLatencyRecorder()
	}
	return w
}

func (w *walker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	x := w.x
	defer x.wg.Done()

	w.gid.Store(getGoroutineID())
	defer w.gid.Store(0)

	x.logger.Debug().Int(`track`, w.track).Log(`explorer: walker started`)
	defer x.logger.Debug().Int(`track`, w.track).Log(`explorer: walker stopped`)

	for {
		// must be read before anything the termination check or poll reads
		stamp := w.sync.load()

		if w.done() {
			return
		}

		if n := w.poll(); n != nil {
			w.execute(n)
			continue
		}

		w.position.Store(w.cursor)
		w.barrierLen.Store(int32(len(w.barriers)))
		w.cacheLen.Store(int32(len(w.cache)))

		if !w.sync.validate(stamp) {
			continue
		}
		w.parks.Add(1)
		w.sync.park()
	}
}

// done is the termination check. A graceful close only ends the loop once
// everything up to the bus limit has been read, and nothing is held back.
func (w *walker) done() bool {
	switch w.x.state.Load() {
	case StateRunning:
		return false
	case StateGracefulClose:
		limit := w.x.bus.limit.Load()
		return limit != noLimit &&
			w.cursor >= limit &&
			len(w.cache) == 0 &&
			len(w.barriers) == 0
	default:
		return true
	}
}

// poll returns the next node to run on this track, or nil if there is none.
func (w *walker) poll() *node {
	w.purgeBarriers()
	if n := w.pollCache(); n != nil {
		return n
	}
	return w.pollBus()
}

// purgeBarriers drops barriers that have since been released.
func (w *walker) purgeBarriers() {
	w.barriers = slices.DeleteFunc(w.barriers, func(n *node) bool {
		return !n.intercepted.Load()
	})
}

func (w *walker) pollCache() *node {
	for i := 0; i < len(w.cache); {
		n := w.cache[i]
		if !w.eligible(n, i) {
			i++
			continue
		}
		w.cache = slices.Delete(w.cache, i, i+1)
		if n.tryIntercept() {
			w.barriers = append(w.barriers, n)
			continue
		}
		return n
	}
	return nil
}

func (w *walker) pollBus() *node {
	x := w.x
	for w.cursor < x.bus.position() {
		i := w.cursor
		w.cursor++

		n := x.bus.get(i)
		if n == nil || n.bits&w.bit == 0 {
			continue
		}
		x.bus.consumed(i, n)

		if !w.eligible(n, len(w.cache)) {
			w.cache = append(w.cache, n)
			continue
		}
		if n.tryIntercept() {
			w.barriers = append(w.barriers, n)
			continue
		}
		return n
	}
	return nil
}

// eligible reports whether n is disjoint from every barrier, and from the
// first k cache entries.
func (w *walker) eligible(n *node, k int) bool {
	for _, b := range w.barriers {
		if n.overlaps(b) {
			return false
		}
	}
	for _, c := range w.cache[:k] {
		if n.overlaps(c) {
			return false
		}
	}
	return true
}

// inlineEligible reports whether n may run immediately, on the walker
// goroutine, i.e. it must not overlap a multi-track node that may be running
// on another track.
func (w *walker) inlineEligible(n *node) bool {
	for _, b := range w.barriers {
		if b.intercepted.Load() && n.overlaps(b) {
			return false
		}
	}
	return true
}

func (w *walker) execute(n *node) {
	start := time.Now()
	w.runningSeq.Store(n.seq)
	w.started.Store(start.UnixNano())
	w.current = n

	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			w.x.logTaskPanic(&TaskError{Value: r, Track: w.track, Sequence: n.seq})
		}
		w.current = nil
		w.started.Store(0)
		n.release(w.x, w.track)
		w.record(time.Since(start))
		w.completed.Add(1)
		if w.x.state.Load() == StateGracefulClose {
			w.x.watcher.poke()
		}
	}()

	n.task()
}

// runInline runs n on the calling goroutine, which must be the walker's.
func (w *walker) runInline(n *node) {
	start := time.Now()
	outer := w.current
	w.current = n
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			w.x.logTaskPanic(&TaskError{Value: r, Track: w.track, Sequence: n.seq})
		}
		w.current = outer
		w.record(time.Since(start))
		w.inline.Add(1)
	}()
	n.task()
}

func (w *walker) record(d time.Duration) {
	if w.latency == nil {
		return
	}
	w.latencyMu.Lock()
	w.latency.record(d)
	w.latencyMu.Unlock()
}

func (w *walker) stats() TrackStats {
	s := TrackStats{
		Track:     w.track,
		Completed: w.completed.Load(),
		Inline:    w.inline.Load(),
		Parks:     w.parks.Load(),
		Panics:    w.panics.Load(),
		Stalls:    w.stalls.Load(),
		Cursor:    w.position.Load(),
		Barriers:  int(w.barrierLen.Load()),
		Cached:    int(w.cacheLen.Load()),
	}
	if started := w.started.Load(); started != 0 {
		s.Running = time.Duration(time.Now().UnixNano() - started)
	}
	if w.latency != nil {
		w.latencyMu.Lock()
		s.Latency = w.latency.snapshot()
		w.latencyMu.Unlock()
	}
	return s
}
