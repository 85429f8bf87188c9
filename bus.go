package explorer

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"
)

const (
	slotFree uint32 = iota
	slotFull
)

const (
	// noVersion marks a slot that holds no readable node. Bus indexes never
	// reach this value in practice.
	noVersion = math.MaxUint64

	// noLimit is the bus limit prior to shutdown.
	noLimit = math.MaxUint64

	// busMaxSpins bounds the number of contended publish attempts, at an
	// unchanged writer position, before reporting the bus as full.
	busMaxSpins = 128
)

// slot is a single, cyclically reused, bus entry.
//
// Lifecycle: Free → Full (claimed by a publisher) → node, then version,
// stored → first read by every track in node.bits → version invalidated,
// node cleared → Free.
type slot struct {
	node    atomic.Pointer[node]
	version atomic.Uint64
	state   atomic.Uint32
}

// bus is a fixed capacity, lock-free, multi-producer ring buffer of nodes.
//
// There is no consumer-side dequeue: each walker keeps its own read cursor,
// and a slot is released once every track that needs the node has read it.
//
// Memory Ordering:
//   - publish: claim slot (CAS) -> store node -> store version -> advance writer
//   - get:     load version -> load node -> re-load version (seqlock)
//   - free:    invalidate version -> clear node -> mark Free
type bus struct { // betteralign:ignore
	_      cpu.CacheLinePad
	writer atomic.Uint64 // next index to publish
	_      cpu.CacheLinePad
	limit  atomic.Uint64 // fixed by shutdown, noLimit until then
	_      cpu.CacheLinePad
	slots  []slot
	mask   uint64
}

// newBus creates a bus with the given capacity, which must be a power of 2.
func newBus(capacity int) *bus {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic("explorer: bus capacity must be a power of two >= 2")
	}
	b := &bus{
		slots: make([]slot, capacity),
		mask:  uint64(capacity - 1),
	}
	for i := range b.slots {
		b.slots[i].version.Store(noVersion)
	}
	b.limit.Store(noLimit)
	return b
}

// publish appends the node to the bus, assigning its sequence, returning
// ErrBusFull if there is no free slot, or ErrClosed if the bus has been shut
// down.
func (b *bus) publish(n *node) error {
	capacity := uint64(len(b.slots))
	last := uint64(noVersion)
	var spins int
	for {
		w := b.writer.Load()
		if w >= b.limit.Load() {
			return ErrClosed
		}
		if w != last {
			last, spins = w, 0
		}

		s := &b.slots[w&b.mask]
		if s.state.CompareAndSwap(slotFree, slotFull) {
			// guards against a stale w, i.e. a claim one or more laps behind
			if b.writer.Load() != w || w >= b.limit.Load() {
				s.state.Store(slotFree)
				continue
			}
			n.seq = w
			s.node.Store(n)
			s.version.Store(w)
			b.writer.Store(w + 1)
			return nil
		}

		// still holding the previous lap's node, which isn't fully read
		if w >= capacity && s.version.Load() == w-capacity && b.writer.Load() == w {
			return ErrBusFull
		}

		spins++
		if spins > busMaxSpins {
			return ErrBusFull
		}
		runtime.Gosched()
	}
}

// get returns the node at bus index i, or nil if the slot has rotated away,
// or not yet been published.
func (b *bus) get(i uint64) *node {
	s := &b.slots[i&b.mask]
	if s.version.Load() != i {
		return nil
	}
	n := s.node.Load()
	if n == nil || s.version.Load() != i {
		return nil
	}
	return n
}

// consumed records the first read of n (at index i) by one of its tracks,
// freeing the slot after the last.
func (b *bus) consumed(i uint64, n *node) {
	if n.pending.Add(-1) != 0 {
		return
	}
	s := &b.slots[i&b.mask]
	s.version.Store(noVersion)
	s.node.Store(nil)
	s.state.Store(slotFree)
}

// shutdown claims a terminal slot, in the same manner as publish, fixing the
// limit at its index, which is returned. The terminal slot is never released,
// so every publish that succeeded is below the limit. It blocks until a slot
// is free.
//
// Calling shutdown more than once returns the original limit.
func (b *bus) shutdown() uint64 {
	for attempts := 0; ; attempts++ {
		if limit, ok := b.tryShutdown(); ok {
			return limit
		}
		if attempts > 8 {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

// tryShutdown is shutdown, except that it gives up after a bounded number of
// attempts, e.g. if the bus is full, returning false. The limit is unchanged
// in that case.
func (b *bus) tryShutdown() (uint64, bool) {
	for spins := 0; spins <= busMaxSpins; spins++ {
		if limit := b.limit.Load(); limit != noLimit {
			return limit, true
		}

		w := b.writer.Load()
		s := &b.slots[w&b.mask]
		if s.state.CompareAndSwap(slotFree, slotFull) {
			if b.writer.Load() != w {
				s.state.Store(slotFree)
				continue
			}
			if !b.limit.CompareAndSwap(noLimit, w) {
				s.state.Store(slotFree)
			}
			return b.limit.Load(), true
		}

		runtime.Gosched()
	}
	return noLimit, false
}

// forceShutdown is tryShutdown, falling back to fixing the limit at the last
// observed writer position. A publisher racing that fallback may complete at
// or past the limit, so it is only suitable for a hard stop, which abandons
// queued work regardless.
func (b *bus) forceShutdown() uint64 {
	if limit, ok := b.tryShutdown(); ok {
		return limit
	}
	b.limit.CompareAndSwap(noLimit, b.writer.Load())
	return b.limit.Load()
}

// position returns the writer position, i.e. the number of nodes published.
func (b *bus) position() uint64 {
	return b.writer.Load()
}

// capacity returns the number of slots.
func (b *bus) capacity() int {
	return len(b.slots)
}
