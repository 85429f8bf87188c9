package explorer

import (
	"math/bits"
	"sync/atomic"
)

// nodeInlineFences is the number of fences stored without a separate
// allocation, which covers the common 1-3 fence case.
const nodeInlineFences = 3

// node is an execution-ready task, plus its fence set, and the interception
// bookkeeping shared by every track it touches.
//
// The task, fences, and bits are immutable after construction, and seq is
// written once, prior to the node becoming visible via the bus.
type node struct {
	task    func()
	fences  []Fence
	bits    uint64 // tracks touched
	seq     uint64 // bus index
	inline  [nodeInlineFences]Fence
	pending atomic.Int32 // first reads outstanding, see bus.consumed
	counter atomic.Int32 // interception counter
	// intercepted is set while a multi-track node is held as a barrier by
	// any track, i.e. until it has been run and released.
	intercepted atomic.Bool
}

// newNode validates the arguments, and builds a node, mapping each fence
// onto a track. It doesn't publish the node.
func (x *Executor) newNode(task func(), fences []Fence) (*node, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if len(fences) == 0 {
		return nil, ErrNoFences
	}

	n := &node{task: task}
	if len(fences) <= nodeInlineFences {
		n.fences = n.inline[:len(fences)]
	} else {
		n.fences = make([]Fence, len(fences))
	}

	for i, f := range fences {
		if f == nil {
			return nil, ErrNilFence
		}
		if !comparableFence(f) {
			return nil, ErrInvalidFence
		}
		track, err := x.trackOf(f)
		if err != nil {
			return nil, err
		}
		n.fences[i] = f
		n.bits |= 1 << uint(track)
	}

	tracks := int32(bits.OnesCount64(n.bits))
	n.pending.Store(tracks)
	n.counter.Store(tracks - 1)
	if tracks > 1 {
		n.intercepted.Store(true)
	}

	return n, nil
}

// exclusive is true if the node touches a single track, meaning it's always
// run by that track, and never held as a barrier.
func (n *node) exclusive() bool {
	return n.bits&(n.bits-1) == 0
}

// tryIntercept registers the arrival of a track at this node, returning true
// if the caller must hold the node as a barrier, or false, exactly once, for
// the last track to arrive, which must run it.
func (n *node) tryIntercept() bool {
	return n.counter.Add(-1) >= 0
}

// overlaps reports whether the two nodes share any fence. Nodes with disjoint
// track sets cannot share a fence.
func (n *node) overlaps(o *node) bool {
	return n.bits&o.bits != 0 && fencesOverlap(n.fences, o.fences)
}

// release clears the barrier state of a multi-track node, after it has run
// on the given track, waking every other track it touches.
func (n *node) release(x *Executor, track int) {
	if n.exclusive() {
		return
	}
	n.intercepted.Store(false)
	others := n.bits &^ (1 << uint(track))
	for others != 0 {
		t := bits.TrailingZeros64(others)
		others &= others - 1
		x.walkers[t].sync.acquireWrite()
	}
}
