package explorer

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// detachedExecutor is enough of an executor to build nodes, without starting
// any threads.
func detachedExecutor(tracks int) *Executor {
	return &Executor{
		opts:    &options{tracks: tracks},
		walkers: make([]*walker, tracks),
		seed:    maphash.MakeSeed(),
	}
}

func TestNewNode_Validation(t *testing.T) {
	x := detachedExecutor(4)
	task := func() {}

	_, err := x.newNode(nil, []Fence{1})
	assert.ErrorIs(t, err, ErrNilTask)

	_, err = x.newNode(task, nil)
	assert.ErrorIs(t, err, ErrNoFences)

	_, err = x.newNode(task, []Fence{1, nil})
	assert.ErrorIs(t, err, ErrNilFence)

	_, err = x.newNode(task, []Fence{[]byte(`x`)})
	assert.ErrorIs(t, err, ErrInvalidFence)
}

func TestNewNode_Tracks(t *testing.T) {
	x := detachedExecutor(4)

	n, err := x.newNode(func() {}, []Fence{1, 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(0b0010), n.bits, `both fences map onto track 1`)
	assert.True(t, n.exclusive())
	assert.False(t, n.intercepted.Load())
	assert.Equal(t, int32(1), n.pending.Load())

	n, err = x.newNode(func() {}, []Fence{0, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1101), n.bits)
	assert.False(t, n.exclusive())
	assert.True(t, n.intercepted.Load())
	assert.Equal(t, int32(3), n.pending.Load())

	fences := []Fence{0, 1, 2, 3, 4}
	n, err = x.newNode(func() {}, fences)
	require.NoError(t, err)
	fences[0] = 99
	assert.Equal(t, 0, n.fences[0], `fences are copied`)
}

func TestNewNode_FenceHash(t *testing.T) {
	x := detachedExecutor(4)
	x.opts.fenceHash = func(Fence) uint64 { return 3 }

	n, err := x.newNode(func() {}, []Fence{`a`, `b`})
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1000), n.bits)

	// FenceHasher takes precedence
	n, err = x.newNode(func() {}, []Fence{hashedFence{1}})
	require.NoError(t, err)
	assert.Equal(t, uint64(0b0100), n.bits)
}

// Exactly one of the arriving tracks is told to run the node.
func TestNode_TryInterceptExactlyOnce(t *testing.T) {
	x := detachedExecutor(MaxTracks)
	fences := make([]Fence, MaxTracks)
	for i := range fences {
		fences[i] = i
	}
	n, err := x.newNode(func() {}, fences)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		runners atomic.Int32
	)
	for range MaxTracks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !n.tryIntercept() {
				runners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), runners.Load())
}

func TestNode_Overlaps(t *testing.T) {
	x := detachedExecutor(4)
	a, _ := x.newNode(func() {}, []Fence{0, 1})
	b, _ := x.newNode(func() {}, []Fence{1})
	c, _ := x.newNode(func() {}, []Fence{5})
	d, _ := x.newNode(func() {}, []Fence{2})
	assert.True(t, a.overlaps(b))
	assert.False(t, a.overlaps(c), `same track, different fence`)
	assert.False(t, a.overlaps(d))
}
