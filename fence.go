package explorer

import (
	"hash/maphash"
)

type (
	// Fence is an opaque, caller-supplied identity (e.g. an entity id)
	// defining a serialization domain. Fences must be non-nil, and
	// comparable, and are never mutated by the executor.
	Fence = any

	// FenceHasher may be implemented by fence values that provide their own
	// stable hash, which is then used to map them onto a track.
	FenceHasher interface {
		FenceHash() uint64
	}

	// FenceHashFunc maps a fence to a hash, see WithFenceHash.
	FenceHashFunc func(fence Fence) uint64
)

// fenceOverlapMapThreshold is the product of fence set sizes above which the
// overlap check builds a set instead of comparing pairwise.
const fenceOverlapMapThreshold = 64

// hashFence is the default fence hash. Integers hash to their own value, so
// that e.g. fence 3 maps to track 3 (mod N).
func hashFence(seed maphash.Seed, fence Fence) (h uint64, err error) {
	switch v := fence.(type) {
	case FenceHasher:
		return v.FenceHash(), nil
	case int:
		return uint64(v), nil
	case int8:
		return uint64(v), nil
	case int16:
		return uint64(v), nil
	case int32:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	case uintptr:
		return uint64(v), nil
	case string:
		return maphash.String(seed, v), nil
	}
	// maphash.Comparable panics for dynamic types that aren't comparable
	defer func() {
		if r := recover(); r != nil {
			h, err = 0, ErrInvalidFence
		}
	}()
	return maphash.Comparable(seed, fence), nil
}

// comparableFence reports whether the fence may be compared with ==, without
// panicking, which the overlap check relies on.
func comparableFence(fence Fence) (ok bool) {
	switch fence.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr, string:
		return true
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	// NaN is comparable, but never equal to itself, which breaks overlap checks
	other := fence
	return fence == other
}

// fencesOverlap reports whether the two fence sets share any fence.
func fencesOverlap(a, b []Fence) bool {
	if len(a)*len(b) > fenceOverlapMapThreshold {
		if len(a) > len(b) {
			a, b = b, a
		}
		set := make(map[Fence]struct{}, len(a))
		for _, f := range a {
			set[f] = struct{}{}
		}
		for _, f := range b {
			if _, ok := set[f]; ok {
				return true
			}
		}
		return false
	}
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
