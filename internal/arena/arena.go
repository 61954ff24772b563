// Package arena provides a stack-discipline allocator for transient buffers.
//
// Push opens a frame backed by one pooled slab; Alloc and Copy carve buffers
// out of the top frame, spilling into pooled overflow buffers when the slab is
// exhausted; Pop hands every buffer of the top frame back to the pool. Frames
// nest, so popping an inner frame leaves buffers of outer frames untouched.
// With no frame open, allocation falls back to the heap: the arena changes
// allocation patterns, never results.
//
// An Arena is not safe for concurrent use.
//
// This package is internal and not part of the public API.
package arena

import (
	"math/bits"
	"sync"
)

// DefaultSlabSize is the slab size used when Push is given no size hint.
const DefaultSlabSize = 4 * 1024

// Stats counts buffers handed out by an arena.
type Stats struct {
	// Allocated is the number of buffers carved from frames.
	Allocated int
	// Released is the number of frame buffers returned by Pop.
	Released int
	// Heap is the number of allocations made with no frame open.
	Heap int
	// Overflow is the number of frame buffers that did not fit the slab.
	Overflow int
}

type frame struct {
	slab     []byte
	off      int
	overflow [][]byte
	buffers  int
}

// Arena is a stack of allocation frames.
type Arena struct {
	slabs  *slabCache
	frames []*frame
	stats  Stats
}

// New returns an arena whose slabs come from the process-wide cache shared by
// all arenas.
func New() *Arena {
	return &Arena{slabs: &shared}
}

// Push opens a frame sized for roughly sizeHint bytes of allocations.
func (a *Arena) Push(sizeHint int) {
	if sizeHint <= 0 {
		sizeHint = DefaultSlabSize
	}
	slab := a.slabs.get(sizeHint)
	a.frames = append(a.frames, &frame{slab: slab[:cap(slab)]})
}

// Pop releases every buffer allocated since the matching Push.
// It panics if no frame is open.
func (a *Arena) Pop() {
	n := len(a.frames)
	if n == 0 {
		panic("arena: Pop without matching Push")
	}
	f := a.frames[n-1]
	a.frames[n-1] = nil
	a.frames = a.frames[:n-1]

	for i := len(f.overflow) - 1; i >= 0; i-- {
		a.slabs.put(f.overflow[i])
	}
	a.slabs.put(f.slab)
	a.stats.Released += f.buffers
}

// Depth returns the number of open frames.
func (a *Arena) Depth() int { return len(a.frames) }

// Stats returns the allocation counters.
func (a *Arena) Stats() Stats { return a.stats }

// Alloc returns a zeroed buffer of length n. The buffer stays valid until the
// frame that was on top at the time of the call is popped.
func (a *Arena) Alloc(n int) []byte {
	if n < 0 {
		panic("arena: negative allocation")
	}
	if len(a.frames) == 0 {
		a.stats.Heap++
		return make([]byte, n)
	}
	f := a.frames[len(a.frames)-1]
	f.buffers++
	a.stats.Allocated++

	var buf []byte
	if f.off+n <= len(f.slab) {
		// Cap the slice so appends by the caller cannot spill into neighbours.
		buf = f.slab[f.off : f.off+n : f.off+n]
		f.off += n
	} else {
		buf = a.slabs.get(n)[:n]
		f.overflow = append(f.overflow, buf)
		a.stats.Overflow++
	}
	clear(buf)
	return buf
}

// Copy returns a copy of b allocated from the arena. A nil b stays nil.
func (a *Arena) Copy(b []byte) []byte {
	if b == nil {
		return nil
	}
	buf := a.Alloc(len(b))
	copy(buf, b)
	return buf
}

// Slabs are cached in power-of-two classes from minSlab to maxSlab bytes.
// Requests above maxSlab go to the heap and are never cached.
const (
	minShift = 8
	maxShift = 16
	minSlab  = 1 << minShift
	maxSlab  = 1 << maxShift
	classes  = maxShift - minShift + 1
)

var shared slabCache

type slabCache struct {
	free [classes]sync.Pool
}

// get returns an empty buffer with capacity of at least n.
func (c *slabCache) get(n int) []byte {
	if n > maxSlab {
		return make([]byte, 0, n)
	}
	class := 0
	if n > minSlab {
		class = bits.Len(uint(n-1)) - minShift
	}
	if p, ok := c.free[class].Get().(*[]byte); ok {
		return (*p)[:0]
	}
	return make([]byte, 0, minSlab<<class)
}

// put caches buf in the largest class its capacity covers, so a later get
// from that class is always large enough. Buffers smaller than minSlab or of
// twice maxSlab and above are dropped.
func (c *slabCache) put(buf []byte) {
	if cap(buf) < minSlab {
		return
	}
	class := bits.Len(uint(cap(buf))) - 1 - minShift
	if class >= classes {
		return
	}
	buf = buf[:0]
	c.free[class].Put(&buf)
}
