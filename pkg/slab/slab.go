// Package slab implements a fixed-size slab allocator over a single bulk
// reservation from a backing allocator, grounded on
// original_source/fixed_size_allocator.h: one eager allocation up front,
// handed out and reclaimed a free-list chunk at a time, with O(1)
// allocate/free and no splitting or coalescing.
package slab

import (
	"unsafe"

	"github.com/flier/bestfit/internal/debug"
	"github.com/flier/bestfit/pkg/bestfit"
	"github.com/flier/bestfit/pkg/xunsafe"
)

// chunk is the free-list node a chunk is reinterpreted as while unused,
// mirroring original_source's free_chunk.
type chunk struct {
	next xunsafe.Addr[chunk]
}

// Allocator hands out fixed-size, fixed-alignment chunks carved out of one
// bulk allocation. Every chunk is the same size and alignment, supplied at
// construction; Allocate and Reallocate's size/alignment arguments exist
// only to satisfy the common allocator shape and are ignored (and asserted,
// in Allocate's case, not to exceed what the slab provides).
//
// Not safe for concurrent use; wrap with pkg/spinlock to share it.
type Allocator struct {
	base       unsafe.Pointer
	chunkSize  int
	chunkCount int
	nextFree   xunsafe.Addr[chunk]

	backing *bestfit.Allocator
}

// New carves chunkCount chunks of chunkSize bytes, aligned to
// chunkAlignment, out of one allocation requested from backing.
func New(backing *bestfit.Allocator, chunkCount, chunkSize int, chunkAlignment int) *Allocator {
	debug.Assert(chunkCount > 0, "slab chunk count must be positive")
	debug.Assert(chunkSize >= int(unsafe.Sizeof(chunk{})), "slab chunk size must fit a free-list link")

	base := backing.Allocate(chunkCount*chunkSize, chunkAlignment, bestfit.Caller())

	a := &Allocator{
		base:       base,
		chunkSize:  chunkSize,
		chunkCount: chunkCount,
		backing:    backing,
	}

	var last xunsafe.Addr[chunk]

	for i := chunkCount - 1; i >= 0; i-- {
		c := (*chunk)(unsafe.Pointer(uintptr(base) + uintptr(i*chunkSize)))
		c.next = last
		last = xunsafe.AddrOf(c)
	}

	a.nextFree = last

	return a
}

// Close releases the slab's bulk allocation back to its backing allocator.
func (a *Allocator) Close() {
	a.backing.Free(a.base, bestfit.Caller())
}

// Allocate returns one chunk, or nil if the slab is exhausted. size and
// alignment are accepted for interface compatibility with pkg/bestfit and
// pkg/track but are never used to size the result; size must not exceed the
// slab's chunk size.
func (a *Allocator) Allocate(size int, alignment int, site bestfit.Site) unsafe.Pointer {
	debug.Assert(size <= a.chunkSize, "requested size %d exceeds slab chunk size %d (%s)", size, a.chunkSize, site)
	debug.Assert(alignment <= a.alignmentOf(), "requested alignment %d exceeds slab chunk alignment (%s)", alignment, site)

	if a.nextFree == 0 {
		return nil
	}

	c := a.nextFree.AssertValid()
	a.nextFree = c.next

	return unsafe.Pointer(c)
}

// Free returns a chunk previously handed out by Allocate to the free list.
func (a *Allocator) Free(ptr unsafe.Pointer, site bestfit.Site) {
	debug.Assert(a.owns(ptr), "pointer %p does not belong to this slab (%s)", ptr, site)

	c := (*chunk)(ptr)
	c.next = a.nextFree
	a.nextFree = xunsafe.AddrOf(c)
}

// Reallocate is never meaningful for a fixed-size slab: every chunk is
// already the slab's one size, so there is nothing to grow into. It
// asserts, mirroring original_source's ReAllocInternal.
func (a *Allocator) Reallocate(ptr unsafe.Pointer, newSize int, site bestfit.Site) (unsafe.Pointer, error) {
	debug.Assert(false, "a fixed-size slab cannot reallocate (%s)", site)

	return nil, nil
}

// Available reports how many chunks remain unallocated.
func (a *Allocator) Available() int {
	n := 0

	for c := a.nextFree; c != 0; {
		n++
		c = c.AssertValid().next
	}

	return n
}

func (a *Allocator) owns(ptr unsafe.Pointer) bool {
	start := uintptr(a.base)
	end := start + uintptr(a.chunkCount*a.chunkSize)
	addr := uintptr(ptr)

	return addr >= start && addr < end && (addr-start)%uintptr(a.chunkSize) == 0
}

func (a *Allocator) alignmentOf() int {
	addr := uintptr(a.base)
	if addr == 0 {
		return 1 << 30
	}

	return int(addr &^ (addr - 1))
}
