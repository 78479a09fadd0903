// Package bestfit implements a best-fit, coalescing, single-threaded heap
// allocator over a reserve/commit memory backend: an address-ordered block
// list tracks physical adjacency for coalescing, a size-keyed red-black tree
// answers best-fit queries, and pages are committed lazily as the arena
// grows.
package bestfit

import (
	"unsafe"

	"github.com/flier/bestfit/internal/debug"
	"github.com/flier/bestfit/pkg/memory"
	"github.com/flier/bestfit/pkg/xunsafe"
	"github.com/flier/bestfit/pkg/xunsafe/layout"
)

// DefaultMaxAlignment matches the platform's max_align_t on most 64-bit
// targets: the largest alignment any scalar type requires.
const DefaultMaxAlignment = 16

// Allocator is a best-fit coalescing allocator over a single reserved arena.
//
// It is not safe for concurrent use; wrap it with pkg/spinlock to share it
// across goroutines.
type Allocator struct {
	backend memory.Backend

	base      uintptr
	reserved  int
	committed int

	first, last xunsafe.Addr[header]
	root        xunsafe.Addr[freeBlock]

	maxAlignment int
	chunkSize    int
	minFreeBlock int
}

// New reserves minReservation bytes from backend and commits the first
// page, initializing it as a single free block spanning the committed
// region, exactly as the original constructor does.
func New(backend memory.Backend, minReservation int, maxAlignment int) *Allocator {
	debug.Assert(isPow2(maxAlignment), "max alignment must be a power of 2")

	base, err := backend.Reserve(minReservation)
	debug.Assert(err == nil, "failed to reserve arena: %v", err)

	pageSize := backend.PageSize()
	debug.Assert(pageSize >= chunkSize(maxAlignment), "OS page size is smaller than a block header")

	err = backend.Commit(base, pageSize)
	debug.Assert(err == nil, "failed to commit initial page: %v", err)

	a := &Allocator{
		backend:      backend,
		base:         base,
		reserved:     layout.RoundUp(minReservation, pageSize),
		committed:    pageSize,
		maxAlignment: maxAlignment,
		chunkSize:    chunkSize(maxAlignment),
		minFreeBlock: minFreeBlock(maxAlignment),
	}

	root := (*freeBlock)(unsafe.Pointer(base))
	root.next = 0
	root.prevFlag = 0
	root.setFree(true)
	root.left = 0
	root.right = 0
	root.parentColor = 0
	root.setColor(black)

	a.first = xunsafe.AddrOf(&root.header)
	a.last = a.first
	a.root = xunsafe.AddrOf(root)

	return a
}

// Close releases the arena back to the backend. The Allocator must not be
// used afterward.
func (a *Allocator) Close() error {
	if err := a.backend.Decommit(a.base, a.committed); err != nil {
		return err
	}

	return a.backend.Release(a.base, a.reserved)
}

// Committed reports whether [ptr, ptr+size) lies within the arena's
// committed prefix, per original_source's IsCommitted.
func (a *Allocator) Committed(ptr unsafe.Pointer, size int) bool {
	end := uintptr(ptr) + uintptr(size)

	return uintptr(ptr) >= a.base && end <= a.base+uintptr(a.committed)
}

func (a *Allocator) firstHeader() *header {
	if a.first == 0 {
		return nil
	}

	return a.first.AssertValid()
}

func (a *Allocator) lastHeader() *header {
	if a.last == 0 {
		return nil
	}

	return a.last.AssertValid()
}

func (a *Allocator) rootNode() *freeBlock {
	if a.root == 0 {
		return nil
	}

	return a.root.AssertValid()
}

func (a *Allocator) setRoot(n *freeBlock) {
	a.root = xunsafe.AddrOf(n)
}

// payload returns the address just past h's chunk, where the usable bytes
// (or, if free, the tree-link extension) begin.
func (a *Allocator) payload(h *header) uintptr {
	return uintptr(unsafe.Pointer(h)) + uintptr(a.chunkSize)
}

// headerOf recovers a block's header from a payload pointer previously
// returned to a caller.
func (a *Allocator) headerOf(ptr unsafe.Pointer) *header {
	return (*header)(unsafe.Pointer(uintptr(ptr) - uintptr(a.chunkSize)))
}

// sizeOf computes a block's implicit payload size from the address distance
// to its successor, or to the committed end for the last block. Never
// stored redundantly, per the "always implicit" size discipline.
func (a *Allocator) sizeOf(h *header) int {
	var end uintptr

	if n := h.Next(); n != nil {
		end = uintptr(unsafe.Pointer(n))
	} else {
		end = a.base + uintptr(a.committed)
	}

	return int(end - a.payload(h))
}

// alignmentOf returns the largest power of two dividing addr, mirroring
// original_source's GetAlignment; used only by the corruption checker's
// alignment assertion.
func alignmentOf(addr uintptr) int {
	if addr == 0 {
		return 1 << 62
	}

	return int(addr &^ (addr - 1))
}

func isPow2(v int) bool {
	return v > 0 && v&(v-1) == 0
}

// uintptrOf is a small readability helper for the corruption checker, which
// only ever needs a header's address for comparison and formatting, never
// dereferencing.
func uintptrOf(h *header) uintptr {
	return uintptr(unsafe.Pointer(h))
}
