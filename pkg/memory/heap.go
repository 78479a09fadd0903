package memory

import (
	"unsafe"

	"github.com/flier/bestfit/internal/debug"
	"github.com/flier/bestfit/pkg/xunsafe/layout"
)

// heapPageSize is an arbitrary page granularity used when there is no real
// OS page underneath the reservation.
const heapPageSize = 4096

// HeapBackend simulates reserve/commit/decommit over a single Go-heap
// allocation, grounded on mallocator.h's plain-malloc allocator: since the Go
// heap has no notion of reserved-but-inaccessible memory, the entire
// reservation is allocated and zeroed up front, and Commit/Decommit are
// bookkeeping-only. This lets the core and its tests run on any GOOS without
// mmap privileges, at the cost of not catching out-of-bounds accesses to
// uncommitted pages the way UnixBackend's mprotect does.
type HeapBackend struct {
	mem map[uintptr][]byte
}

// NewHeapBackend returns a Backend that simulates reservations over the Go
// heap.
func NewHeapBackend() *HeapBackend {
	return &HeapBackend{mem: make(map[uintptr][]byte)}
}

func (b *HeapBackend) PageSize() int {
	return heapPageSize
}

func (b *HeapBackend) Reserve(size int) (uintptr, error) {
	size = layout.RoundUp(size, heapPageSize)

	buf := make([]byte, size)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	b.mem[base] = buf

	return base, nil
}

func (b *HeapBackend) Commit(base uintptr, size int) error {
	debug.Assert(b.owns(base, size), "commit outside reservation at %#x/%d", base, size)

	return nil
}

func (b *HeapBackend) Decommit(base uintptr, size int) error {
	debug.Assert(b.owns(base, size), "decommit outside reservation at %#x/%d", base, size)

	return nil
}

func (b *HeapBackend) Release(base uintptr, size int) error {
	debug.Assert(b.owns(base, size), "release outside reservation at %#x/%d", base, size)

	delete(b.mem, base)

	return nil
}

// owns reports whether [addr, addr+size) falls within some live reservation.
// addr need not be the reservation's own base: Commit/Decommit are called
// with sub-ranges as the arena grows, not just the first page.
func (b *HeapBackend) owns(addr uintptr, size int) bool {
	for resBase, buf := range b.mem {
		if addr >= resBase && addr+uintptr(size) <= resBase+uintptr(len(buf)) {
			return true
		}
	}

	return false
}
