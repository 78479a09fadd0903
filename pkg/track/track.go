// Package track decorates any allocator with a live-allocation index and
// six call-site-aware callbacks, generalizing
// original_source/checked_fixed_allocator.h's alloc_block doubly-linked list
// from one fixed-size allocator to any allocator shape.
package track

import (
	"fmt"
	"unsafe"

	"github.com/flier/bestfit/internal/debug"
	"github.com/flier/bestfit/internal/xsync"
	"github.com/flier/bestfit/pkg/bestfit"
)

// Backing is the allocator shape pkg/track decorates: pkg/bestfit.Allocator
// and pkg/slab.Allocator both satisfy it.
type Backing interface {
	Allocate(size, alignment int, site bestfit.Site) unsafe.Pointer
	Free(ptr unsafe.Pointer, site bestfit.Site)
	Reallocate(ptr unsafe.Pointer, newSize int, site bestfit.Site) (unsafe.Pointer, error)
}

// node is the per-allocation record kept in the side table, recording the
// same fields original_source's alloc_block stores inline before the
// caller's pointer.
type node struct {
	size int
	site bestfit.Site
}

// Hooks are optional callbacks invoked around each operation. Any of them
// may be nil. Post callbacks receive the result; pre callbacks may veto
// nothing (matching the original's unconditional instrumentation) but exist
// for counters, sampling, or logging.
type Hooks struct {
	PreAlloc  func(size, alignment int, site bestfit.Site)
	PostAlloc func(ptr unsafe.Pointer, size, alignment int, site bestfit.Site)

	PreFree  func(ptr unsafe.Pointer, site bestfit.Site)
	PostFree func(ptr unsafe.Pointer, size int, site bestfit.Site)

	PreRealloc  func(ptr unsafe.Pointer, newSize int, site bestfit.Site)
	PostRealloc func(oldPtr, newPtr unsafe.Pointer, newSize int, site bestfit.Site, err error)
}

// Allocator wraps a Backing allocator with a side table of live allocations,
// keyed by the pointer returned to the caller, and fires Hooks around every
// operation. Not safe for concurrent use; wrap the composed stack with
// pkg/spinlock, outermost, to share it across goroutines.
type Allocator struct {
	backing Backing
	hooks   Hooks
	live    map[uintptr]*node
	nodes   xsync.Pool[node]
}

// New wraps backing with leak tracking. hooks may be the zero value.
func New(backing Backing, hooks Hooks) *Allocator {
	return &Allocator{
		backing: backing,
		hooks:   hooks,
		live:    make(map[uintptr]*node),
	}
}

func (a *Allocator) Allocate(size, alignment int, site bestfit.Site) unsafe.Pointer {
	if a.hooks.PreAlloc != nil {
		a.hooks.PreAlloc(size, alignment, site)
	}

	ptr := a.backing.Allocate(size, alignment, site)

	if ptr != nil {
		n := a.nodes.Get()
		n.size, n.site = size, site
		a.live[uintptr(ptr)] = n
	}

	if a.hooks.PostAlloc != nil {
		a.hooks.PostAlloc(ptr, size, alignment, site)
	}

	return ptr
}

func (a *Allocator) Free(ptr unsafe.Pointer, site bestfit.Site) {
	if a.hooks.PreFree != nil {
		a.hooks.PreFree(ptr, site)
	}

	n, ok := a.live[uintptr(ptr)]
	debug.Assert(ok, "freeing untracked pointer %p (%s)", ptr, site)

	size := n.size
	delete(a.live, uintptr(ptr))
	a.nodes.Put(n)

	a.backing.Free(ptr, site)

	if a.hooks.PostFree != nil {
		a.hooks.PostFree(ptr, size, site)
	}
}

func (a *Allocator) Reallocate(ptr unsafe.Pointer, newSize int, site bestfit.Site) (unsafe.Pointer, error) {
	if a.hooks.PreRealloc != nil {
		a.hooks.PreRealloc(ptr, newSize, site)
	}

	n, ok := a.live[uintptr(ptr)]
	debug.Assert(ok, "reallocating untracked pointer %p (%s)", ptr, site)

	newPtr, err := a.backing.Reallocate(ptr, newSize, site)

	if err == nil {
		delete(a.live, uintptr(ptr))
		n.size, n.site = newSize, site
		a.live[uintptr(newPtr)] = n
	}

	if a.hooks.PostRealloc != nil {
		a.hooks.PostRealloc(ptr, newPtr, newSize, site, err)
	}

	return newPtr, err
}

// LeakReport describes one allocation still live when Close was called.
type LeakReport struct {
	Ptr  unsafe.Pointer
	Size int
	Site bestfit.Site
}

func (r LeakReport) String() string {
	return fmt.Sprintf("%p (%d bytes, allocated at %s)", r.Ptr, r.Size, r.Site)
}

// Leaks returns every allocation currently live, for a caller that wants to
// assert none remain at shutdown — the Go equivalent of
// checked_fixed_allocator.h's destructor-time BM_LEAK_CHECK(head).
func (a *Allocator) Leaks() []LeakReport {
	if len(a.live) == 0 {
		return nil
	}

	reports := make([]LeakReport, 0, len(a.live))

	for ptr, n := range a.live {
		reports = append(reports, LeakReport{Ptr: unsafe.Pointer(ptr), Size: n.size, Site: n.site})
	}

	return reports
}

// AssertNoLeaks panics, naming every still-live allocation, if any remain.
// Call it at the point original_source's destructor would have run
// BM_LEAK_CHECK.
func (a *Allocator) AssertNoLeaks() {
	leaks := a.Leaks()
	debug.Assert(len(leaks) == 0, "%d leaked allocation(s): %v", len(leaks), leaks)
}
