// Package spinlock decorates any allocator with a spin-lock mutex,
// serializing every call so the underlying allocator (which, per
// pkg/bestfit's Non-goals, is not itself thread-safe) can be shared across
// goroutines. Grounded on original_source/allocator_spinlock.h's
// compare-and-swap Lock/Unlock pair.
package spinlock

import (
	"sync/atomic"
	"unsafe"

	"github.com/timandy/routine"

	"github.com/flier/bestfit/internal/debug"
	"github.com/flier/bestfit/pkg/bestfit"
)

// Backing is the allocator shape pkg/spinlock decorates: pkg/bestfit.Allocator,
// pkg/slab.Allocator, and pkg/track.Allocator all satisfy it.
type Backing interface {
	Allocate(size, alignment int, site bestfit.Site) unsafe.Pointer
	Free(ptr unsafe.Pointer, site bestfit.Site)
	Reallocate(ptr unsafe.Pointer, newSize int, site bestfit.Site) (unsafe.Pointer, error)
}

// Allocator serializes access to a Backing allocator behind a spin lock.
// Unlike sync.Mutex, a spin lock never parks the calling goroutine; it busy
// waits, which is only appropriate when critical sections are short — true
// here, since the decorated operations never block on I/O.
type Allocator struct {
	locked  atomic.Uint32
	backing Backing
}

// New wraps backing with a spin lock.
func New(backing Backing) *Allocator {
	return &Allocator{backing: backing}
}

func (a *Allocator) lock() {
	for !a.locked.CompareAndSwap(0, 1) {
		if debug.Enabled {
			debug.Log(nil, "spinlock", "goroutine %d spinning", routine.Goid())
		}
	}
}

func (a *Allocator) unlock() {
	a.locked.Store(0)
}

func (a *Allocator) Allocate(size, alignment int, site bestfit.Site) unsafe.Pointer {
	a.lock()
	defer a.unlock()

	return a.backing.Allocate(size, alignment, site)
}

func (a *Allocator) Free(ptr unsafe.Pointer, site bestfit.Site) {
	a.lock()
	defer a.unlock()

	a.backing.Free(ptr, site)
}

func (a *Allocator) Reallocate(ptr unsafe.Pointer, newSize int, site bestfit.Site) (unsafe.Pointer, error) {
	a.lock()
	defer a.unlock()

	return a.backing.Reallocate(ptr, newSize, site)
}
