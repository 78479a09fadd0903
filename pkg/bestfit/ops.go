package bestfit

import (
	"unsafe"

	"github.com/flier/bestfit/internal/debug"
	"github.com/flier/bestfit/pkg/xunsafe"
)

// Allocate returns size bytes aligned to alignment, splitting a best-fit
// free block or extending the arena's committed tail as needed. site is an
// optional diagnostic call site threaded through for pkg/track; pass Site{}
// or Caller() if unused.
func (a *Allocator) Allocate(size int, alignment int, site Site) unsafe.Pointer {
	debug.Assert(size > 0, "tried to allocate 0 bytes (%s)", site)
	debug.Assert(alignment <= a.maxAlignment, "alignment %d exceeds max alignment %d (%s)", alignment, a.maxAlignment, site)

	reqSize := max(snapUp(size, a.chunkSize), a.minFreeBlock)

	candidate := a.findBestFit(reqSize)
	if candidate == nil {
		candidate = a.extendTail(reqSize)
	}

	candH := &candidate.header
	originalSize := a.sizeOf(candH)
	origSuccessor := candH.Next()

	candH.setFree(false)

	// Take the candidate out of the tree before the split below relinks
	// candH.next: that relink shrinks its implicit key.
	a.remove(candidate)

	leftover := originalSize - reqSize
	debug.Assert(leftover >= 0, "best-fit candidate smaller than requested size")

	payload := a.payload(candH)

	if leftover >= a.minFreeBlock {
		newBlock := (*freeBlock)(unsafe.Pointer(payload + uintptr(reqSize)))
		newBlock.setFree(true)
		newBlock.setPrev(candH)

		if origSuccessor != nil && origSuccessor.Free() {
			afterSuccessor := origSuccessor.Next()
			newBlock.setNext(afterSuccessor)

			if afterSuccessor != nil {
				afterSuccessor.setPrev(&newBlock.header)
			}

			a.remove(asFree(origSuccessor))
		} else {
			newBlock.setNext(origSuccessor)

			if origSuccessor != nil {
				origSuccessor.setPrev(&newBlock.header)
			}
		}

		candH.setNext(&newBlock.header)
		a.insert(newBlock)

		if newBlock.header.Next() == nil {
			a.last = xunsafe.AddrOf(&newBlock.header)
		}
	}

	return unsafe.Pointer(payload)
}

// extendTail grows the committed region to make room for a reqSize-byte
// request that no existing free block can satisfy: it tops up the last
// block if it is free, or commits a fresh block after it otherwise.
func (a *Allocator) extendTail(reqSize int) *freeBlock {
	lastH := a.lastHeader()
	uncommitted := a.base + uintptr(a.committed)
	pageSize := a.backend.PageSize()

	if lastH.Free() {
		lastFree := asFree(lastH)
		shortfall := snapUp(reqSize-a.sizeOf(lastH), pageSize)

		debug.Assert(a.committed+shortfall <= a.reserved, "commit would exceed reserved arena size")

		err := a.backend.Commit(uncommitted, shortfall)
		debug.Assert(err == nil, "commit failed: %v", err)

		a.committed += shortfall

		// lastFree's implicit size just grew; its tree position may no
		// longer be valid, so it must be re-indexed (remove-then-insert,
		// since the key is derived rather than stored).
		a.remove(lastFree)
		a.insert(lastFree)

		return lastFree
	}

	required := snapUp(reqSize+a.chunkSize, pageSize)

	debug.Assert(a.committed+required <= a.reserved, "commit would exceed reserved arena size")

	err := a.backend.Commit(uncommitted, required)
	debug.Assert(err == nil, "commit failed: %v", err)

	a.committed += required

	newBlock := (*freeBlock)(unsafe.Pointer(uncommitted))
	newBlock.next = 0
	newBlock.setFree(true)
	newBlock.setPrev(lastH)

	lastH.setNext(&newBlock.header)
	a.last = xunsafe.AddrOf(&newBlock.header)
	a.insert(newBlock)

	return newBlock
}

// Free releases a pointer previously returned by Allocate or Reallocate,
// coalescing it with any free neighbor(s).
func (a *Allocator) Free(ptr unsafe.Pointer, site Site) {
	h := a.headerOf(ptr)

	debug.Assert(!h.Free(), "double free (%s)", site)

	h.setFree(true)

	prev := h.Prev()
	next := h.Next()

	switch {
	case isFreeHeader(prev) && isFreeHeader(next):
		prevFree, nextFree := asFree(prev), asFree(next)
		afterNext := next.Next()

		a.remove(prevFree)
		a.remove(nextFree)

		prev.setNext(afterNext)
		if afterNext != nil {
			afterNext.setPrev(prev)
		}

		a.insert(prevFree)

		if afterNext == nil {
			a.last = xunsafe.AddrOf(prev)
		}

	case isFreeHeader(prev):
		prevFree := asFree(prev)

		a.remove(prevFree)

		prev.setNext(next)
		if next != nil {
			next.setPrev(prev)
		}

		a.insert(prevFree)

		if next == nil {
			a.last = xunsafe.AddrOf(prev)
		}

	case isFreeHeader(next):
		nextFree := asFree(next)
		afterNext := next.Next()

		a.remove(nextFree)

		h.setNext(afterNext)
		if afterNext != nil {
			afterNext.setPrev(h)
		}

		a.insert(asFree(h))

		if afterNext == nil {
			a.last = xunsafe.AddrOf(h)
		}

	default:
		a.insert(asFree(h))
	}
}

func isFreeHeader(h *header) bool {
	return h != nil && h.Free()
}

// Reallocate grows a live allocation in place by coalescing forward over
// free successors. It never copies; if the walk reaches a busy block or the
// end of the list before accumulating enough space, it returns ErrNoSpace
// and leaves the original allocation untouched.
func (a *Allocator) Reallocate(ptr unsafe.Pointer, newSize int, site Site) (unsafe.Pointer, error) {
	h := a.headerOf(ptr)
	reqSize := max(snapUp(newSize, a.chunkSize), a.minFreeBlock)

	curSize := a.sizeOf(h)
	if reqSize <= curSize {
		return ptr, nil
	}

	total := curSize

	cur := h.Next()
	for {
		if cur == nil || !cur.Free() {
			return nil, ErrNoSpace
		}

		total += a.sizeOf(cur) + a.chunkSize

		if total >= reqSize {
			break
		}

		cur = cur.Next()
	}

	curSpan := a.sizeOf(cur) + a.chunkSize
	required := reqSize - (total - curSpan)
	leftover := curSpan - required

	for toRemove := h.Next(); toRemove != nil; {
		next := toRemove.Next()

		a.remove(asFree(toRemove))

		if toRemove == cur {
			break
		}

		toRemove = next
	}

	afterCur := cur.Next()
	wasLast := cur == a.lastHeader()

	if leftover >= a.minFreeBlock {
		newBlock := (*freeBlock)(unsafe.Pointer(uintptr(unsafe.Pointer(cur)) + uintptr(required)))
		newBlock.setFree(true)
		newBlock.setPrev(h)

		if afterCur != nil && afterCur.Free() {
			afterAfter := afterCur.Next()
			newBlock.setNext(afterAfter)

			if afterAfter != nil {
				afterAfter.setPrev(&newBlock.header)
			}

			a.remove(asFree(afterCur))
		} else {
			newBlock.setNext(afterCur)

			if afterCur != nil {
				afterCur.setPrev(&newBlock.header)
			}
		}

		h.setNext(&newBlock.header)
		a.insert(newBlock)

		if newBlock.header.Next() == nil {
			a.last = xunsafe.AddrOf(&newBlock.header)
		}
	} else {
		h.setNext(afterCur)

		if afterCur != nil {
			afterCur.setPrev(h)
		}

		if wasLast {
			a.last = xunsafe.AddrOf(h)
		}
	}

	return ptr, nil
}
