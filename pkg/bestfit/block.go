package bestfit

import (
	"github.com/flier/bestfit/pkg/xunsafe"
	"github.com/flier/bestfit/pkg/xunsafe/layout"
)

// header is the metadata every block starts with, busy or free. It occupies
// one chunk; the payload (or, for a free block, the tree-link extension)
// follows immediately after.
//
// The free flag is stolen from prevFlag's low bit rather than stored in its
// own field: chunk_size is a multiple of max_alignment (≥ 2), so every
// header address a prevFlag could legally point at has a zero low bit to
// spare.
type header struct {
	next     xunsafe.Addr[header]
	prevFlag xunsafe.Addr[header]
}

// freeBlock is the header extended with red-black tree links, valid only
// while the block is free. It shares byte offset 0 with header by
// embedding it as the first field, so a *header known to be free can be
// reinterpreted as a *freeBlock and back with xunsafe.Cast, mirroring the
// union of block_header/free_block in the C original.
type freeBlock struct {
	header

	left, right xunsafe.Addr[freeBlock]
	parentColor xunsafe.Addr[freeBlock]
}

const (
	red   = true
	black = false
)

func (h *header) Next() *header {
	if h.next == 0 {
		return nil
	}

	return h.next.AssertValid()
}

func (h *header) setNext(n *header) {
	h.next = xunsafe.AddrOf(n)
}

func (h *header) Prev() *header {
	a := h.prevFlag.Untagged()
	if a == 0 {
		return nil
	}

	return a.AssertValid()
}

func (h *header) setPrev(p *header) {
	h.prevFlag = xunsafe.AddrOf(p).WithTag(h.prevFlag.Tag())
}

// Free reports whether this block is currently free.
func (h *header) Free() bool {
	return h.prevFlag.Tag()
}

func (h *header) setFree(free bool) {
	h.prevFlag = h.prevFlag.WithTag(free)
}

func (f *freeBlock) Parent() *freeBlock {
	a := f.parentColor.Untagged()
	if a == 0 {
		return nil
	}

	return a.AssertValid()
}

func (f *freeBlock) setParent(p *freeBlock) {
	f.parentColor = xunsafe.AddrOf(p).WithTag(f.parentColor.Tag())
}

func (f *freeBlock) red() bool {
	return f.parentColor.Tag()
}

func (f *freeBlock) setColor(c bool) {
	f.parentColor = f.parentColor.WithTag(c)
}

func (f *freeBlock) Left() *freeBlock {
	if f.left == 0 {
		return nil
	}

	return f.left.AssertValid()
}

func (f *freeBlock) setLeft(n *freeBlock) {
	f.left = xunsafe.AddrOf(n)
}

func (f *freeBlock) Right() *freeBlock {
	if f.right == 0 {
		return nil
	}

	return f.right.AssertValid()
}

func (f *freeBlock) setRight(n *freeBlock) {
	f.right = xunsafe.AddrOf(n)
}

// asFree reinterprets a free header as a *freeBlock. h.Free() must be true.
func asFree(h *header) *freeBlock {
	return xunsafe.Cast[freeBlock](h)
}

// asHeader reinterprets a *freeBlock as its common-prefix *header.
func asHeader(f *freeBlock) *header {
	return &f.header
}

// layout constants, derived once from header/freeBlock sizes the same way
// the original computes chunk_size/free_block_overhead/smallest_valid_free_block
// from sizeof(block_header)/sizeof(free_block).
var (
	headerSize    = layout.Size[header]()
	freeBlockSize = layout.Size[freeBlock]()
)

// chunkSize returns align_up(sizeof(header), maxAlignment). maxAlignment is
// required to be a power of 2, so the bitwise round-up in layout.RoundUp
// applies; chunkSize itself need not come out a power of 2.
func chunkSize(maxAlignment int) int {
	return layout.RoundUp(headerSize, maxAlignment)
}

// minFreeBlock returns max(snapUp(sizeof(freeBlock), chunkSize), 2*chunkSize).
// chunkSize is not generally a power of 2, so this snaps with plain integer
// division rather than layout.RoundUp's bitwise trick — exactly the
// distinction original_source draws between SnapUpToPow2Increment (used for
// chunkSize itself) and SnapUpToIncrement (used for everything snapped to a
// multiple of chunkSize thereafter).
func minFreeBlock(maxAlignment int) int {
	chunk := chunkSize(maxAlignment)
	overhead := snapUp(freeBlockSize, chunk)

	return max(overhead, 2*chunk)
}

// snapUp rounds v up to the nearest multiple of increment, which need not be
// a power of 2.
func snapUp(v, increment int) int {
	if v%increment == 0 {
		return v
	}

	return (v/increment + 1) * increment
}
