//go:build go1.20

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/flier/bestfit/internal/debug"
	"github.com/flier/bestfit/pkg/xunsafe/layout"
)

// Addr is a typed, non-pointer representation of a *T.
//
// Because it is not a pointer, the garbage collector does not trace it and
// does not update it when the referent moves; this makes it suitable for
// encoding the block-list and tree pointers used by an allocator, which live
// inside memory the allocator itself owns rather than memory the Go
// collector manages. Addr also has spare low bits whenever T's alignment is
// greater than one, which the Tag family of methods exploits to steal a bit
// or two from a pointer-sized field instead of adding a separate field.
type Addr[T any] int

// AddrOf returns the address of p as an Addr.
func AddrOf[T any](p *T) Addr[T] {
	return Addr[T](uintptr(unsafe.Pointer(p)))
}

// EndOf returns the address one past the last element of s.
func EndOf[S ~[]T, T any](s S) Addr[T] {
	size := layout.Size[T]()
	return Addr[T](uintptr(unsafe.Pointer(unsafe.SliceData(s))) + uintptr(len(s)*size))
}

// AssertValid converts this address back into a pointer.
//
// Panics if a is zero; this is not a nil check in the usual sense, it is an
// assertion that the caller never meant to dereference a zero Addr.
func (a Addr[T]) AssertValid() *T {
	debug.Assert(a != 0, "dereferenced a zero Addr[%T]", *new(T))

	return (*T)(unsafe.Pointer(uintptr(a)))
}

// Add returns the address of the nth element past a, scaled by sizeof(T).
func (a Addr[T]) Add(n int) Addr[T] {
	return a.ByteAdd(n * layout.Size[T]())
}

// ByteAdd returns the address n bytes past a, without scaling.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return a + Addr[T](n)
}

// Sub returns the number of T-sized elements between a and that.
//
// a and that must point into the same array for this to be meaningful.
func (a Addr[T]) Sub(that Addr[T]) int {
	return int(a-that) / layout.Size[T]()
}

// ByteSub returns the raw byte difference between a and that.
func (a Addr[T]) ByteSub(that Addr[T]) int {
	return int(a - that)
}

// Padding returns the number of bytes needed to round a up to align.
func (a Addr[T]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds a up to the nearest multiple of align.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(int(a), align))
}

// RoundDownTo rounds a down to the nearest multiple of align.
func (a Addr[T]) RoundDownTo(align int) Addr[T] {
	return Addr[T](layout.RoundDown(int(a), align))
}

// SignBit reports whether a's most significant bit is set.
func (a Addr[T]) SignBit() bool {
	return a < 0
}

// SignBitMask returns -1 (all bits set) if a's sign bit is set, or 0
// otherwise.
func (a Addr[T]) SignBitMask() Addr[T] {
	return a >> (unsafe.Sizeof(a)*8 - 1)
}

// ClearSignBit returns a with its most significant bit cleared.
func (a Addr[T]) ClearSignBit() Addr[T] {
	return a &^ (Addr[T](-1) << (unsafe.Sizeof(a)*8 - 1))
}

// Tag reports whether the low bit of a is set.
//
// This is only meaningful when T's alignment is at least 2, which guarantees
// that a well-formed, untagged address never has that bit set.
func (a Addr[T]) Tag() bool {
	return a&1 != 0
}

// WithTag returns a with its low bit set to set.
func (a Addr[T]) WithTag(set bool) Addr[T] {
	if set {
		return a | 1
	}

	return a.Untagged()
}

// Untagged returns a with its low bit cleared, recovering the real address.
func (a Addr[T]) Untagged() Addr[T] {
	return a &^ 1
}

// String implements fmt.Stringer, so that %v prints the address as hex.
func (a Addr[T]) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// Format implements fmt.Formatter: %v and %s print what String returns, and
// every other verb formats the address as a uintptr, so %x prints its hex
// digits rather than hex-encoding the text of String.
func (a Addr[T]) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		_, _ = fmt.Fprint(s, a.String())
	default:
		_, _ = fmt.Fprintf(s, fmt.FormatString(s, verb), uintptr(a))
	}
}
