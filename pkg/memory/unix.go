//go:build unix

package memory

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/flier/bestfit/pkg/xunsafe/layout"
)

// UnixBackend reserves address space with an anonymous PROT_NONE mapping and
// brings pages online with mprotect, so committing never has to move the
// reservation the way growing a Go slice would.
type UnixBackend struct {
	pageSize int
}

// NewUnixBackend returns a Backend backed by mmap/mprotect/munmap.
func NewUnixBackend() *UnixBackend {
	return &UnixBackend{pageSize: unix.Getpagesize()}
}

func (b *UnixBackend) PageSize() int {
	return b.pageSize
}

func (b *UnixBackend) Reserve(size int) (uintptr, error) {
	size = layout.RoundUp(size, b.pageSize)

	data, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, &Error{Op: "mmap", Err: err}
	}

	return uintptr(unsafe.Pointer(&data[0])), nil
}

func (b *UnixBackend) Commit(base uintptr, size int) error {
	if size == 0 {
		return nil
	}

	if err := unix.Mprotect(b.slice(base, size), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return &Error{Op: "mprotect(rw)", Err: err}
	}

	return nil
}

func (b *UnixBackend) Decommit(base uintptr, size int) error {
	if size == 0 {
		return nil
	}

	if err := unix.Mprotect(b.slice(base, size), unix.PROT_NONE); err != nil {
		return &Error{Op: "mprotect(none)", Err: err}
	}

	return nil
}

func (b *UnixBackend) Release(base uintptr, size int) error {
	if err := unix.Munmap(b.slice(base, size)); err != nil {
		return &Error{Op: "munmap", Err: err}
	}

	return nil
}

// slice reinterprets the [base, base+size) address range as a []byte so it
// can be passed to the x/sys/unix calls, which all take a []byte rather than
// a raw address.
func (b *UnixBackend) slice(base uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}
