package bestfit

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/bestfit/pkg/memory"
)

func TestCheckerDetectsHealthyState(t *testing.T) {
	Convey("Given an allocator exercised by a mix of allocate/free/reallocate calls", t, func() {
		a := New(memory.NewHeapBackend(), 1<<20, DefaultMaxAlignment)
		defer a.Close()

		p1 := a.Allocate(100, 8, Site{})
		p2 := a.Allocate(2000, 8, Site{})
		a.Free(p1, Site{})
		p3 := a.Allocate(500, 8, Site{})
		a.Free(p2, Site{})
		_, _ = a.Reallocate(p3, 3000, Site{})

		Convey("Detect reports no corruption", func() {
			So(NewChecker(a).Detect(), ShouldBeNil)
		})
	})
}

func TestCheckerDetectsBrokenListLink(t *testing.T) {
	Convey("Given an allocator with a corrupted prev pointer", t, func() {
		a := New(memory.NewHeapBackend(), 1<<20, DefaultMaxAlignment)
		defer a.Close()

		a.Allocate(64, 8, Site{})
		second := a.Allocate(64, 8, Site{})

		a.headerOf(second).setPrev(nil)

		Convey("Detect reports the broken link", func() {
			So(NewChecker(a).Detect(), ShouldNotBeNil)
		})
	})
}

func TestCheckerDetectsRedRoot(t *testing.T) {
	Convey("Given an allocator whose tree root has been recolored red", t, func() {
		a := New(memory.NewHeapBackend(), 1<<20, DefaultMaxAlignment)
		defer a.Close()

		a.rootNode().setColor(red)

		Convey("Detect reports the red-black violation", func() {
			So(NewChecker(a).Detect(), ShouldNotBeNil)
		})
	})
}

func TestCheckerDetectsTreeListDisagreement(t *testing.T) {
	Convey("Given an allocator whose only free block was pulled out of the tree", t, func() {
		a := New(memory.NewHeapBackend(), 1<<20, DefaultMaxAlignment)
		defer a.Close()

		a.remove(a.rootNode())

		Convey("Detect reports the disagreement between the list and the tree", func() {
			So(NewChecker(a).Detect(), ShouldNotBeNil)
		})
	})
}
