package debug

import "fmt"

// Assert panics if cond is false.
//
// Unlike [Log], Assert is not gated behind the debug build tag: the
// allocator's programmer-error checks (double free, over-aligned request,
// commit past the reservation, corruption) must abort in every build, not
// only in ones built with -tags debug. The debug tag only controls whether
// the path leading up to the assertion is traced.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Errorf("bestfit: "+format, args...))
	}
}
