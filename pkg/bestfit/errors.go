package bestfit

import "errors"

// ErrNoSpace is returned by Reallocate when an in-place grow cannot be
// satisfied by coalescing forward over free neighbors. The original
// allocation remains live and unchanged; this is a recoverable result, not a
// programmer error.
//
// Every other failure mode (zero-size request, over-aligned request,
// double free, commit exceeding the reservation, detected corruption) is a
// programmer error and aborts via debug.Assert rather than returning an
// error value, per the allocator's failure-semantics policy: a general
// purpose allocator must not itself allocate on the failure path.
var ErrNoSpace = errors.New("bestfit: no contiguous space for in-place grow")
