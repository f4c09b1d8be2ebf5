// Package allocator defines the Allocator capability set shared by every
// concrete allocator in this module (arena, stackalloc, buddy) plus the
// ambient machinery built around it: an optional logging dispatcher,
// scope-guarded default-allocator and sink stacks, and generic node
// creation/destruction helpers.
//
// A concrete allocator only has to implement three methods:
//
//	Alloc(bytes, align) AllocResult
//	TryExpand(newBytes, ptr) ByteSize
//	Free(ptr)
//
// Alloc returns a zero AllocResult on failure. TryExpand attempts to grow an
// existing allocation in place without moving it; returning 0 means the
// allocator could not grow it and the caller must fall back to a fresh
// Alloc+copy+Free. Free on a nil pointer is always a no-op.
package allocator

import (
	"unsafe"

	"github.com/gmartin/coll/allocator/numeric"
)

// Allocator is the capability set every allocator in this module implements.
type Allocator interface {
	// Alloc reserves at least bytes, aligned to a. The zero AllocResult
	// (numeric.Failed) signals failure; it is never a panic.
	Alloc(bytes numeric.ByteSize, a numeric.Alignment) numeric.AllocResult

	// TryExpand attempts to grow the allocation at ptr to newBytes without
	// moving it. It returns the new size on success, or 0 if the allocator
	// cannot grow the block in place. This is never an error: callers that
	// need more space simply allocate fresh and copy.
	TryExpand(newBytes numeric.ByteSize, ptr unsafe.Pointer) numeric.ByteSize

	// Free releases the allocation at ptr. Free(nil) is always a no-op.
	// Freeing a pointer the allocator did not hand out is an invalid free;
	// stackalloc and buddy report it by panicking with their own
	// ErrInvalidFree, while arena and SystemHeap ignore pointers they do not
	// recognise.
	Free(ptr unsafe.Pointer)
}
