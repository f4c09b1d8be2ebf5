package allocator

import "errors"

// Sentinel errors shared by the allocator family. The stackalloc and buddy
// allocators define their own InvalidFree-flavoured errors alongside these
// where an invalid free needs to be distinguished per allocator kind; these
// two are allocator-agnostic (used by Create and by the allocator
// constructors).
var (
	// ErrAllocationFailed is returned by Create when the backing allocator
	// returned a failed AllocResult.
	ErrAllocationFailed = errors.New("allocator: allocation failed")

	// ErrNilAllocator is returned when an operation is given a nil
	// Allocator where one was required.
	ErrNilAllocator = errors.New("allocator: nil allocator")
)
