// Package arena implements a bump-pointer allocator over a single fixed
// buffer: Alloc is O(1) pointer-bump-and-compare, and Free is a no-op for
// anything inside the arena's range, because the whole point of an arena is
// that individual allocations are never reclaimed — only the arena as a
// whole, by discarding it. Grounded on
// original_source/src/allocators/arena_allocator.cpp.
package arena

import (
	"sync"
	"unsafe"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/numeric"
)

// Arena is a bump-pointer allocator over a single buffer. Requests that do
// not fit in the remaining space fall back to the backing allocator
// (construction-time Parameters.Fallback, or the ambient default if nil)
// instead of failing outright, mirroring ArenaAllocator's constructor
// argument in the original.
type Arena struct {
	mu       sync.Mutex
	fallback allocator.Allocator
	owned    bool // true if we allocated base ourselves and must free it on Close
	base     unsafe.Pointer
	size     numeric.ByteSize
	used     numeric.ByteSize

	// overflow tracks pointers handed out by the fallback allocator so Free
	// can tell them apart from in-range pointers without a range check
	// alone (a fallback allocation can legitimately land adjacent to, or
	// even share a page with, the arena's own buffer).
	overflow map[uintptr]struct{}
}

// Parameters configures a new Arena.
type Parameters struct {
	// Size is the total capacity of the arena's buffer.
	Size numeric.ByteSize
	// Fallback is used for requests the arena cannot satisfy in place. If
	// nil, allocator.Default() is used.
	Fallback allocator.Allocator
}

func validateAndCorrect(p Parameters) Parameters {
	if p.Size == 0 {
		p.Size = 4096
	}
	if p.Fallback == nil {
		p.Fallback = allocator.Default()
	}
	return p
}

// New creates an Arena that owns its buffer, obtained from the fallback
// allocator. Close releases that buffer back to the fallback.
func New(params Parameters) (*Arena, error) {
	params = validateAndCorrect(params)
	res := params.Fallback.Alloc(params.Size, numeric.System())
	if !res.OK() {
		return nil, allocator.ErrAllocationFailed
	}
	return &Arena{
		fallback: params.Fallback,
		owned:    true,
		base:     res.Buffer,
		size:     res.Bytes,
		overflow: make(map[uintptr]struct{}),
	}, nil
}

// NewFromBuffer creates an Arena over caller-supplied memory that the Arena
// does not own; Close will not free it.
func NewFromBuffer(buf []byte, fallback allocator.Allocator) *Arena {
	if fallback == nil {
		fallback = allocator.Default()
	}
	var base unsafe.Pointer
	if len(buf) > 0 {
		base = unsafe.Pointer(&buf[0])
	}
	return &Arena{
		fallback: fallback,
		owned:    false,
		base:     base,
		size:     numeric.ByteSize(len(buf)),
		overflow: make(map[uintptr]struct{}),
	}
}

// Close releases the arena's owned buffer back to its fallback allocator.
// It is a no-op for arenas built with NewFromBuffer.
func (ar *Arena) Close() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.owned && ar.base != nil {
		ar.fallback.Free(ar.base)
		ar.base = nil
		ar.size = 0
		ar.used = 0
	}
}

// Used returns the number of bytes bumped out of the arena so far.
func (ar *Arena) Used() numeric.ByteSize {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.used
}

// Capacity returns the arena's total buffer size.
func (ar *Arena) Capacity() numeric.ByteSize {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.size
}

// Alloc bumps the arena's pointer forward, falling back to the backing
// allocator if the request does not fit in what remains.
func (ar *Arena) Alloc(bytes numeric.ByteSize, align numeric.Alignment) numeric.AllocResult {
	ar.mu.Lock()
	if bytes == 0 {
		ar.mu.Unlock()
		return numeric.Failed
	}
	cur := unsafe.Add(ar.base, ar.used)
	pad := align.Padding(cur)
	need := pad + bytes
	if ar.used+need <= ar.size {
		ptr := unsafe.Add(cur, pad)
		ar.used += need
		res := numeric.AllocResult{Buffer: ptr, Bytes: bytes}
		ar.mu.Unlock()
		allocator.NotifyAlloc(ar, bytes, bytes, ptr, align)
		return res
	}
	fallback := ar.fallback
	ar.mu.Unlock()

	res := fallback.Alloc(bytes, align)
	if res.OK() {
		ar.mu.Lock()
		ar.overflow[uintptr(res.Buffer)] = struct{}{}
		ar.mu.Unlock()
	}
	allocator.NotifyAlloc(ar, bytes, res.Bytes, res.Buffer, align)
	return res
}

// TryExpand always reports growth unavailable, matching ArenaAllocator's
// tryExpand in the original, which unconditionally returns 0 regardless of
// ptr. Callers fall back to a fresh Alloc and copy.
func (ar *Arena) TryExpand(newBytes numeric.ByteSize, ptr unsafe.Pointer) numeric.ByteSize {
	allocator.NotifyTryExpand(ar, newBytes, 0, ptr)
	return 0
}

// Free is a no-op for pointers inside the arena's buffer: individual
// allocations are never reclaimed, only the arena as a whole. Pointers that
// the fallback allocator produced are forwarded to it.
func (ar *Arena) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	ar.mu.Lock()
	_, isOverflow := ar.overflow[uintptr(ptr)]
	if isOverflow {
		delete(ar.overflow, uintptr(ptr))
	}
	fallback := ar.fallback
	ar.mu.Unlock()

	allocator.NotifyFree(ar, ptr)
	if isOverflow {
		fallback.Free(ptr)
	}
}

// Reset rewinds the bump pointer to the start of the buffer, reclaiming
// every in-arena allocation at once. Overflow allocations made via the
// fallback are not affected; callers that used overflow must still Free
// them individually before calling Reset, or leak them.
func (ar *Arena) Reset() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.used = 0
}

var _ allocator.Allocator = (*Arena)(nil)
