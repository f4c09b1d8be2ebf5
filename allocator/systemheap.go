package allocator

import (
	"sync"
	"unsafe"

	"github.com/gmartin/coll/allocator/numeric"
)

// systemHeap is the bottom of every allocator chain: it hands out memory
// backed by ordinary Go slices. It is the equivalent of the original
// library's MallocAllocator wrapping malloc/free, adapted to a garbage
// collected runtime: Go has no manual free, so systemHeap keeps a strong
// reference to every live allocation in a side table keyed by address, and
// drops the reference on Free so the GC can reclaim it once nothing else
// holds a real pointer into it. TryExpand always returns 0, exactly like
// the original MallocAllocator: realloc-in-place is not something a raw
// heap allocator can promise.
type systemHeap struct {
	mu    sync.Mutex
	bufs  map[uintptr][]byte
}

func newSystemHeap() *systemHeap {
	return &systemHeap{bufs: make(map[uintptr][]byte)}
}

func (h *systemHeap) Alloc(bytes numeric.ByteSize, a numeric.Alignment) numeric.AllocResult {
	if bytes == 0 {
		return numeric.Failed
	}
	// Overallocate by the alignment so we can find an aligned interior
	// address even though Go gives us no alignment guarantees on slices
	// beyond the natural alignment of their element type.
	pad := a.Bytes()
	buf := make([]byte, uintptr(bytes)+pad)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := a.RoundUp(base)
	ptr := unsafe.Pointer(aligned)

	h.mu.Lock()
	h.bufs[aligned] = buf
	h.mu.Unlock()

	return numeric.AllocResult{Buffer: ptr, Bytes: bytes}
}

func (h *systemHeap) TryExpand(newBytes numeric.ByteSize, ptr unsafe.Pointer) numeric.ByteSize {
	return 0
}

func (h *systemHeap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	addr := uintptr(ptr)
	h.mu.Lock()
	delete(h.bufs, addr)
	h.mu.Unlock()
}

var systemHeapSingleton = newSystemHeap()

// SystemHeap returns the process-wide allocator backed by the Go runtime
// heap. It is the allocator used when no default has been pushed with
// PushDefault, the bottom turtle every allocator chain eventually rests on.
func SystemHeap() Allocator { return systemHeapSingleton }
