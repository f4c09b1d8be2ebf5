package allocator

import (
	"unsafe"

	"github.com/gmartin/coll/allocator/numeric"
)

// Create allocates room for a T through a and returns a pointer to a
// zero-valued T living in that memory. It is the Go equivalent of
// checked_alloc<T>/create<T> from the original allocator2.h: the size and
// alignment come from unsafe.Sizeof/unsafe.Alignof instead of sizeof/alignof,
// and failure is reported as an error instead of a null checked_alloc
// result, since Go callers are expected to check errors rather than pointers.
func Create[T any](a Allocator) (*T, error) {
	if a == nil {
		return nil, ErrNilAllocator
	}
	var zero T
	size := numeric.ByteSize(unsafe.Sizeof(zero))
	align := numeric.AlignFromBytes(numeric.ByteSize(unsafe.Alignof(zero)))
	res := a.Alloc(size, align)
	if !res.OK() {
		return nil, ErrAllocationFailed
	}
	p := (*T)(res.Buffer)
	*p = zero
	return p, nil
}

// Destroy releases a value previously returned by Create, zeroing it first
// so any pointers it held stop keeping their referents alive. Destroy(a,
// nil) is a no-op.
func Destroy[T any](a Allocator, p *T) {
	if p == nil {
		return
	}
	var zero T
	*p = zero
	if a != nil {
		a.Free(unsafe.Pointer(p))
	}
}
