// Package darray implements a generic dynamic array whose backing storage
// comes from an allocator.Allocator instead of the Go runtime's own slice
// growth, the Go counterpart of original_source's darray<Item>. Because the
// backing memory can come from any allocator in this module (including the
// buddy tree or the stack allocator, whose memory the Go garbage collector
// does not scan for pointers), DArray is meant for plain-old-data element
// types only, the same constraint the original's Item concept placed on
// its template parameter: T should not itself contain pointers whose
// referents need to stay reachable through the array.
package darray

import (
	"unsafe"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/numeric"
)

// DArray is a growable array backed by an explicit allocator.
type DArray[T any] struct {
	alloc    allocator.Allocator
	data     unsafe.Pointer
	length   int
	capacity int
}

func elemSize[T any]() numeric.ByteSize {
	var zero T
	return numeric.ByteSize(unsafe.Sizeof(zero))
}

func elemAlign[T any]() numeric.Alignment {
	var zero T
	return numeric.AlignFromBytes(numeric.ByteSize(unsafe.Alignof(zero)))
}

// New creates an empty DArray backed by alloc. If alloc is nil,
// allocator.Default() is used.
func New[T any](alloc allocator.Allocator) *DArray[T] {
	if alloc == nil {
		alloc = allocator.Default()
	}
	return &DArray[T]{alloc: alloc}
}

// WithCapacity creates an empty DArray with room for at least n elements
// already reserved.
func WithCapacity[T any](alloc allocator.Allocator, n int) *DArray[T] {
	d := New[T](alloc)
	if n > 0 {
		d.reserve(n)
	}
	return d
}

// Len returns the number of elements currently stored.
func (d *DArray[T]) Len() int { return d.length }

// Cap returns the number of elements that can be stored before a regrow.
func (d *DArray[T]) Cap() int { return d.capacity }

func (d *DArray[T]) ptrAt(i int) *T {
	return (*T)(unsafe.Add(d.data, uintptr(i)*uintptr(elemSize[T]())))
}

// At returns the element at index i.
func (d *DArray[T]) At(i int) T {
	if i < 0 || i >= d.length {
		panic("darray: index out of range")
	}
	return *d.ptrAt(i)
}

// Set assigns the element at index i.
func (d *DArray[T]) Set(i int, v T) {
	if i < 0 || i >= d.length {
		panic("darray: index out of range")
	}
	*d.ptrAt(i) = v
}

// Push appends v, growing the backing buffer if necessary.
func (d *DArray[T]) Push(v T) {
	if d.length == d.capacity {
		d.grow()
	}
	*d.ptrAt(d.length) = v
	d.length++
}

// Pop removes and returns the last element. ok is false if the array is
// empty.
func (d *DArray[T]) Pop() (v T, ok bool) {
	if d.length == 0 {
		return v, false
	}
	d.length--
	v = *d.ptrAt(d.length)
	return v, true
}

// Clear empties the array without releasing its backing buffer.
func (d *DArray[T]) Clear() { d.length = 0 }

// Close releases the backing buffer back to its allocator. The DArray must
// not be used afterward.
func (d *DArray[T]) Close() {
	if d.data != nil {
		d.alloc.Free(d.data)
		d.data = nil
		d.length = 0
		d.capacity = 0
	}
}

func (d *DArray[T]) grow() {
	newCap := d.capacity * 2
	if newCap == 0 {
		newCap = 8
	}
	d.reserve(newCap)
}

func (d *DArray[T]) reserve(newCap int) {
	if newCap <= d.capacity {
		return
	}
	size := numeric.ByteSize(newCap) * elemSize[T]()
	align := elemAlign[T]()

	if d.data != nil {
		if grown := d.alloc.TryExpand(size, d.data); grown >= size {
			d.capacity = newCap
			return
		}
	}

	res := d.alloc.Alloc(size, align)
	if !res.OK() {
		panic(allocator.ErrAllocationFailed)
	}
	if d.data != nil {
		old := unsafe.Slice((*T)(d.data), d.length)
		newSlice := unsafe.Slice((*T)(res.Buffer), d.length)
		copy(newSlice, old)
		d.alloc.Free(d.data)
	}
	d.data = res.Buffer
	d.capacity = newCap
}

// All returns an iterator over (index, value) pairs, for use with range.
func (d *DArray[T]) All() func(yield func(int, T) bool) {
	return func(yield func(int, T) bool) {
		for i := 0; i < d.length; i++ {
			if !yield(i, *d.ptrAt(i)) {
				return
			}
		}
	}
}
