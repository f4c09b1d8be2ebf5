// Package span implements a lightweight, non-owning view over a contiguous
// run of elements, the Go counterpart of original_source's span<Item,
// Reversed> template. Unlike the C++ original, which used a Reversed bool
// template parameter to select iteration direction at compile time, this
// implementation exposes a Reverse method that returns a new Span over a
// reversed copy of the elements, since Go generics have no non-type template
// parameters to encode that choice in the type itself.
package span

// Span is a view over a contiguous slice of T. Slicing and indexing
// operations all alias the original backing array; only Reverse copies.
type Span[T any] struct {
	data []T
}

// Of wraps s in a Span.
func Of[T any](s []T) Span[T] { return Span[T]{data: s} }

// Len returns the number of elements in the span.
func (s Span[T]) Len() int { return len(s.data) }

// Empty reports whether the span has no elements.
func (s Span[T]) Empty() bool { return len(s.data) == 0 }

// At returns the element at index i.
func (s Span[T]) At(i int) T { return s.data[i] }

// Set assigns the element at index i.
func (s Span[T]) Set(i int, v T) { s.data[i] = v }

// First returns the first element of the span.
func (s Span[T]) First() T { return s.data[0] }

// Last returns the last element of the span.
func (s Span[T]) Last() T { return s.data[len(s.data)-1] }

// Sub returns the sub-span [lo, hi), aliasing the same backing array.
func (s Span[T]) Sub(lo, hi int) Span[T] { return Span[T]{data: s.data[lo:hi]} }

// DropFirst returns the span without its first n elements.
func (s Span[T]) DropFirst(n int) Span[T] { return Span[T]{data: s.data[n:]} }

// DropLast returns the span without its last n elements.
func (s Span[T]) DropLast(n int) Span[T] { return Span[T]{data: s.data[:len(s.data)-n]} }

// Reverse returns a Span over a new slice holding a copy of the elements in
// reverse order. Indexing a reversed Span with At(0) yields the original
// span's last element; writes through either Span do not affect the other.
func (s Span[T]) Reverse() Span[T] {
	data := make([]T, len(s.data))
	for i, v := range s.data {
		data[len(data)-1-i] = v
	}
	return Span[T]{data: data}
}

// All returns an iterator over (index, value) pairs, for use with range.
func (s Span[T]) All() func(yield func(int, T) bool) {
	return func(yield func(int, T) bool) {
		for i, v := range s.data {
			if !yield(i, v) {
				return
			}
		}
	}
}

// Raw returns the backing slice directly. Mutating the result mutates the
// span.
func (s Span[T]) Raw() []T { return s.data }
