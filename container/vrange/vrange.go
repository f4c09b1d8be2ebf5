// Package vrange implements the Go counterpart of original_source's vrange:
// a type-erased iterable range. The original used a hand-rolled virtual
// interface (a begin/next/value vtable) to erase the concrete iterator type
// behind a single runtime-polymorphic handle. Go 1.23 range-over-func
// iterators (iter.Seq[T]) are the idiomatic equivalent of that same idea —
// a push-style, type-erased sequence any container can produce and any
// consumer can range over without either side knowing the other's concrete
// type — so VRange here is a thin named type over iter.Seq[T] plus the
// handful of combinators the original exposed (Filter, Map, Take), rather
// than a reimplementation of virtual dispatch.
package vrange

import "iter"

// VRange is a type-erased, possibly lazy sequence of T.
type VRange[T any] iter.Seq[T]

// Of adapts a plain slice into a VRange.
func Of[T any](items []T) VRange[T] {
	return func(yield func(T) bool) {
		for _, v := range items {
			if !yield(v) {
				return
			}
		}
	}
}

// Collect drains r into a new slice.
func Collect[T any](r VRange[T]) []T {
	var out []T
	for v := range r {
		out = append(out, v)
	}
	return out
}

// Filter returns a VRange yielding only the elements of r for which keep
// returns true.
func Filter[T any](r VRange[T], keep func(T) bool) VRange[T] {
	return func(yield func(T) bool) {
		for v := range r {
			if keep(v) && !yield(v) {
				return
			}
		}
	}
}

// Map returns a VRange yielding f applied to every element of r.
func Map[T, U any](r VRange[T], f func(T) U) VRange[U] {
	return func(yield func(U) bool) {
		for v := range r {
			if !yield(f(v)) {
				return
			}
		}
	}
}

// Take returns a VRange yielding at most the first n elements of r.
func Take[T any](r VRange[T], n int) VRange[T] {
	return func(yield func(T) bool) {
		if n <= 0 {
			return
		}
		count := 0
		for v := range r {
			if !yield(v) {
				return
			}
			count++
			if count >= n {
				return
			}
		}
	}
}

// Count drains r just to count its elements.
func Count[T any](r VRange[T]) int {
	n := 0
	for range r {
		n++
	}
	return n
}
