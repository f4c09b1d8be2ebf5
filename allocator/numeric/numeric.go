// Package numeric provides the power-of-two sized primitives the allocator
// family is built on: byte counts, alignments and block sizes are all
// expressed as small log2-based value types so the allocators never carry
// around raw shifts and masks inline.
package numeric

import "unsafe"

// ByteSize is a count of bytes. It is an alias of uintptr, not a distinct
// type; the name only makes allocator signatures read the way the design
// documents describe them.
type ByteSize = uintptr

// Count is a count of items (free lists, block indices, and so on).
type Count = uint32

const maxLog2 = 63 // log2 of the largest representable ByteSize on a 64-bit build

// Power2 represents a power-of-two quantity by its log2 exponent. It is used
// both for alignments and for block/region sizes in the buddy allocator,
// where every size is by construction a power of two.
type Power2 struct {
	log2 uint8
}

// FromLog2 builds a Power2 directly from an exponent.
func FromLog2(log2 uint8) Power2 {
	return Power2{log2: log2}
}

// FromBytes rounds n up to the next power of two and returns it as a Power2.
// FromBytes(0) returns the smallest representable power of two (1 byte).
func FromBytes(n ByteSize) Power2 {
	if n <= 1 {
		return Power2{log2: 0}
	}
	n--
	var log2 uint8
	for n > 0 {
		n >>= 1
		log2++
	}
	return Power2{log2: log2}
}

// SystemAlignment returns the platform's natural pointer alignment, the Go
// equivalent of align::system() in the original library.
func SystemAlignment() Power2 {
	return FromBytes(ByteSize(unsafe.Sizeof(uintptr(0))))
}

// SystemPageSize returns the OS page size via golang.org/x/sys, used by the
// buddy allocator as its default MaxAllocSize (top-level block size) so that
// a tree built with zero-value Parameters lines up with real page boundaries
// instead of an arbitrary constant.
func SystemPageSize() ByteSize {
	return systemPageSize()
}

// Log2 returns the exponent this value represents.
func (p Power2) Log2() uint8 { return p.log2 }

// Value returns the value as a ByteSize, saturating at the largest
// representable ByteSize instead of overflowing.
func (p Power2) Value() ByteSize {
	if p.log2 >= maxLog2+1 {
		return ^ByteSize(0)
	}
	return ByteSize(1) << p.log2
}

// Parent returns the next power of two up (log2+1).
func (p Power2) Parent() Power2 { return Power2{log2: p.log2 + 1} }

// Child returns the next power of two down (log2-1). Calling Child on the
// smallest representable Power2 (log2 == 0) is a programmer error and will
// underflow; callers are expected to check Log2() > 0 first, mirroring the
// original implementation's unchecked pointer arithmetic.
func (p Power2) Child() Power2 { return Power2{log2: p.log2 - 1} }

// Mul multiplies two power-of-two values (adds their exponents).
func (p Power2) Mul(q Power2) Power2 { return Power2{log2: p.log2 + q.log2} }

// Div divides p by q (subtracts exponents). Div by a larger power of two
// underflows the same way Child does.
func (p Power2) Div(q Power2) Power2 { return Power2{log2: p.log2 - q.log2} }

// Less reports whether p represents a smaller value than q.
func (p Power2) Less(q Power2) bool { return p.log2 < q.log2 }

// RoundUp rounds n up to the nearest multiple of this power of two.
func (p Power2) RoundUp(n ByteSize) ByteSize {
	mask := p.Value() - 1
	return (n + mask) &^ mask
}

// RoundDown rounds n down to the nearest multiple of this power of two.
func (p Power2) RoundDown(n ByteSize) ByteSize {
	mask := p.Value() - 1
	return n &^ mask
}

// Alignment is a power-of-two byte alignment requirement. It is kept as a
// distinct type from Power2 even though the representation is identical,
// because the two mean different things at call sites: a Power2 is a size,
// an Alignment is a constraint on an address.
type Alignment struct {
	p Power2
}

// AlignFromBytes builds an Alignment from a byte count, rounding it up to the
// next power of two the same way FromBytes does.
func AlignFromBytes(bytes ByteSize) Alignment {
	return Alignment{p: FromBytes(bytes)}
}

// AlignFromPower2 adapts a Power2 value into an Alignment.
func AlignFromPower2(p Power2) Alignment { return Alignment{p: p} }

// System returns the platform pointer alignment.
func System() Alignment { return Alignment{p: SystemAlignment()} }

// Bytes returns the alignment in bytes.
func (a Alignment) Bytes() ByteSize { return a.p.Value() }

// Log2 returns the alignment's exponent.
func (a Alignment) Log2() uint8 { return a.p.Log2() }

// Mask returns bytes-1, the bitmask used to test/clear low bits of an
// address or size for this alignment.
func (a Alignment) Mask() ByteSize { return a.Bytes() - 1 }

// RoundUp rounds n up to a multiple of this alignment.
func (a Alignment) RoundUp(n ByteSize) ByteSize { return a.p.RoundUp(n) }

// RoundDown rounds n down to a multiple of this alignment.
func (a Alignment) RoundDown(n ByteSize) ByteSize { return a.p.RoundDown(n) }

// IsAligned reports whether ptr already satisfies this alignment.
func (a Alignment) IsAligned(ptr unsafe.Pointer) bool {
	return uintptr(ptr)&a.Mask() == 0
}

// Padding returns the number of bytes that must be skipped from ptr for the
// result to satisfy this alignment.
func (a Alignment) Padding(ptr unsafe.Pointer) ByteSize {
	addr := uintptr(ptr)
	rounded := (addr + a.Mask()) &^ a.Mask()
	return rounded - addr
}

// Less reports whether a is a weaker (smaller) alignment than b.
func (a Alignment) Less(b Alignment) bool { return a.p.Less(b.p) }

// Max returns the stricter (larger) of two alignments.
func Max(a, b Alignment) Alignment {
	if a.Less(b) {
		return b
	}
	return a
}

// AllocResult is the outcome of a single allocation request: a buffer
// pointer and the usable size reported for it, which is at least what was
// requested. The allocators in this module report the requested size even
// where they reserve more (the buddy allocator rounds up to a power-of-two
// block). A nil Buffer signals allocation failure; callers must not
// dereference it.
type AllocResult struct {
	Buffer unsafe.Pointer
	Bytes  ByteSize
}

// OK reports whether the allocation succeeded.
func (r AllocResult) OK() bool { return r.Buffer != nil }

// Failed is the canonical zero-value failure result.
var Failed = AllocResult{}
