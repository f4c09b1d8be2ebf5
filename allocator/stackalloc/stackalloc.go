// Package stackalloc implements a growable LIFO (stack) allocator: a chain
// of blocks, each handed out by a backing allocator, over which allocations
// are pushed and popped like a stack. Freeing the most recently allocated
// chunk reclaims it immediately and cascades into any chunks below it that
// were already freed out of order; freeing anything else just marks a hole
// that is reclaimed once the stack unwinds down to it. Grounded on
// original_source/src/allocators/stack_allocator.cpp.
//
// Unlike the original, bookkeeping (block headers, chunk metadata) lives in
// ordinary garbage-collected Go structs alongside the allocator rather than
// packed inside the backing buffer itself: storing live Go state inside
// memory obtained from an arbitrary Allocator is unsound in Go, since the
// garbage collector does not scan byte buffers for pointers. Every
// externally observable invariant (LIFO compaction, non-LIFO holes,
// try-expand-top-only) is preserved; only where the bookkeeping physically
// lives has changed.
package stackalloc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/numeric"
)

// ErrInvalidFree is returned by Validate and can be produced by Free when
// asked to release a pointer that is not a live allocation from this
// allocator. It is a distinguished type so callers can errors.Is it instead
// of the free silently doing nothing, matching the "fatal, never silent"
// handling spec.md requires for invalid frees.
var ErrInvalidFree = errors.New("stackalloc: invalid free")

// Parameters configures a new StackAllocator.
type Parameters struct {
	// MinBlockSize is the minimum size of any block, including the first.
	// Clamped up to limitMinBlockSize; defaults to 256.
	MinBlockSize numeric.ByteSize
	// MaxBlockSize caps how large a new block is allowed to grow from the
	// running total of memory already obtained. A single allocation
	// request bigger than MaxBlockSize still gets a dedicated block sized
	// to fit it: this limit bounds growth, not any individual request.
	// Clamped down to limitMaxBlockSize; defaults to 1 MiB.
	MaxBlockSize numeric.ByteSize
	// Backing is the allocator new blocks are obtained from. Defaults to
	// allocator.Default() if nil.
	Backing allocator.Allocator
}

// Hard limits mirroring stack_allocator.h's Limits struct: maxAllocSize,
// maxBlockSize, minBlockSize and maxAlign = system alignment << 7. Alloc
// rejects any request outside maxAllocSize/maxAlign instead of silently
// accepting it; Parameters.MinBlockSize/MaxBlockSize are clamped into this
// range regardless of what the caller asks for.
const (
	limitMaxAllocSize = numeric.ByteSize(0x8000_0000) // 2 GiB
	limitMaxBlockSize = numeric.ByteSize(0x0800_0000) // 128 MiB
	limitMinBlockSize = numeric.ByteSize(0x20)
)

func limitMaxAlign() numeric.Alignment {
	sys := numeric.SystemAlignment()
	return numeric.AlignFromPower2(numeric.FromLog2(sys.Log2() + 7))
}

func validateAndCorrect(p Parameters) Parameters {
	if p.MinBlockSize == 0 {
		p.MinBlockSize = 256
	}
	if p.MaxBlockSize == 0 {
		p.MaxBlockSize = 1024 * 1024
	}
	if p.MinBlockSize < limitMinBlockSize {
		p.MinBlockSize = limitMinBlockSize
	}
	if p.MaxBlockSize < p.MinBlockSize {
		p.MaxBlockSize = p.MinBlockSize
	}
	if p.MaxBlockSize > limitMaxBlockSize {
		p.MaxBlockSize = limitMaxBlockSize
	}
	if p.Backing == nil {
		p.Backing = allocator.Default()
	}
	return p
}

type chunkMeta struct {
	offset numeric.ByteSize // offset of the payload (post-padding) within the block
	bytes  numeric.ByteSize
	pad    numeric.ByteSize
	used   bool
}

type block struct {
	base     unsafe.Pointer
	capacity numeric.ByteSize
	used     numeric.ByteSize
	chunks   []chunkMeta
	next     *block
}

func (b *block) freeBytes() numeric.ByteSize { return b.capacity - b.used }

// StackAllocator is a growable LIFO allocator.
type StackAllocator struct {
	mu      sync.Mutex
	params  Parameters
	backing allocator.Allocator
	top     *block
	blocks  int              // number of live blocks, for reporting
	total   numeric.ByteSize // sum of the capacity of every block ever obtained, live or not
}

// New creates an empty StackAllocator; the first block is allocated lazily
// on first use.
func New(params Parameters) *StackAllocator {
	params = validateAndCorrect(params)
	return &StackAllocator{params: params, backing: params.Backing}
}

// pushNewBlock obtains a new block sized the way stack_allocator.cpp's
// pushNewBlock computes it: at least MinBlockSize, growing with the running
// total of memory already obtained but capped at MaxBlockSize, except that
// allocSize (the request that didn't fit anywhere else, already padded for
// alignment) always gets a block at least as large as itself even if that
// means exceeding MaxBlockSize.
func (s *StackAllocator) pushNewBlock(allocSize numeric.ByteSize, align numeric.Alignment) error {
	size := s.params.MinBlockSize
	if s.total > size {
		size = s.total
	}
	if size > s.params.MaxBlockSize {
		size = s.params.MaxBlockSize
	}
	if allocSize > size {
		size = allocSize
	}
	res := s.backing.Alloc(size, align)
	if !res.OK() {
		return allocator.ErrAllocationFailed
	}
	b := &block{base: res.Buffer, capacity: res.Bytes, next: s.top}
	s.top = b
	s.blocks++
	s.total += res.Bytes
	return nil
}

// Alloc reserves bytes, aligned to align, pushing a new block if the
// current top block doesn't have room. Rejects, without panicking, any
// request whose alignment or size exceeds the hard limits every
// StackAllocator enforces regardless of Parameters (limitMaxAlign,
// limitMaxAllocSize): spec step 1 of alloc is "reject if a > max alignment
// or bytes > max allocation" before anything else is attempted.
func (s *StackAllocator) Alloc(bytes numeric.ByteSize, align numeric.Alignment) numeric.AllocResult {
	s.mu.Lock()
	if bytes == 0 {
		s.mu.Unlock()
		return numeric.Failed
	}
	if limitMaxAlign().Less(align) || bytes > limitMaxAllocSize {
		s.mu.Unlock()
		allocator.NotifyAlloc(s, bytes, 0, nil, align)
		return numeric.Failed
	}
	align = numeric.Max(align, numeric.System())
	if s.top == nil || !s.fits(s.top, bytes, align) {
		if err := s.pushNewBlock(bytes+align.Bytes(), align); err != nil {
			s.mu.Unlock()
			allocator.NotifyAlloc(s, bytes, 0, nil, align)
			return numeric.Failed
		}
	}
	b := s.top
	cur := unsafe.Add(b.base, b.used)
	pad := align.Padding(cur)
	offset := b.used + pad
	ptr := unsafe.Add(b.base, offset)
	b.used += pad + bytes
	b.chunks = append(b.chunks, chunkMeta{offset: offset, bytes: bytes, pad: pad, used: true})
	s.mu.Unlock()

	res := numeric.AllocResult{Buffer: ptr, Bytes: bytes}
	allocator.NotifyAlloc(s, bytes, bytes, ptr, align)
	return res
}

func (s *StackAllocator) fits(b *block, bytes numeric.ByteSize, align numeric.Alignment) bool {
	cur := unsafe.Add(b.base, b.used)
	pad := align.Padding(cur)
	return b.used+pad+bytes <= b.capacity
}

// TryExpand grows ptr in place if and only if it is the most recently
// allocated chunk in the top block (the only chunk guaranteed to have
// nothing after it).
func (s *StackAllocator) TryExpand(newBytes numeric.ByteSize, ptr unsafe.Pointer) numeric.ByteSize {
	if ptr == nil {
		return 0
	}
	s.mu.Lock()
	b := s.top
	if b == nil || len(b.chunks) == 0 {
		s.mu.Unlock()
		return 0
	}
	topChunk := &b.chunks[len(b.chunks)-1]
	if unsafe.Add(b.base, topChunk.offset) != ptr {
		s.mu.Unlock()
		return 0
	}
	available := b.capacity - (topChunk.offset)
	if newBytes <= topChunk.bytes || newBytes > available {
		s.mu.Unlock()
		return 0
	}
	delta := newBytes - topChunk.bytes
	b.used += delta
	topChunk.bytes = newBytes
	s.mu.Unlock()

	allocator.NotifyTryExpand(s, newBytes, newBytes, ptr)
	return newBytes
}

// Free releases ptr. If ptr is the top-of-stack chunk, it (and any
// already-freed chunks directly below it) are reclaimed immediately. Any
// other chunk is marked freed in place, leaving a hole that is absorbed
// once the stack unwinds down to it.
func (s *StackAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	s.mu.Lock()
	b, idx := s.findChunk(ptr)
	if b == nil {
		s.mu.Unlock()
		panic(fmt.Errorf("%w: %p is not a live allocation from this stack", ErrInvalidFree, ptr))
	}
	if !b.chunks[idx].used {
		s.mu.Unlock()
		panic(fmt.Errorf("%w: %p already freed", ErrInvalidFree, ptr))
	}
	b.chunks[idx].used = false
	if idx == len(b.chunks)-1 {
		s.compact(b)
	}
	s.mu.Unlock()
	allocator.NotifyFree(s, ptr)
}

// compact pops every trailing freed chunk off b, then, for as long as the
// top block is empty and is not the last block in the chain, unlinks it and
// returns its memory to the backing allocator, moving top to the next block.
// An emptied block below a non-empty top stays in the chain until it becomes
// the top, and the last remaining block is kept even when empty.
func (s *StackAllocator) compact(b *block) {
	for len(b.chunks) > 0 && !b.chunks[len(b.chunks)-1].used {
		last := b.chunks[len(b.chunks)-1]
		b.used = last.offset - last.pad
		b.chunks = b.chunks[:len(b.chunks)-1]
	}
	for s.top != nil && len(s.top.chunks) == 0 && s.top.next != nil {
		dead := s.top
		s.top = dead.next
		s.blocks--
		s.backing.Free(dead.base)
	}
}

func (s *StackAllocator) findChunk(ptr unsafe.Pointer) (*block, int) {
	for b := s.top; b != nil; b = b.next {
		addr := uintptr(ptr)
		base := uintptr(b.base)
		if addr < base || addr >= base+uintptr(b.capacity) {
			continue
		}
		offset := numeric.ByteSize(addr - base)
		for i := range b.chunks {
			if b.chunks[i].offset == offset {
				return b, i
			}
		}
		return nil, -1
	}
	return nil, -1
}

// Validate walks every block and chunk, checking that offsets are
// monotonic, non-overlapping and within capacity, and that each block's
// accounted used bytes equals the end of its last chunk (zero when empty).
func (s *StackAllocator) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for b := s.top; b != nil; b = b.next {
		var prevEnd numeric.ByteSize
		for i, c := range b.chunks {
			if c.offset < prevEnd {
				return fmt.Errorf("%w: chunk %d overlaps the previous chunk", ErrInvalidFree, i)
			}
			if c.offset+c.bytes > b.capacity {
				return fmt.Errorf("%w: chunk %d exceeds block capacity", ErrInvalidFree, i)
			}
			prevEnd = c.offset + c.bytes
		}
		if len(b.chunks) == 0 {
			if b.used != 0 {
				return fmt.Errorf("%w: empty block reports nonzero used=%d", ErrInvalidFree, b.used)
			}
			continue
		}
		last := b.chunks[len(b.chunks)-1]
		if b.used != last.offset+last.bytes {
			return fmt.Errorf("%w: block used=%d does not match last chunk end=%d", ErrInvalidFree, b.used, last.offset+last.bytes)
		}
	}
	return nil
}

// DumpCSV writes "Block,Offset,Size,Address,Status" for every chunk across
// every live block, newest block first, stack order within a block.
func (s *StackAllocator) DumpCSV(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(w, "Block,Offset,Size,Address,Status\n"); err != nil {
		return err
	}
	blockIdx := 0
	for b := s.top; b != nil; b = b.next {
		for _, c := range b.chunks {
			status := "free"
			if c.used {
				status = "used"
			}
			addr := unsafe.Add(b.base, c.offset)
			if _, err := fmt.Fprintf(w, "%d,%d,%d,%p,%s\n", blockIdx, c.offset, c.bytes, addr, status); err != nil {
				return err
			}
		}
		blockIdx++
	}
	return nil
}

// BlockCount returns the number of blocks currently in the chain.
func (s *StackAllocator) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks
}

var _ allocator.Allocator = (*StackAllocator)(nil)
