// Package buddy implements the "lean tree" allocator: a fixed power-of-two
// region recursively split into power-of-two blocks, with per-level bitsets
// tracking which blocks are solid (not currently split into two live
// children) and allocated, plus a per-level byte array recording the log2
// size of the largest free span beneath each split block so alloc can
// descend straight to a fitting child without scanning. Grounded on
// original_source/include/allocators/lean_tree_allocator.h and
// lean_tree_allocator.cpp for construction and allocation; free/coalesce is
// not implemented in the original source at all (its .cpp has alloc but no
// free), so it is built here directly from the free/coalesce description in
// the governing specification.
//
// The solid/allocated bit arrays are github.com/bits-and-blooms/bitset
// BitSets, one pair per level, rather than hand-rolled uint-array bit
// twiddling.
//
// Construction reserves a permanent, offset-0 extent of the managed region
// for the tree's own bookkeeping, the same way lean_tree_allocator.h's
// SHeader lives inside rawMemory rather than beside it: New computes the
// bookkeeping's size and carves it out with the same alloc_at_level
// recursion a user request would use, landing it at the region's base by
// construction (see TestBuddyMetadataAllocationLandsAtBase), and records it
// in Stats().MetadataSize. Free rejects any pointer inside that extent
// before it even tries to find an allocation there. The bit arrays
// themselves stay on the Go side rather than physically relocating into
// that reserved byte range (bits-and-blooms/bitset owns its backing
// storage; there is no API for pointing it at a caller-supplied buffer), so
// the reservation is an honest accounting device, not a literal in-place
// header.
package buddy

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/bits-and-blooms/bitset"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/numeric"
)

// ErrInvalidFree is returned (via panic, see Free) when asked to release a
// pointer that is not the start of a currently live allocation from this
// tree. It is a sentinel value wrapped into the panic, so callers that
// recover can errors.Is it.
var ErrInvalidFree = errors.New("buddy: invalid free")

// Parameters configures a new Buddy.
type Parameters struct {
	// BasicBlockSize is the smallest unit the tree ever splits down to.
	// Rounded up to a power of two; defaults to 64. The self-hosted
	// metadata extent (see New) costs two bits plus one byte per block at
	// every level, so a BasicBlockSize this small relative to the default
	// TotalSize/MaxAllocSize is what keeps that extent inside a single
	// top-level block without the caller having to reason about it.
	BasicBlockSize numeric.ByteSize
	// TotalSize is the size of the region managed. Rounded up to a power
	// of two; defaults to 64 KiB.
	TotalSize numeric.ByteSize
	// MaxAllocSize bounds the size of a single top-level block (and so the
	// largest allocation the tree can ever satisfy in one call, and the
	// recursion depth of alloc/free). Rounded up to a power of two;
	// defaults to the OS page size so a zero-value Parameters carves the
	// region along real page boundaries. TotalSize must be an exact
	// multiple of it.
	MaxAllocSize numeric.ByteSize
	// Backing supplies the region's backing memory. Defaults to
	// allocator.Default() if nil.
	Backing allocator.Allocator
}

func validateAndCorrect(p Parameters) Parameters {
	if p.BasicBlockSize == 0 {
		p.BasicBlockSize = 64
	}
	if p.TotalSize == 0 {
		p.TotalSize = 64 * 1024
	}
	if p.MaxAllocSize == 0 {
		p.MaxAllocSize = numeric.SystemPageSize()
	}
	p.BasicBlockSize = numeric.FromBytes(p.BasicBlockSize).Value()
	p.TotalSize = numeric.FromBytes(p.TotalSize).Value()
	p.MaxAllocSize = numeric.FromBytes(p.MaxAllocSize).Value()
	if p.MaxAllocSize > p.TotalSize {
		p.MaxAllocSize = p.TotalSize
	}
	if p.TotalSize%p.MaxAllocSize != 0 {
		// Round TotalSize up to a whole number of top-level blocks.
		blocks := (p.TotalSize + p.MaxAllocSize - 1) / p.MaxAllocSize
		p.TotalSize = blocks * p.MaxAllocSize
	}
	if p.Backing == nil {
		p.Backing = allocator.Default()
	}
	return p
}

// Stats summarizes a Buddy's current usage.
type Stats struct {
	TotalBytes       numeric.ByteSize
	BytesUsed        numeric.ByteSize
	LargestFreeBlock numeric.ByteSize
	// MetadataSize is the prefix of the region permanently reserved at
	// construction for the tree's own bookkeeping. It is never included in
	// BytesUsed and can never be freed: TotalBytes == BytesUsed +
	// MetadataSize + (bytes still free).
	MetadataSize numeric.ByteSize
}

const (
	lfsAllocated int8 = -1 // sentinel: this block is solid and fully allocated
)

type levelState struct {
	solid     *bitset.BitSet // 1 = block is not split (either free or allocated as one unit)
	allocated *bitset.BitSet // meaningful only where solid is 1: 1 = allocated
	lfs       []int8         // meaningful only where solid is 0: log2 of the largest free span below
}

// Buddy is the lean-tree buddy allocator.
type Buddy struct {
	mu       sync.Mutex
	params   Parameters
	backing  allocator.Allocator
	data     unsafe.Pointer
	basicLog uint8
	topLevel uint8
	topCount uint32
	levels   []levelState // indexed by level, 0..topLevel
	bytesUsed numeric.ByteSize

	// metadataLevel/metadataSize record the permanent, offset-0 allocation
	// carved out of the region at construction to hold the tree's own
	// bookkeeping (see New and the package doc comment). No free ever
	// touches this block; Free rejects any pointer that falls inside it.
	metadataLevel uint8
	metadataSize  numeric.ByteSize
}

// New constructs a Buddy, allocating its backing region from
// params.Backing.
func New(params Parameters) (*Buddy, error) {
	params = validateAndCorrect(params)
	res := params.Backing.Alloc(params.TotalSize, numeric.AlignFromBytes(params.BasicBlockSize))
	if !res.OK() {
		return nil, allocator.ErrAllocationFailed
	}

	basicLog := numeric.FromBytes(params.BasicBlockSize).Log2()
	topLog := numeric.FromBytes(params.MaxAllocSize).Log2()
	topLevel := topLog - basicLog
	topCount := uint32(params.TotalSize / params.MaxAllocSize)

	b := &Buddy{
		params:   params,
		backing:  params.Backing,
		data:     res.Buffer,
		basicLog: basicLog,
		topLevel: topLevel,
		topCount: topCount,
	}
	b.levels = make([]levelState, topLevel+1)
	for lvl := uint8(0); lvl <= topLevel; lvl++ {
		count := b.blockCountAtLevel(lvl)
		b.levels[lvl] = levelState{
			solid:     bitset.New(uint(count)),
			allocated: bitset.New(uint(count)),
			lfs:       make([]int8, count),
		}
	}
	for i := uint32(0); i < topCount; i++ {
		b.levels[topLevel].solid.Set(uint(i))
	}

	metadataBytes := computeMetadataSize(topLevel, params.BasicBlockSize, params.TotalSize)
	metadataLevel, ok := b.levelFor(metadataBytes, numeric.AlignFromBytes(params.BasicBlockSize))
	if !ok {
		params.Backing.Free(res.Buffer)
		return nil, fmt.Errorf("buddy: region too small to hold its own metadata (%d bytes needed)", metadataBytes)
	}
	ptr := b.allocAtLevel(topLevel, 0, metadataLevel)
	if ptr != res.Buffer {
		// allocAtLevel(topLevel, 0, ...) always descends leftmost and must
		// therefore land at offset 0; if it didn't, the tie-breaking rule in
		// selectFittingChild changed underneath this invariant.
		panic("buddy: metadata allocation did not land at the region's base offset")
	}
	b.metadataLevel = metadataLevel
	b.metadataSize = b.blockSizeAtLevel(metadataLevel)
	return b, nil
}

// computeMetadataSize sizes the permanent, self-hosted bookkeeping block: a
// small fixed header plus, per level, the bit arrays a bit-packed
// implementation of levelState would need (solid and allocated, one bit per
// block) and one lfs byte per block, each rounded up to word size. Buddy
// itself still keeps levelState on the Go side (see the package doc
// comment), but the region still reserves and permanently retires exactly
// this many bytes so stats.MetadataSize and the offset-0 inviolability rule
// hold regardless of how the bookkeeping is represented in memory.
func computeMetadataSize(topLevel uint8, basicBlockSize, totalSize numeric.ByteSize) numeric.ByteSize {
	const wordSize = numeric.ByteSize(8)
	const headerSize = numeric.ByteSize(64) // header + per-level pointer/offset table
	totalBasicBlocks := totalSize / basicBlockSize

	size := headerSize
	for level := uint8(0); level <= topLevel; level++ {
		count := totalBasicBlocks >> level
		if count == 0 {
			count = 1
		}
		bitBytes := (count + 7) / 8
		if bitBytes < wordSize {
			bitBytes = wordSize
		}
		perLevel := bitBytes*2 + count // solid bits + allocated bits + lfs bytes
		size += numeric.AlignFromBytes(wordSize).RoundUp(perLevel)
	}
	return size
}

// Close releases the region back to the backing allocator.
func (b *Buddy) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data != nil {
		b.backing.Free(b.data)
		b.data = nil
	}
}

func (b *Buddy) blockCountAtLevel(level uint8) uint32 {
	return b.topCount << (b.topLevel - level)
}

func (b *Buddy) blockSizeAtLevel(level uint8) numeric.ByteSize {
	return numeric.ByteSize(1) << (b.basicLog + level)
}

// Stats reports the tree's current usage.
func (b *Buddy) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	largest := numeric.ByteSize(0)
	for i := uint32(0); i < b.topCount; i++ {
		lfs := b.lfsAt(b.topLevel, i)
		if lfs >= 0 {
			size := numeric.ByteSize(1) << (b.basicLog + uint8(lfs))
			if size > largest {
				largest = size
			}
		}
	}
	return Stats{
		TotalBytes:       b.params.TotalSize,
		BytesUsed:        b.bytesUsed,
		LargestFreeBlock: largest,
		MetadataSize:     b.metadataSize,
	}
}

func (b *Buddy) lfsAt(level uint8, idx uint32) int8 {
	st := &b.levels[level]
	if st.solid.Test(uint(idx)) {
		if st.allocated.Test(uint(idx)) {
			return lfsAllocated
		}
		return int8(level)
	}
	return st.lfs[idx]
}

func (b *Buddy) levelFor(bytes numeric.ByteSize, align numeric.Alignment) (uint8, bool) {
	need := bytes
	if align.Bytes() > need {
		need = align.Bytes()
	}
	if need == 0 {
		need = 1
	}
	needed := numeric.FromBytes(need)
	if needed.Log2() <= b.basicLog {
		return 0, true
	}
	level := needed.Log2() - b.basicLog
	if level > b.topLevel {
		return 0, false
	}
	return level, true
}

// Alloc finds a best-fit free block across the top-level blocks and
// recursively descends/splits down to the requested size.
func (b *Buddy) Alloc(bytes numeric.ByteSize, align numeric.Alignment) numeric.AllocResult {
	b.mu.Lock()
	if bytes == 0 {
		b.mu.Unlock()
		return numeric.Failed
	}
	requiredLevel, ok := b.levelFor(bytes, align)
	if !ok {
		b.mu.Unlock()
		allocator.NotifyAlloc(b, bytes, 0, nil, align)
		return numeric.Failed
	}

	best := int64(-1)
	bestLfs := int8(-2)
	for i := uint32(0); i < b.topCount; i++ {
		lfs := b.lfsAt(b.topLevel, i)
		if lfs < int8(requiredLevel) {
			continue
		}
		if best < 0 || lfs < bestLfs {
			best = int64(i)
			bestLfs = lfs
		}
	}
	if best < 0 {
		b.mu.Unlock()
		allocator.NotifyAlloc(b, bytes, 0, nil, align)
		return numeric.Failed
	}

	ptr := b.allocAtLevel(b.topLevel, uint32(best), requiredLevel)
	allocated := b.blockSizeAtLevel(requiredLevel)
	b.bytesUsed += allocated
	b.mu.Unlock()

	res := numeric.AllocResult{Buffer: ptr, Bytes: bytes}
	allocator.NotifyAlloc(b, bytes, allocated, ptr, align)
	return res
}

func (b *Buddy) allocAtLevel(level uint8, idx uint32, requiredLevel uint8) unsafe.Pointer {
	if level == requiredLevel {
		b.levels[level].allocated.Set(uint(idx))
		// solid was already 1 (it was a free block we chose to use whole).
		b.propagateUp(level, idx)
		return b.addrOf(level, idx)
	}
	b.preSplitCheck(level, idx)
	child := b.selectFittingChild(level, idx, requiredLevel)
	ptr := b.allocAtLevel(level-1, child, requiredLevel)
	b.updateLargestFreeBlock(level, idx)
	return ptr
}

// preSplitCheck ensures the block at (level, idx) is split into two
// FreeSolid children, splitting it first if it is currently a single free
// block.
func (b *Buddy) preSplitCheck(level uint8, idx uint32) {
	st := &b.levels[level]
	if !st.solid.Test(uint(idx)) {
		return // already split
	}
	// Must be free (callers never descend into an allocated solid block).
	st.solid.Clear(uint(idx))
	childLevel := level - 1
	left, right := idx*2, idx*2+1
	b.levels[childLevel].solid.Set(uint(left))
	b.levels[childLevel].solid.Set(uint(right))
	b.levels[childLevel].allocated.Clear(uint(left))
	b.levels[childLevel].allocated.Clear(uint(right))
}

// selectFittingChild picks whichever child leaves the larger contiguous run
// intact: the child with the smallest lfs that still satisfies
// requiredLevel, falling back to the other child if only one qualifies, and
// preferring left on an exact tie. allocAtLevel only calls this once the
// parent's own lfs already confirmed at least one child qualifies.
func (b *Buddy) selectFittingChild(level uint8, idx uint32, requiredLevel uint8) uint32 {
	childLevel := level - 1
	left, right := idx*2, idx*2+1
	leftLfs := b.lfsAt(childLevel, left)
	rightLfs := b.lfsAt(childLevel, right)
	leftFits := leftLfs >= int8(requiredLevel)
	rightFits := rightLfs >= int8(requiredLevel)

	switch {
	case leftFits && rightFits:
		if rightLfs < leftLfs {
			return right
		}
		return left
	case leftFits:
		return left
	default:
		return right
	}
}

// updateLargestFreeBlock recomputes the solid/lfs state of (level, idx)
// from its two children's current state. It is the single place that both
// the split-on-alloc path and the coalesce-on-free path use to keep
// ancestors consistent, since both only ever change a child and need the
// parent recomputed the same way afterward.
func (b *Buddy) updateLargestFreeBlock(level uint8, idx uint32) {
	childLevel := level - 1
	left, right := idx*2, idx*2+1
	leftLfs := b.lfsAt(childLevel, left)
	rightLfs := b.lfsAt(childLevel, right)

	if leftLfs == int8(childLevel) && rightLfs == int8(childLevel) {
		// Both children are entirely free: coalesce back into one free
		// block at this level.
		b.levels[level].solid.Set(uint(idx))
		b.levels[level].allocated.Clear(uint(idx))
		return
	}

	b.levels[level].solid.Clear(uint(idx))
	bigger := leftLfs
	if rightLfs > bigger {
		bigger = rightLfs
	}
	b.levels[level].lfs[idx] = bigger
}

// propagateUp recomputes every ancestor of (level, idx) up to topLevel
// after a leaf-level change.
func (b *Buddy) propagateUp(level uint8, idx uint32) {
	for level < b.topLevel {
		parentLevel := level + 1
		parentIdx := idx >> 1
		b.updateLargestFreeBlock(parentLevel, parentIdx)
		level = parentLevel
		idx = parentIdx
	}
}

func (b *Buddy) addrOf(level uint8, idx uint32) unsafe.Pointer {
	offset := numeric.ByteSize(idx) * b.blockSizeAtLevel(level)
	return unsafe.Add(b.data, offset)
}

// TryExpand always reports growth unavailable: every block in the tree is a
// fixed power of two decided at alloc time, and growing one in place would
// require either stealing a buddy that may itself be live or moving the
// allocation, neither of which this allocator does. Callers fall back to a
// fresh Alloc and copy, exactly as for any allocator that returns 0 here.
func (b *Buddy) TryExpand(newBytes numeric.ByteSize, ptr unsafe.Pointer) numeric.ByteSize {
	allocator.NotifyTryExpand(b, newBytes, 0, ptr)
	return 0
}

// Free releases the block starting at ptr, coalescing with its buddy (and
// that buddy's ancestors) as far up the tree as possible. Freeing a pointer
// that is not the start of a currently live allocation panics with
// ErrInvalidFree: the specification requires invalid frees to be fatal and
// never silent, and this capability interface has no error return for
// Free to report it through instead. A pointer that falls inside the
// region's reserved metadata prefix is always rejected this way, even
// though the bits backing that rejection never move once New returns.
func (b *Buddy) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	b.mu.Lock()
	if offset := uintptr(ptr) - uintptr(b.data); offset < uintptr(b.metadataSize) {
		b.mu.Unlock()
		panic(fmt.Errorf("%w: %p falls within the reserved metadata extent (offset %d < metadata size %d)", ErrInvalidFree, ptr, offset, b.metadataSize))
	}
	level, idx, ok := b.findAllocatedBlock(ptr)
	if !ok {
		b.mu.Unlock()
		panic(fmt.Errorf("%w: %p is not a live allocation", ErrInvalidFree, ptr))
	}
	b.levels[level].allocated.Clear(uint(idx))
	b.bytesUsed -= b.blockSizeAtLevel(level)
	b.propagateUp(level, idx)
	b.mu.Unlock()

	allocator.NotifyFree(b, ptr)
}

// findAllocatedBlock climbs from the basic-block level containing ptr
// upward until it finds the block that was marked allocated as a single
// unit, which is exactly the block alloc() returned this address for. A
// candidate level only counts if idx0 is itself aligned to that level's
// block size (idx0 % 2^level == 0): otherwise ptr only falls somewhere
// inside the covering block's range rather than at its start, and must be
// rejected as an invalid free rather than accepted as if it were the
// original allocation.
func (b *Buddy) findAllocatedBlock(ptr unsafe.Pointer) (level uint8, idx uint32, ok bool) {
	addr := uintptr(ptr)
	base := uintptr(b.data)
	if addr < base || addr >= base+uintptr(b.params.TotalSize) {
		return 0, 0, false
	}
	offset := numeric.ByteSize(addr - base)
	if offset%b.params.BasicBlockSize != 0 {
		return 0, 0, false
	}
	idx0 := uint32(offset / b.params.BasicBlockSize)
	for lvl := uint8(0); lvl <= b.topLevel; lvl++ {
		if idx0&((1<<lvl)-1) != 0 {
			continue
		}
		i := idx0 >> lvl
		st := &b.levels[lvl]
		if st.solid.Test(uint(i)) && st.allocated.Test(uint(i)) {
			return lvl, i, true
		}
	}
	return 0, 0, false
}

// Validate walks the whole tree checking that every split node's recorded
// lfs matches what its children actually report, and that every leaf-level
// bit is internally consistent. It returns ErrInvalidFree-wrapped errors on
// inconsistency (there is no separate "corrupted tree" sentinel: a
// corrupted tree can only arise from the same kind of bookkeeping bug an
// invalid free would cause).
func (b *Buddy) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var walk func(level uint8, idx uint32) error
	walk = func(level uint8, idx uint32) error {
		st := &b.levels[level]
		if st.solid.Test(uint(idx)) {
			return nil
		}
		if level == 0 {
			return fmt.Errorf("%w: level 0 block %d marked split", ErrInvalidFree, idx)
		}
		childLevel := level - 1
		left, right := idx*2, idx*2+1
		if err := walk(childLevel, left); err != nil {
			return err
		}
		if err := walk(childLevel, right); err != nil {
			return err
		}
		leftLfs := b.lfsAt(childLevel, left)
		rightLfs := b.lfsAt(childLevel, right)
		want := leftLfs
		if rightLfs > want {
			want = rightLfs
		}
		if leftLfs == int8(childLevel) && rightLfs == int8(childLevel) {
			return fmt.Errorf("%w: block %d at level %d should have coalesced", ErrInvalidFree, idx, level)
		}
		if st.lfs[idx] != want {
			return fmt.Errorf("%w: block %d at level %d has stale lfs=%d want=%d", ErrInvalidFree, idx, level, st.lfs[idx], want)
		}
		return nil
	}
	for i := uint32(0); i < b.topCount; i++ {
		if err := walk(b.topLevel, i); err != nil {
			return err
		}
	}
	st := &b.levels[b.metadataLevel]
	if !st.solid.Test(0) || !st.allocated.Test(0) {
		return fmt.Errorf("%w: reserved metadata block at level %d index 0 is no longer allocated", ErrInvalidFree, b.metadataLevel)
	}
	return nil
}

var _ allocator.Allocator = (*Buddy)(nil)
