package buddy_test

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/buddy"
	"github.com/gmartin/coll/allocator/numeric"
)

func newBuddy(t *testing.T) *buddy.Buddy {
	t.Helper()
	b, err := buddy.New(buddy.Parameters{
		BasicBlockSize: 16,
		TotalSize:      4096,
		MaxAllocSize:   1024,
		Backing:        allocator.SystemHeap(),
	})
	require.NoError(t, err)
	return b
}

func TestBuddyAllocFreeRoundTrip(t *testing.T) {
	b := newBuddy(t)
	res := b.Alloc(64, numeric.AlignFromBytes(8))
	require.True(t, res.OK())
	require.NoError(t, b.Validate())

	b.Free(res.Buffer)
	require.NoError(t, b.Validate())
	require.Equal(t, numeric.ByteSize(0), b.Stats().BytesUsed)
}

func TestBuddySplitAndCoalesce(t *testing.T) {
	b := newBuddy(t)
	initialLargest := b.Stats().LargestFreeBlock

	a := b.Alloc(16, numeric.AlignFromBytes(8))
	c := b.Alloc(16, numeric.AlignFromBytes(8))
	require.True(t, a.OK())
	require.True(t, c.OK())
	require.NoError(t, b.Validate())

	b.Free(a.Buffer)
	require.NoError(t, b.Validate())
	b.Free(c.Buffer)
	require.NoError(t, b.Validate())

	stats := b.Stats()
	require.Equal(t, numeric.ByteSize(0), stats.BytesUsed)
	// Coalescing must climb all the way back to whatever the tree reported
	// before anything was allocated (the region's reserved metadata corner
	// permanently caps this below stats.TotalBytes; see
	// TestBuddyMetadataIsSelfHostedAndReserved).
	require.Equal(t, initialLargest, stats.LargestFreeBlock)
}

func TestBuddyAllocTooLargeFails(t *testing.T) {
	b := newBuddy(t)
	res := b.Alloc(1<<20, numeric.AlignFromBytes(8))
	require.False(t, res.OK())
}

func TestBuddyExhaustion(t *testing.T) {
	b := newBuddy(t)
	var ptrs []numeric.AllocResult
	for {
		res := b.Alloc(1024, numeric.AlignFromBytes(8))
		if !res.OK() {
			break
		}
		ptrs = append(ptrs, res)
	}
	require.NotEmpty(t, ptrs)
	require.NoError(t, b.Validate())

	for _, p := range ptrs {
		b.Free(p.Buffer)
	}
	require.NoError(t, b.Validate())
	require.Equal(t, numeric.ByteSize(0), b.Stats().BytesUsed)
}

func TestBuddyInvalidFreePanics(t *testing.T) {
	b := newBuddy(t)
	var x int
	require.Panics(t, func() { b.Free(unsafe.Pointer(&x)) })
}

func TestBuddyDoubleFreePanics(t *testing.T) {
	b := newBuddy(t)
	res := b.Alloc(32, numeric.AlignFromBytes(8))
	require.True(t, res.OK())
	b.Free(res.Buffer)
	require.Panics(t, func() { b.Free(res.Buffer) })
}

// TestBuddyFreeInteriorPointerPanics reproduces freeing a basic-block-aligned
// pointer that falls inside a live allocation but is not its start: an
// 8-basic-block (level 3) allocation, freed at its fourth basic block
// (offset 3*16) rather than its first. findAllocatedBlock must reject this as an invalid free
// instead of matching the covering block by address range alone and
// releasing the whole thing.
func TestBuddyFreeInteriorPointerPanics(t *testing.T) {
	b := newBuddy(t)
	res := b.Alloc(128, numeric.AlignFromBytes(8))
	require.True(t, res.OK())

	interior := unsafe.Add(res.Buffer, 3*16)
	require.Panics(t, func() { b.Free(interior) })

	b.Free(res.Buffer)
	require.NoError(t, b.Validate())
	require.Equal(t, numeric.ByteSize(0), b.Stats().BytesUsed)
}

// TestBuddyMetadataIsSelfHostedAndReserved checks that construction carves a
// permanent, non-zero metadata extent out of the region's base offset and
// that it is accounted for outside BytesUsed. See
// TestBuddyFreeWithinMetadataExtentPanics (internal test) for invariant 9
// itself, which needs the region's base address to exercise.
func TestBuddyMetadataIsSelfHostedAndReserved(t *testing.T) {
	b := newBuddy(t)
	stats := b.Stats()
	require.Greater(t, stats.MetadataSize, numeric.ByteSize(0))
	require.Less(t, stats.MetadataSize, stats.TotalBytes)
	require.Equal(t, numeric.ByteSize(0), stats.BytesUsed)
	require.NoError(t, b.Validate())

	res := b.Alloc(16, numeric.AlignFromBytes(8))
	require.True(t, res.OK())
	b.Free(res.Buffer)
}

func TestBuddyTryExpandAlwaysZero(t *testing.T) {
	b := newBuddy(t)
	res := b.Alloc(32, numeric.AlignFromBytes(8))
	require.True(t, res.OK())
	require.Equal(t, numeric.ByteSize(0), b.TryExpand(64, res.Buffer))
}

// TestBuddyBestFitPreservesLargestRun reproduces the best-fit choice
// scenario: with one side of the tree already fragmented (by the reserved
// metadata block every tree carves out of its own leftmost corner, see
// Stats().MetadataSize) and the other side a single untouched 32 KiB run,
// a 4 KiB then a 2 KiB request must both be satisfiable from the fragmented
// side without ever splitting into the untouched run, leaving the largest
// contiguous block fixed at 32 KiB throughout. In this sequence the
// fragmented child is on the left at every split where both children fit,
// so the test checks that the run survives but does not by itself tell a
// best-fit choice apart from one that simply prefers the left child.
func TestBuddyBestFitPreservesLargestRun(t *testing.T) {
	b, err := buddy.New(buddy.Parameters{
		BasicBlockSize: 256,
		TotalSize:      65536,
		MaxAllocSize:   65536,
		Backing:        allocator.SystemHeap(),
	})
	require.NoError(t, err)
	const untouchedRun = numeric.ByteSize(32768)
	require.Equal(t, untouchedRun, b.Stats().LargestFreeBlock)

	big := b.Alloc(4096, numeric.AlignFromBytes(8))
	require.True(t, big.OK())
	require.Equal(t, untouchedRun, b.Stats().LargestFreeBlock)

	small := b.Alloc(2048, numeric.AlignFromBytes(8))
	require.True(t, small.OK())
	require.NoError(t, b.Validate())
	require.Equal(t, untouchedRun, b.Stats().LargestFreeBlock)

	b.Free(big.Buffer)
	require.NoError(t, b.Validate())
	require.Equal(t, untouchedRun, b.Stats().LargestFreeBlock)

	again := b.Alloc(2048, numeric.AlignFromBytes(8))
	require.True(t, again.OK())
	require.NoError(t, b.Validate())
	require.Equal(t, untouchedRun, b.Stats().LargestFreeBlock)
}

func TestBuddyRandomizedAllocFreeStaysConsistent(t *testing.T) {
	b := newBuddy(t)
	rng := rand.New(rand.NewSource(42))
	var live []numeric.AllocResult

	for i := 0; i < 500; i++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			n := rng.Intn(len(live))
			b.Free(live[n].Buffer)
			live = append(live[:n], live[n+1:]...)
			continue
		}
		size := numeric.ByteSize(1 << uint(rng.Intn(7)))
		res := b.Alloc(size, numeric.AlignFromBytes(8))
		if res.OK() {
			live = append(live, res)
		}
	}
	require.NoError(t, b.Validate())

	for _, res := range live {
		b.Free(res.Buffer)
	}
	require.NoError(t, b.Validate())
	require.Equal(t, numeric.ByteSize(0), b.Stats().BytesUsed)
}

var _ allocator.Allocator = (*buddy.Buddy)(nil)
