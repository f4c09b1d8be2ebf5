package leak_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/leak"
	"github.com/gmartin/coll/allocator/numeric"
)

func TestSinkTracksAllocAndFree(t *testing.T) {
	h := allocator.SystemHeap()
	sink := leak.New()
	scope := allocator.RegisterSink(sink)
	defer scope.Pop()

	res := h.Alloc(16, numeric.AlignFromBytes(8))
	allocator.NotifyAlloc(h, 16, res.Bytes, res.Buffer, numeric.AlignFromBytes(8))
	require.Equal(t, 1, sink.LiveAllocationCount())

	allocator.NotifyFree(h, res.Buffer)
	h.Free(res.Buffer)
	require.Equal(t, 0, sink.LiveAllocationCount())
}

func TestSinkReportCSV(t *testing.T) {
	h := allocator.SystemHeap()
	sink := leak.New()
	scope := allocator.RegisterSink(sink)
	defer scope.Pop()

	res := h.Alloc(32, numeric.AlignFromBytes(8))
	allocator.NotifyAlloc(h, 32, res.Bytes, res.Buffer, numeric.AlignFromBytes(8))

	var sb strings.Builder
	require.NoError(t, sink.ReportCSV(&sb))
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Equal(t, "address;size_bytes;allocator", lines[0])
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], ";32;")

	allocator.NotifyFree(h, res.Buffer)
	h.Free(res.Buffer)
}

func TestSinkIgnoresNilBuffer(t *testing.T) {
	sink := leak.New()
	h := allocator.SystemHeap()
	sink.OnAlloc(h, 8, 8, nil, numeric.AlignFromBytes(8))
	require.Equal(t, 0, sink.LiveAllocationCount())
}
