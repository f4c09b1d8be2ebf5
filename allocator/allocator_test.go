package allocator_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/numeric"
)

func TestSystemHeapAllocFreeRoundTrip(t *testing.T) {
	h := allocator.SystemHeap()
	res := h.Alloc(64, numeric.AlignFromBytes(8))
	require.True(t, res.OK())
	require.True(t, numeric.AlignFromBytes(8).IsAligned(res.Buffer))
	h.Free(res.Buffer)
}

func TestSystemHeapTryExpandAlwaysZero(t *testing.T) {
	h := allocator.SystemHeap()
	res := h.Alloc(8, numeric.AlignFromBytes(8))
	require.True(t, res.OK())
	require.Equal(t, numeric.ByteSize(0), h.TryExpand(16, res.Buffer))
	h.Free(res.Buffer)
}

func TestSystemHeapFreeNilIsNoOp(t *testing.T) {
	h := allocator.SystemHeap()
	require.NotPanics(t, func() { h.Free(nil) })
}

type stubAllocator struct{ name string }

func (s *stubAllocator) Alloc(bytes numeric.ByteSize, a numeric.Alignment) numeric.AllocResult {
	return numeric.Failed
}
func (s *stubAllocator) TryExpand(numeric.ByteSize, unsafe.Pointer) numeric.ByteSize { return 0 }
func (s *stubAllocator) Free(unsafe.Pointer)                                        {}

func TestPushDefaultLIFO(t *testing.T) {
	a := &stubAllocator{name: "a"}
	b := &stubAllocator{name: "b"}

	base := allocator.Default()
	sa := allocator.PushDefault(a)
	require.Same(t, a, allocator.Default().(*stubAllocator))

	sb := allocator.PushDefault(b)
	require.Same(t, b, allocator.Default().(*stubAllocator))

	sb.Pop()
	require.Same(t, a, allocator.Default().(*stubAllocator))

	sa.Pop()
	require.Equal(t, base, allocator.Default())
}

func TestPushDefaultOutOfOrderPopLeavesTombstone(t *testing.T) {
	a := &stubAllocator{name: "a"}
	b := &stubAllocator{name: "b"}

	sa := allocator.PushDefault(a)
	sb := allocator.PushDefault(b)

	// Pop the outer scope first (out-of-order relative to push order).
	sa.Pop()
	require.Same(t, b, allocator.Default().(*stubAllocator))

	sb.Pop()
	require.NotSame(t, a, safeDefault(t))
	require.NotSame(t, b, safeDefault(t))
}

func safeDefault(t *testing.T) allocator.Allocator {
	t.Helper()
	return allocator.Default()
}

type recordingSink struct {
	allocs, expands, frees int
}

func (r *recordingSink) OnAlloc(allocator.Allocator, numeric.ByteSize, numeric.ByteSize, unsafe.Pointer, numeric.Alignment) {
	r.allocs++
}
func (r *recordingSink) OnTryExpand(allocator.Allocator, numeric.ByteSize, numeric.ByteSize, unsafe.Pointer) {
	r.expands++
}
func (r *recordingSink) OnFree(allocator.Allocator, unsafe.Pointer) { r.frees++ }

func TestRegisterSinkReceivesNotifications(t *testing.T) {
	sink := &recordingSink{}
	scope := allocator.RegisterSink(sink)
	defer scope.Pop()

	a := &stubAllocator{}
	buf := make([]byte, 8)
	ptr := unsafe.Pointer(&buf[0])
	allocator.NotifyAlloc(a, 8, 8, ptr, numeric.AlignFromBytes(8))
	allocator.NotifyTryExpand(a, 16, 16, ptr)
	allocator.NotifyFree(a, ptr)

	require.Equal(t, 1, sink.allocs)
	require.Equal(t, 1, sink.expands)
	require.Equal(t, 1, sink.frees)
}

func TestRegisterSinkPopStopsNotifications(t *testing.T) {
	sink := &recordingSink{}
	scope := allocator.RegisterSink(sink)
	scope.Pop()

	a := &stubAllocator{}
	allocator.NotifyAlloc(a, 8, 8, nil, numeric.AlignFromBytes(8))
	require.Equal(t, 0, sink.allocs)
}

type node struct {
	a, b int64
	c    byte
}

func TestCreateDestroyRoundTrip(t *testing.T) {
	h := allocator.SystemHeap()
	n, err := allocator.Create[node](h)
	require.NoError(t, err)
	require.NotNil(t, n)
	n.a, n.b, n.c = 1, 2, 3
	allocator.Destroy(h, n)
}

func TestCreateNilAllocator(t *testing.T) {
	_, err := allocator.Create[node](nil)
	require.ErrorIs(t, err, allocator.ErrNilAllocator)
}

func TestDestroyNilIsNoOp(t *testing.T) {
	require.NotPanics(t, func() { allocator.Destroy[node](allocator.SystemHeap(), nil) })
}
