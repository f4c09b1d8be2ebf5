package numeric

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestPower2FromBytes(t *testing.T) {
	cases := []struct {
		in   ByteSize
		want uint8
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{1024, 10},
		{1025, 11},
	}
	for _, c := range cases {
		require.Equalf(t, c.want, FromBytes(c.in).Log2(), "FromBytes(%d)", c.in)
	}
}

func TestPower2Value(t *testing.T) {
	require.Equal(t, ByteSize(1), FromLog2(0).Value())
	require.Equal(t, ByteSize(1024), FromLog2(10).Value())
}

func TestPower2ParentChild(t *testing.T) {
	p := FromLog2(4)
	require.Equal(t, uint8(5), p.Parent().Log2())
	require.Equal(t, uint8(3), p.Child().Log2())
	require.True(t, p.Child().Less(p))
	require.True(t, p.Less(p.Parent()))
}

func TestPower2RoundUpDown(t *testing.T) {
	p := FromLog2(4) // 16
	require.Equal(t, ByteSize(16), p.RoundUp(1))
	require.Equal(t, ByteSize(16), p.RoundUp(16))
	require.Equal(t, ByteSize(32), p.RoundUp(17))
	require.Equal(t, ByteSize(0), p.RoundDown(15))
	require.Equal(t, ByteSize(16), p.RoundDown(31))
}

func TestAlignmentPadding(t *testing.T) {
	a := AlignFromBytes(8)
	buf := make([]byte, 32)
	base := unsafe.Pointer(&buf[0])
	for off := uintptr(0); off < 8; off++ {
		ptr := unsafe.Add(base, off)
		pad := a.Padding(ptr)
		require.True(t, a.IsAligned(unsafe.Add(ptr, pad)))
		require.Less(t, pad, ByteSize(8))
	}
}

func TestAlignmentMax(t *testing.T) {
	small := AlignFromBytes(4)
	big := AlignFromBytes(16)
	require.Equal(t, big, Max(small, big))
	require.Equal(t, big, Max(big, small))
}

func TestSystemAlignmentMatchesPointerWidth(t *testing.T) {
	require.Equal(t, ByteSize(unsafe.Sizeof(uintptr(0))), SystemAlignment().Value())
}

func TestSystemPageSizeIsPlausible(t *testing.T) {
	size := SystemPageSize()
	require.Greater(t, size, ByteSize(0))
	require.Equal(t, ByteSize(0), size%512, "page size should be a multiple of the smallest common sector size")
}

func TestAllocResultOK(t *testing.T) {
	require.False(t, Failed.OK())
	buf := make([]byte, 1)
	r := AllocResult{Buffer: unsafe.Pointer(&buf[0]), Bytes: 1}
	require.True(t, r.OK())
}
