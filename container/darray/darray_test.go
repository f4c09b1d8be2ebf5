package darray_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/container/darray"
)

func TestDArrayPushPop(t *testing.T) {
	d := darray.New[int](allocator.SystemHeap())
	defer d.Close()

	for i := 0; i < 100; i++ {
		d.Push(i)
	}
	require.Equal(t, 100, d.Len())
	require.GreaterOrEqual(t, d.Cap(), 100)

	for i := 99; i >= 0; i-- {
		v, ok := d.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := d.Pop()
	require.False(t, ok)
}

func TestDArrayAtSet(t *testing.T) {
	d := darray.New[int](allocator.SystemHeap())
	defer d.Close()
	d.Push(1)
	d.Push(2)
	d.Set(0, 42)
	require.Equal(t, 42, d.At(0))
	require.Equal(t, 2, d.At(1))
}

func TestDArrayWithCapacity(t *testing.T) {
	d := darray.WithCapacity[int](allocator.SystemHeap(), 50)
	defer d.Close()
	require.GreaterOrEqual(t, d.Cap(), 50)
	require.Equal(t, 0, d.Len())
}

func TestDArrayAll(t *testing.T) {
	d := darray.New[int](allocator.SystemHeap())
	defer d.Close()
	for i := 0; i < 5; i++ {
		d.Push(i * i)
	}
	var got []int
	for i, v := range d.All() {
		require.Equal(t, i*i, v)
		got = append(got, v)
	}
	require.Equal(t, []int{0, 1, 4, 9, 16}, got)
}

func TestDArrayClear(t *testing.T) {
	d := darray.New[int](allocator.SystemHeap())
	defer d.Close()
	d.Push(1)
	d.Push(2)
	d.Clear()
	require.Equal(t, 0, d.Len())
	d.Push(3)
	require.Equal(t, 3, d.At(0))
}

func TestDArrayIndexOutOfRangePanics(t *testing.T) {
	d := darray.New[int](allocator.SystemHeap())
	defer d.Close()
	require.Panics(t, func() { d.At(0) })
}
