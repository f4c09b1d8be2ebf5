package btree_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmartin/coll/container/btree"
)

func TestMapInsertGet(t *testing.T) {
	m := btree.New[int, string](btree.Parameters{Order: 3})
	require.True(t, m.Insert(5, "five"))
	require.True(t, m.Insert(2, "two"))
	require.False(t, m.Insert(5, "FIVE"))

	v, ok := m.Get(5)
	require.True(t, ok)
	require.Equal(t, "FIVE", v)

	_, ok = m.Get(99)
	require.False(t, ok)
	require.Equal(t, 2, m.Len())
}

func TestMapInsertManyAndIterateInOrder(t *testing.T) {
	m := btree.New[int, int](btree.Parameters{Order: 3})
	n := 500
	keys := rand.New(rand.NewSource(1)).Perm(n)
	for _, k := range keys {
		m.Insert(k, k*10)
	}
	require.Equal(t, n, m.Len())

	var seen []int
	for k, v := range m.All() {
		require.Equal(t, k*10, v)
		seen = append(seen, k)
	}
	require.True(t, sort.IntsAreSorted(seen))
	require.Len(t, seen, n)
}

func TestMapDelete(t *testing.T) {
	m := btree.New[int, int](btree.Parameters{Order: 3})
	n := 200
	for i := 0; i < n; i++ {
		m.Insert(i, i)
	}
	rng := rand.New(rand.NewSource(2))
	order := rng.Perm(n)
	for _, k := range order {
		require.True(t, m.Delete(k))
		_, ok := m.Get(k)
		require.False(t, ok)
	}
	require.Equal(t, 0, m.Len())
	require.False(t, m.Delete(0))
}

func TestMapDeleteKeepsRemainingOrdered(t *testing.T) {
	m := btree.New[int, int](btree.Parameters{Order: 2})
	for i := 0; i < 50; i++ {
		m.Insert(i, i)
	}
	for i := 0; i < 50; i += 2 {
		require.True(t, m.Delete(i))
	}
	var seen []int
	for k := range m.All() {
		seen = append(seen, k)
	}
	require.True(t, sort.IntsAreSorted(seen))
	for _, k := range seen {
		require.Equal(t, 1, k%2)
	}
}

func TestMapClose(t *testing.T) {
	m := btree.New[int, int](btree.Parameters{Order: 4})
	for i := 0; i < 100; i++ {
		m.Insert(i, i)
	}
	m.Close()
	require.Equal(t, 0, m.Len())
}
