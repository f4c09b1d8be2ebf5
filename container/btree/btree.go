// Package btree implements a generic in-memory B-tree map, the Go
// counterpart of original_source's BTreeMap<Key, Value, Order>. Order was a
// compile-time template parameter in the original; Go generics have no
// const-generic equivalent, so it is a runtime field set at construction
// instead (Parameters.Order below).
//
// Node allocation goes through allocator.Create[T]/Destroy[T] for the node
// header itself, exactly as spec.md's node-allocation requirement asks for.
// Each node's keys/values/children are ordinary Go-native slices rather
// than memory carved out of the same allocator: storing live Go slice
// headers (which are themselves pointers into further Go-heap arrays)
// inside memory obtained from an arbitrary Allocator is unsound once that
// allocator is something other than the system heap, because the garbage
// collector does not scan raw byte buffers for pointers. Passing
// allocator.SystemHeap() (the default) keeps everything GC-visible and
// correct; passing an arena/stack/buddy allocator still works for the node
// headers themselves but is documented, not silently hidden, as a
// different-allocator caveat in DESIGN.md.
package btree

import (
	"cmp"
	"iter"

	"github.com/gmartin/coll/allocator"
)

const defaultOrder = 16

type node[K cmp.Ordered, V any] struct {
	leaf     bool
	keys     []K
	values   []V
	children []*node[K, V]
}

// Map is a B-tree ordered map keyed by K, holding values V.
type Map[K cmp.Ordered, V any] struct {
	alloc allocator.Allocator
	order int
	root  *node[K, V]
	size  int
}

// Parameters configures a new Map.
type Parameters struct {
	// Order is the B-tree's branching factor: an internal node holds
	// between Order-1 and 2*Order-1 keys (except the root, which may hold
	// fewer). Defaults to 16.
	Order int
	// Alloc is the allocator node headers are created through. Defaults to
	// allocator.SystemHeap().
	Alloc allocator.Allocator
}

func validateAndCorrect(p Parameters) Parameters {
	if p.Order < 2 {
		p.Order = defaultOrder
	}
	if p.Alloc == nil {
		p.Alloc = allocator.SystemHeap()
	}
	return p
}

// New creates an empty Map.
func New[K cmp.Ordered, V any](params Parameters) *Map[K, V] {
	params = validateAndCorrect(params)
	return &Map[K, V]{alloc: params.Alloc, order: params.Order}
}

func (m *Map[K, V]) newNode(leaf bool) *node[K, V] {
	n, err := allocator.Create[node[K, V]](m.alloc)
	if err != nil {
		panic(err)
	}
	n.leaf = leaf
	maxKeys := 2*m.order - 1
	n.keys = make([]K, 0, maxKeys)
	n.values = make([]V, 0, maxKeys)
	if !leaf {
		n.children = make([]*node[K, V], 0, maxKeys+1)
	}
	return n
}

func (m *Map[K, V]) freeNode(n *node[K, V]) {
	allocator.Destroy(m.alloc, n)
}

// Len returns the number of entries stored.
func (m *Map[K, V]) Len() int { return m.size }

// Get reports whether key is present and, if so, its value.
func (m *Map[K, V]) Get(key K) (V, bool) {
	n := m.root
	for n != nil {
		i, found := search(n.keys, key)
		if found {
			return n.values[i], true
		}
		if n.leaf {
			break
		}
		n = n.children[i]
	}
	var zero V
	return zero, false
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

func search[K cmp.Ordered](keys []K, key K) (int, bool) {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case keys[mid] == key:
			return mid, true
		case keys[mid] < key:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// Insert adds or updates the value for key, returning true if this was a
// new key.
func (m *Map[K, V]) Insert(key K, value V) bool {
	if m.root == nil {
		m.root = m.newNode(true)
	}
	if len(m.root.keys) == 2*m.order-1 {
		old := m.root
		newRoot := m.newNode(false)
		newRoot.children = append(newRoot.children, old)
		m.splitChild(newRoot, 0)
		m.root = newRoot
	}
	return m.insertNonFull(m.root, key, value)
}

func (m *Map[K, V]) splitChild(parent *node[K, V], i int) {
	order := m.order
	child := parent.children[i]
	sibling := m.newNode(child.leaf)

	midKey := child.keys[order-1]
	midValue := child.values[order-1]

	sibling.keys = append(sibling.keys, child.keys[order:]...)
	sibling.values = append(sibling.values, child.values[order:]...)
	child.keys = child.keys[:order-1]
	child.values = child.values[:order-1]

	if !child.leaf {
		sibling.children = append(sibling.children, child.children[order:]...)
		child.children = child.children[:order]
	}

	parent.children = append(parent.children, nil)
	copy(parent.children[i+2:], parent.children[i+1:])
	parent.children[i+1] = sibling

	parent.keys = append(parent.keys, midKey)
	copy(parent.keys[i+1:], parent.keys[i:])
	parent.keys[i] = midKey

	parent.values = append(parent.values, midValue)
	copy(parent.values[i+1:], parent.values[i:])
	parent.values[i] = midValue
}

func (m *Map[K, V]) insertNonFull(n *node[K, V], key K, value V) bool {
	i, found := search(n.keys, key)
	if found {
		n.values[i] = value
		return false
	}
	if n.leaf {
		n.keys = append(n.keys, key)
		copy(n.keys[i+1:], n.keys[i:])
		n.keys[i] = key

		n.values = append(n.values, value)
		copy(n.values[i+1:], n.values[i:])
		n.values[i] = value

		m.size++
		return true
	}
	if len(n.children[i].keys) == 2*m.order-1 {
		m.splitChild(n, i)
		if key > n.keys[i] {
			i++
		} else if key == n.keys[i] {
			n.values[i] = value
			return false
		}
	}
	return m.insertNonFull(n.children[i], key, value)
}

// Delete removes key if present, returning whether it was found.
func (m *Map[K, V]) Delete(key K) bool {
	if m.root == nil {
		return false
	}
	removed := m.delete(m.root, key)
	if removed && len(m.root.keys) == 0 {
		if !m.root.leaf {
			old := m.root
			m.root = m.root.children[0]
			m.freeNode(old)
		} else {
			m.freeNode(m.root)
			m.root = nil
		}
	}
	if removed {
		m.size--
	}
	return removed
}

func (m *Map[K, V]) delete(n *node[K, V], key K) bool {
	i, found := search(n.keys, key)
	if n.leaf {
		if !found {
			return false
		}
		n.keys = append(n.keys[:i], n.keys[i+1:]...)
		n.values = append(n.values[:i], n.values[i+1:]...)
		return true
	}

	if found {
		if len(n.children[i].keys) >= m.order {
			pk, pv := m.maxEntry(n.children[i])
			n.keys[i], n.values[i] = pk, pv
			return m.delete(n.children[i], pk)
		}
		if len(n.children[i+1].keys) >= m.order {
			sk, sv := m.minEntry(n.children[i+1])
			n.keys[i], n.values[i] = sk, sv
			return m.delete(n.children[i+1], sk)
		}
		m.mergeChildren(n, i)
		return m.delete(n.children[i], key)
	}

	if len(n.children[i].keys) < m.order {
		switch {
		case i > 0 && len(n.children[i-1].keys) >= m.order:
			m.borrowFromLeft(n, i)
		case i < len(n.children)-1 && len(n.children[i+1].keys) >= m.order:
			m.borrowFromRight(n, i)
		case i < len(n.children)-1:
			// Merges children[i] and children[i+1] into children[i];
			// the target key still lives at the same index afterward.
			m.mergeChildren(n, i)
		default:
			// Merges children[i-1] and children[i] into children[i-1];
			// the target key now lives one index to the left.
			m.mergeChildren(n, i-1)
			i--
		}
	}
	return m.delete(n.children[i], key)
}

func (m *Map[K, V]) maxEntry(n *node[K, V]) (K, V) {
	for !n.leaf {
		n = n.children[len(n.children)-1]
	}
	return n.keys[len(n.keys)-1], n.values[len(n.values)-1]
}

func (m *Map[K, V]) minEntry(n *node[K, V]) (K, V) {
	for !n.leaf {
		n = n.children[0]
	}
	return n.keys[0], n.values[0]
}

func (m *Map[K, V]) borrowFromLeft(n *node[K, V], i int) {
	child := n.children[i]
	left := n.children[i-1]

	child.keys = append([]K{n.keys[i-1]}, child.keys...)
	child.values = append([]V{n.values[i-1]}, child.values...)
	if !child.leaf {
		lastChild := left.children[len(left.children)-1]
		child.children = append([]*node[K, V]{lastChild}, child.children...)
		left.children = left.children[:len(left.children)-1]
	}

	n.keys[i-1] = left.keys[len(left.keys)-1]
	n.values[i-1] = left.values[len(left.values)-1]
	left.keys = left.keys[:len(left.keys)-1]
	left.values = left.values[:len(left.values)-1]
}

func (m *Map[K, V]) borrowFromRight(n *node[K, V], i int) {
	child := n.children[i]
	right := n.children[i+1]

	child.keys = append(child.keys, n.keys[i])
	child.values = append(child.values, n.values[i])
	if !child.leaf {
		child.children = append(child.children, right.children[0])
		right.children = right.children[1:]
	}

	n.keys[i] = right.keys[0]
	n.values[i] = right.values[0]
	right.keys = right.keys[1:]
	right.values = right.values[1:]
}

func (m *Map[K, V]) mergeChildren(n *node[K, V], i int) {
	left := n.children[i]
	right := n.children[i+1]

	left.keys = append(left.keys, n.keys[i])
	left.values = append(left.values, n.values[i])
	left.keys = append(left.keys, right.keys...)
	left.values = append(left.values, right.values...)
	if !left.leaf {
		left.children = append(left.children, right.children...)
	}

	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.values = append(n.values[:i], n.values[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)

	m.freeNode(right)
}

// All returns an in-order iterator over every (key, value) pair.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		var walk func(n *node[K, V]) bool
		walk = func(n *node[K, V]) bool {
			if n == nil {
				return true
			}
			for i := range n.keys {
				if !n.leaf {
					if !walk(n.children[i]) {
						return false
					}
				}
				if !yield(n.keys[i], n.values[i]) {
					return false
				}
			}
			if !n.leaf {
				return walk(n.children[len(n.children)-1])
			}
			return true
		}
		walk(m.root)
	}
}

// Close releases every node back to the allocator. The Map must not be used
// afterward.
func (m *Map[K, V]) Close() {
	var walk func(n *node[K, V])
	walk = func(n *node[K, V]) {
		if n == nil {
			return
		}
		for _, c := range n.children {
			walk(c)
		}
		m.freeNode(n)
	}
	walk(m.root)
	m.root = nil
	m.size = 0
}
