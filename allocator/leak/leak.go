// Package leak implements the leak-tracking log sink: a LogSink that keeps
// a live map of every outstanding (allocator, pointer) pair and can dump it
// as a CSV report, the Go equivalent of DebugLogSink in the original
// allocator.cpp.
package leak

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"unsafe"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/numeric"
)

type key struct {
	owner string
	ptr   unsafe.Pointer
}

// Sink is a LogSink that tracks every allocation it observes until the
// matching free arrives. Register it with allocator.RegisterSink to track
// a scope; anything still in the map when you ask for a report is a leak.
type Sink struct {
	mu   sync.Mutex
	live map[key]entry
}

type entry struct {
	allocatorName string
	size          numeric.ByteSize
}

// New returns an empty Sink ready to register.
func New() *Sink {
	return &Sink{live: make(map[key]entry)}
}

func ownerKey(a allocator.Allocator, ptr unsafe.Pointer) key {
	// %p on an interface holding a pointer-shaped concrete type prints that
	// pointer's address, which is exactly the allocator identity we need:
	// two interface values wrapping the same *arena.Arena (or *buddy.Buddy,
	// or whatever) must key identically without requiring allocators to be
	// comparable or to implement their own identity method.
	return key{owner: fmt.Sprintf("%p", a), ptr: ptr}
}

// OnAlloc records a new live allocation.
func (s *Sink) OnAlloc(a allocator.Allocator, requested, allocated numeric.ByteSize, buffer unsafe.Pointer, align numeric.Alignment) {
	if buffer == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[ownerKey(a, buffer)] = entry{allocatorName: fmt.Sprintf("%T", a), size: requested}
}

// OnTryExpand updates the tracked size of a grown allocation.
func (s *Sink) OnTryExpand(a allocator.Allocator, requested, allocated numeric.ByteSize, buffer unsafe.Pointer) {
	if buffer == nil || allocated == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ownerKey(a, buffer)
	if e, ok := s.live[k]; ok {
		e.size = allocated
		s.live[k] = e
	}
}

// OnFree removes an allocation from the live set.
func (s *Sink) OnFree(a allocator.Allocator, buffer unsafe.Pointer) {
	if buffer == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, ownerKey(a, buffer))
}

// LiveAllocationCount returns the number of allocations currently tracked
// as live. A non-zero count after a workload completes means a leak.
func (s *Sink) LiveAllocationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// ReportCSV writes every live allocation as "address;size_bytes;allocator",
// one per line, sorted by address for deterministic output.
func (s *Sink) ReportCSV(w io.Writer) error {
	s.mu.Lock()
	type row struct {
		addr uintptr
		e    entry
	}
	rows := make([]row, 0, len(s.live))
	for k, e := range s.live {
		rows = append(rows, row{addr: uintptr(k.ptr), e: e})
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].addr < rows[j].addr })

	if _, err := io.WriteString(w, "address;size_bytes;allocator\n"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "0x%x;%d;%s\n", r.addr, r.e.size, r.e.allocatorName); err != nil {
			return err
		}
	}
	return nil
}

var _ allocator.LogSink = (*Sink)(nil)
