package allocator

import (
	"unsafe"

	"github.com/gmartin/coll/allocator/numeric"
)

// LogSink is the documented extension point consumers register against to
// observe allocation traffic across every allocator in the process (leak
// tracking, statistics, auditing). It is deliberately distinct from the
// COLL_LOG_ALLOC environment-gated debug trace in dispatcher.go: a LogSink is part of
// the public API, the debug trace is a developer convenience that never
// ships enabled.
type LogSink interface {
	OnAlloc(a Allocator, requested, allocated numeric.ByteSize, buffer unsafe.Pointer, align numeric.Alignment)
	OnTryExpand(a Allocator, requested, allocated numeric.ByteSize, buffer unsafe.Pointer)
	OnFree(a Allocator, buffer unsafe.Pointer)
}
