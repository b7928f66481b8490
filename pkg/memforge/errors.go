package memforge

import "github.com/joshuapare/memforge/internal/heap"

// Errors returned by the allocator. Test with errors.Is.
var (
	ErrNoMemory         = heap.ErrNoMemory
	ErrInvalidAlignment = heap.ErrInvalidAlignment
	ErrOverflow         = heap.ErrOverflow
	ErrCorrupt          = heap.ErrCorrupt
	ErrDoubleFree       = heap.ErrDoubleFree
	ErrForeignPointer   = heap.ErrForeignPointer
	ErrInvalidConfig    = heap.ErrInvalidConfig
	ErrClosed           = heap.ErrClosed
)

// Diagnostic types (re-exported for convenience).
type (
	Stats           = heap.Stats
	ValidationError = heap.ValidationError
	HeapDump        = heap.HeapDump
	ArenaDump       = heap.ArenaDump
	SegmentDump     = heap.SegmentDump
	FreeListDump    = heap.FreeListDump
	BlockDump       = heap.BlockDump
)
