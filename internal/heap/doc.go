// Package heap is the allocation engine behind memforge.
//
// # Layout
//
// Memory comes from a sysmem.Backend and never from the Go heap, so the
// garbage collector neither scans nor moves it. A Heap owns a fixed set of
// arenas. Each arena owns:
//
//   - segments: regions obtained with ExtendHeap, carved into blocks
//   - free lists: one intrusive list per size class plus one for oversized blocks
//   - mapped blocks: requests at or above the mmap threshold, one mapping each
//
// Every payload is preceded by a block header carrying its size, the size
// of its physical predecessor, free-list links, its segment, a magic
// number and flags:
//
//	segment: [seg hdr][hdr|payload][hdr|payload] ... [fence]
//	mapped:  [hdr|payload ........................]
//
// The fence is a zero-size header that closes each segment so walks stop
// at its end.
//
// # Allocation
//
// A request is rounded up to Alignment (minimum MinUnit) and looked up in
// the size-class table. The arena's free lists are searched according to
// the Strategy; on a miss the arena grows by at least SegmentSize. When the
// backend hands out a region that directly follows the newest segment, the
// segment is extended in place. An oversized block is split when the
// remainder can carry a header and MinUnit bytes.
//
// Freed blocks are coalesced with free neighbours in both directions inside
// their segment, so no two adjacent blocks are ever both free.
//
// # Concurrency
//
// Each arena has its own mutex; no operation holds two arena locks.
// Unbound calls probe arenas with TryLock starting at a shared cursor.
// Pinned handles stay on one arena. Statistics are atomic counters.
//
// # Validation
//
// Free, Realloc and UsableSize validate the header in front of the pointer
// and return ErrCorrupt, ErrDoubleFree or ErrForeignPointer. With
// Config.Debug, Free also proves that the owning arena holds the block.
// Building with -tags memforge_strict turns those errors into panics and
// fills freed payloads with 0xDD. Check walks every structure of every
// arena.
package heap
