package heap

import (
	"unsafe"
)

const (
	// Alignment is the alignment of every payload and of every block size.
	Alignment = 2 * unsafe.Sizeof(uintptr(0))

	// MinUnit is the smallest payload a block can carry.
	MinUnit = Alignment

	// HeaderSize is the space reserved in front of each payload.
	HeaderSize = (unsafe.Sizeof(blockHeader{}) + Alignment - 1) &^ (Alignment - 1)

	// Magic marks a live block header.
	Magic uint32 = 0xDEADBEEF

	// magicDead marks a header that was absorbed by a coalesce.
	magicDead uint32 = 0xDEADDEAD

	// maxRequest bounds a single request so size arithmetic cannot wrap.
	maxRequest = ^uintptr(0) >> 1
)

const (
	flagFree    uint16 = 1 << iota // on a free list
	flagMapped                     // directly mapped, owns its region
	flagFence                      // zero-size terminator of a segment
	flagAligned                    // shim in front of an over-aligned payload

	flagMask = flagFree | flagMapped | flagFence | flagAligned
)

// blockHeader sits immediately before every payload.
//
// For heap blocks size and prevSize let a walk move to both physical
// neighbours; seg bounds that walk. next/prev link the block into a free
// list while it is free, or into its arena's mapped list while it is
// directly mapped. For an aligned shim, size is the distance back to the
// header of the real block.
type blockHeader struct {
	size     uintptr
	prevSize uintptr
	next     *blockHeader
	prev     *blockHeader
	seg      *segment
	magic    uint32
	flags    uint16
	arena    uint16
}

// headerOf returns the header in front of payload p.
func headerOf(p unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Add(p, -int(HeaderSize)))
}

func (b *blockHeader) payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(b), HeaderSize)
}

func (b *blockHeader) addr() uintptr { return uintptr(unsafe.Pointer(b)) }

// end is the first byte past the payload.
func (b *blockHeader) end() uintptr { return b.addr() + HeaderSize + b.size }

func (b *blockHeader) isFree() bool    { return b.flags&flagFree != 0 }
func (b *blockHeader) isMapped() bool  { return b.flags&flagMapped != 0 }
func (b *blockHeader) isFence() bool   { return b.flags&flagFence != 0 }
func (b *blockHeader) isAligned() bool { return b.flags&flagAligned != 0 }

// following is the physical successor inside the same segment.
func (b *blockHeader) following() *blockHeader {
	return (*blockHeader)(unsafe.Add(unsafe.Pointer(b), HeaderSize+b.size))
}

// preceding is the physical predecessor. Callers must check first().
func (b *blockHeader) preceding() *blockHeader {
	return (*blockHeader)(unsafe.Add(unsafe.Pointer(b), -int(HeaderSize+b.prevSize)))
}

// first reports whether b opens its segment.
func (b *blockHeader) first() bool { return b == b.seg.first() }

// realBlock follows an aligned shim back to the block it lives in.
func (b *blockHeader) realBlock() *blockHeader {
	return (*blockHeader)(unsafe.Add(unsafe.Pointer(b), -int(b.size)))
}

// bytes is the payload viewed as a slice.
func (b *blockHeader) bytes() []byte {
	return unsafe.Slice((*byte)(b.payload()), b.size)
}

// mappedRegion is the whole mapping behind a directly mapped block.
func (b *blockHeader) mappedRegion() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(b)), HeaderSize+b.size)
}

// initBlock writes a fresh header at p.
func initBlock(p unsafe.Pointer, size, prevSize uintptr, seg *segment, flags, arena uint16) *blockHeader {
	b := (*blockHeader)(p)
	b.size = size
	b.prevSize = prevSize
	b.next = nil
	b.prev = nil
	b.seg = seg
	b.magic = Magic
	b.flags = flags
	b.arena = arena
	return b
}

// request normalizes a caller size to a payload size.
func request(size uintptr) (uintptr, bool) {
	if size > maxRequest {
		return 0, false
	}
	if size < MinUnit {
		return MinUnit, true
	}
	return (size + Alignment - 1) &^ (Alignment - 1), true
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
