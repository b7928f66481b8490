package heap

import (
	"unsafe"
)

// segment is the header at the start of every heap-extension region.
//
//	[segment][hdr|payload][hdr|payload]...[fence hdr]
//
// The fence is a zero-size header that is never free, so forward walks and
// forward coalescing stop at the segment boundary.
type segment struct {
	size uintptr // region bytes, header and fence included
	next *segment
}

var segHeaderSize = (unsafe.Sizeof(segment{}) + Alignment - 1) &^ (Alignment - 1)

// segOverhead is the space a segment spends on bookkeeping beyond one block header.
var segOverhead = segHeaderSize + 2*HeaderSize

func (s *segment) addr() uintptr { return uintptr(unsafe.Pointer(s)) }

func (s *segment) first() *blockHeader {
	return (*blockHeader)(unsafe.Add(unsafe.Pointer(s), segHeaderSize))
}

func (s *segment) fence() *blockHeader {
	return (*blockHeader)(unsafe.Add(unsafe.Pointer(s), s.size-HeaderSize))
}

func (s *segment) region() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(s)), s.size)
}

// holds reports whether the header at b lies between the first block and
// the fence, inclusive.
func (s *segment) holds(b *blockHeader) bool {
	a := b.addr()
	return a >= s.first().addr() && a <= s.fence().addr()
}

// whollyFree reports whether the segment is a single free block.
func (s *segment) whollyFree() bool {
	b := s.first()
	return b.isFree() && b.following() == s.fence()
}

// newSegment formats mem as a segment holding one free block and a fence.
// The free block is returned unlisted.
func newSegment(mem []byte, arena uint16) (*segment, *blockHeader) {
	s := (*segment)(unsafe.Pointer(unsafe.SliceData(mem)))
	s.size = uintptr(len(mem))
	s.next = nil

	b := initBlock(unsafe.Pointer(s.first()), s.size-segOverhead, 0, s, flagFree, arena)
	initBlock(unsafe.Pointer(s.fence()), 0, b.size, s, flagFence, arena)
	return s, b
}

// extend grows s in place by n bytes that directly follow it. The old
// fence becomes an unlisted free block covering the new space.
func (s *segment) extend(n uintptr) *blockHeader {
	old := s.fence()
	s.size += n
	b := initBlock(unsafe.Pointer(old), n-HeaderSize, old.prevSize, s, flagFree, old.arena)
	initBlock(unsafe.Pointer(s.fence()), 0, b.size, s, flagFence, b.arena)
	return b
}
