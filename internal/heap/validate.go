package heap

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/memforge/internal/logger"
)

// ValidationError describes the first inconsistency Check found.
type ValidationError struct {
	Type    string  // segment, block, fence, freelist, mapped
	Message string  // human-readable description
	Addr    uintptr // header address, 0 if N/A
	Arena   int
}

func (e *ValidationError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s at %#x (arena %d): %s", e.Type, e.Addr, e.Arena, e.Message)
	}
	return fmt.Sprintf("%s (arena %d): %s", e.Type, e.Arena, e.Message)
}

// Unwrap lets errors.Is(err, ErrCorrupt) match every validation failure.
func (e *ValidationError) Unwrap() error { return ErrCorrupt }

// checkHeader validates the parts of a header that only its owner writes,
// so it can run before the arena lock is taken.
func (h *Heap) checkHeader(b *blockHeader) error {
	switch b.magic {
	case Magic:
	case magicDead:
		return fmt.Errorf("%w: block %s was merged into a free neighbour", ErrDoubleFree, hexAddr(b.addr()))
	default:
		return fmt.Errorf("%w: bad magic %#x at %s", ErrCorrupt, b.magic, hexAddr(b.addr()))
	}
	if b.flags&^flagMask != 0 {
		return fmt.Errorf("%w: unknown flags %#x at %s", ErrCorrupt, b.flags, hexAddr(b.addr()))
	}
	if b.size%Alignment != 0 {
		return fmt.Errorf("%w: misaligned size %d at %s", ErrCorrupt, b.size, hexAddr(b.addr()))
	}
	if int(b.arena) >= len(h.dir.arenas) {
		return fmt.Errorf("%w: arena %d at %s", ErrForeignPointer, b.arena, hexAddr(b.addr()))
	}
	return nil
}

// resolve maps a payload pointer to the header of the block it belongs
// to, following an aligned shim when there is one.
func (h *Heap) resolve(p unsafe.Pointer) (*blockHeader, error) {
	b := headerOf(p)
	if err := h.checkHeader(b); err != nil {
		return nil, err
	}
	if !b.isAligned() {
		return b, nil
	}
	if b.flags != flagAligned || b.size < HeaderSize {
		return nil, fmt.Errorf("%w: bad aligned shim at %s", ErrCorrupt, hexAddr(b.addr()))
	}
	shim := b
	b = b.realBlock()
	if err := h.checkHeader(b); err != nil {
		return nil, err
	}
	if b.isAligned() || b.arena != shim.arena {
		return nil, fmt.Errorf("%w: aligned shim at %s names no block", ErrCorrupt, hexAddr(shim.addr()))
	}
	return b, nil
}

// checkOwned finishes validating b under the lock of its arena a. In
// debug mode it also proves that a actually owns b.
func (h *Heap) checkOwned(a *arena, b *blockHeader) error {
	switch {
	case b.isFence():
		return fmt.Errorf("%w: segment fence at %s", ErrCorrupt, hexAddr(b.addr()))
	case b.isFree():
		return fmt.Errorf("%w: block at %s", ErrDoubleFree, hexAddr(b.addr()))
	}

	if b.isMapped() {
		if b.seg != nil {
			return fmt.Errorf("%w: mapped block at %s has a segment", ErrCorrupt, hexAddr(b.addr()))
		}
		if h.cfg.Debug && !a.ownsMapped(b) {
			return fmt.Errorf("%w: mapped block at %s not in arena %d", ErrForeignPointer, hexAddr(b.addr()), a.index)
		}
		return nil
	}

	if b.seg == nil {
		return fmt.Errorf("%w: heap block at %s has no segment", ErrCorrupt, hexAddr(b.addr()))
	}
	if h.cfg.Debug && !a.ownsSegment(b.seg) {
		return fmt.Errorf("%w: segment %s not in arena %d", ErrForeignPointer, hexAddr(b.seg.addr()), a.index)
	}
	if !b.seg.holds(b) || b.end() > b.seg.fence().addr() {
		return fmt.Errorf("%w: block at %s overruns its segment", ErrCorrupt, hexAddr(b.addr()))
	}
	return nil
}

func (a *arena) ownsMapped(b *blockHeader) bool {
	for m := a.mapped; m != nil; m = m.next {
		if m == b {
			return true
		}
	}
	return false
}

// report logs an invalid pointer passed to op. Strict builds panic.
func (h *Heap) report(op string, p unsafe.Pointer, err error) error {
	logger.Warn("invalid pointer", "op", op, "addr", hexAddr(uintptr(p)), "err", err)
	if strict {
		panic(fmt.Sprintf("memforge: %s(%#x): %v", op, uintptr(p), err))
	}
	return err
}

// Validate reports whether Check finds no inconsistency.
func (h *Heap) Validate() bool { return h.Check() == nil }

// Check walks every arena under its lock and returns the first
// inconsistency as a *ValidationError.
func (h *Heap) Check() error {
	if h.closed.Load() {
		return ErrClosed
	}
	for _, a := range h.dir.arenas {
		h.lockArena(a)
		err := a.check(h)
		a.unlock()
		if err != nil {
			logger.Warn("heap validation failed", "err", err)
			return err
		}
	}
	return nil
}

func (a *arena) check(h *Heap) error {
	fail := func(typ string, b uintptr, format string, args ...any) error {
		return &ValidationError{Type: typ, Message: fmt.Sprintf(format, args...), Addr: b, Arena: int(a.index)}
	}

	segs := make(map[*segment]struct{}, a.nsegs)
	var free int
	var held uintptr
	for s := a.segs; s != nil; s = s.next {
		if _, dup := segs[s]; dup {
			return fail("segment", s.addr(), "segment list has a cycle")
		}
		segs[s] = struct{}{}
		if s.size < segOverhead+MinUnit || s.size%h.pageSize != 0 {
			return fail("segment", s.addr(), "bad segment size %d", s.size)
		}
		held += s.size

		n, err := a.checkSegment(h, s, fail)
		if err != nil {
			return err
		}
		free += n
	}
	if len(segs) != a.nsegs {
		return fail("segment", 0, "segment count %d, recorded %d", len(segs), a.nsegs)
	}
	if held != a.heapSize {
		return fail("segment", 0, "segments hold %d bytes, recorded %d", held, a.heapSize)
	}

	listed := 0
	for c := 0; c <= h.classes.NumClasses(); c++ {
		var prev *blockHeader
		n := 0
		for b := a.lists.heads[c]; b != nil; b = b.next {
			if n > free {
				return fail("freelist", 0, "class %d holds more blocks than the heap has free", c)
			}
			switch {
			case b.magic != Magic:
				return fail("freelist", b.addr(), "bad magic %#x", b.magic)
			case !b.isFree() || b.isMapped() || b.isFence() || b.isAligned():
				return fail("freelist", b.addr(), "listed block has flags %#x", b.flags)
			case h.classes.Class(b.size) != c:
				return fail("freelist", b.addr(), "size %d filed under class %d", b.size, c)
			case b.prev != prev:
				return fail("freelist", b.addr(), "broken back link")
			case int(b.arena) != int(a.index):
				return fail("freelist", b.addr(), "block belongs to arena %d", b.arena)
			}
			if _, ok := segs[b.seg]; !ok {
				return fail("freelist", b.addr(), "segment %#x not owned by arena", b.seg.addr())
			}
			prev = b
			n++
		}
		if uint32(n) != a.lists.count[c] {
			return fail("freelist", 0, "class %d has %d blocks, recorded %d", c, n, a.lists.count[c])
		}
		listed += n
	}
	if listed != free {
		return fail("freelist", 0, "%d free blocks in segments, %d on free lists", free, listed)
	}

	var prev *blockHeader
	n := 0
	for b := a.mapped; b != nil; b = b.next {
		if n >= a.nmapped {
			return fail("mapped", 0, "mapped list longer than recorded %d", a.nmapped)
		}
		switch {
		case b.magic != Magic:
			return fail("mapped", b.addr(), "bad magic %#x", b.magic)
		case b.flags != flagMapped:
			return fail("mapped", b.addr(), "mapped block has flags %#x", b.flags)
		case b.seg != nil:
			return fail("mapped", b.addr(), "mapped block has a segment")
		case b.prev != prev:
			return fail("mapped", b.addr(), "broken back link")
		case int(b.arena) != int(a.index):
			return fail("mapped", b.addr(), "block belongs to arena %d", b.arena)
		case (b.addr()+HeaderSize+b.size)%h.backend.PageSize() != 0:
			return fail("mapped", b.addr(), "size %d does not end on a page", b.size)
		}
		prev = b
		n++
	}
	if n != a.nmapped {
		return fail("mapped", 0, "%d mapped blocks, recorded %d", n, a.nmapped)
	}
	return nil
}

// checkSegment walks the blocks of s and returns how many are free.
func (a *arena) checkSegment(h *Heap, s *segment, fail func(string, uintptr, string, ...any) error) (int, error) {
	fence := s.fence()
	free := 0
	prevSize := uintptr(0)
	prevFree := false

	b := s.first()
	for b != fence {
		if b.addr() > fence.addr() || b.addr()+HeaderSize > fence.addr() {
			return 0, fail("block", b.addr(), "walk overran the segment fence")
		}
		if err := h.checkHeader(b); err != nil {
			return 0, fail("block", b.addr(), "%v", err)
		}
		switch {
		case b.isMapped() || b.isFence() || b.isAligned():
			return 0, fail("block", b.addr(), "unexpected flags %#x inside a segment", b.flags)
		case b.seg != s:
			return 0, fail("block", b.addr(), "block names segment %#x", b.seg.addr())
		case int(b.arena) != int(a.index):
			return 0, fail("block", b.addr(), "block belongs to arena %d", b.arena)
		case b.size < MinUnit:
			return 0, fail("block", b.addr(), "size %d below minimum", b.size)
		case b.prevSize != prevSize:
			return 0, fail("block", b.addr(), "prev size %d, predecessor has %d", b.prevSize, prevSize)
		case b.end() > fence.addr():
			return 0, fail("block", b.addr(), "size %d overruns the segment", b.size)
		}
		if b.isFree() {
			if prevFree {
				return 0, fail("block", b.addr(), "two adjacent free blocks")
			}
			free++
		}
		prevFree = b.isFree()
		prevSize = b.size
		b = b.following()
	}

	switch {
	case fence.magic != Magic || fence.flags != flagFence || fence.size != 0:
		return 0, fail("fence", fence.addr(), "bad fence (magic %#x, flags %#x, size %d)", fence.magic, fence.flags, fence.size)
	case fence.prevSize != prevSize:
		return 0, fail("fence", fence.addr(), "prev size %d, last block has %d", fence.prevSize, prevSize)
	case fence.seg != s:
		return 0, fail("fence", fence.addr(), "fence names segment %#x", fence.seg.addr())
	}
	return free, nil
}
