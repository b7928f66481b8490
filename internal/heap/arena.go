package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/memforge/internal/logger"
	"github.com/joshuapare/memforge/internal/sysmem"
)

// arena is an independent sub-heap: its own free lists, segments and
// directly mapped blocks behind one lock.
//
// The record lives in memory obtained from Backend.MapDirect, so it holds
// no Go pointers; methods take the owning Heap explicitly.
type arena struct {
	mu      sync.Mutex
	locking bool
	index   uint16

	lists    freeLists
	segs     *segment     // newest first
	mapped   *blockHeader // directly mapped blocks, linked through next/prev
	nmapped  int
	nsegs    int
	heapSize uintptr // bytes held in segments

	// Cumulative payload bytes handed out and returned, guarded by mu.
	allocated uint64
	freed     uint64

	contention atomic.Uint64
	recordLen  uintptr
}

// newArena maps and initializes an arena record.
func newArena(h *Heap, index int) (*arena, error) {
	mem, err := h.backend.MapDirect(unsafe.Sizeof(arena{}))
	if err != nil {
		return nil, fmt.Errorf("%w: arena %d record: %w", ErrNoMemory, index, err)
	}
	h.stats.mapped(uintptr(len(mem)))

	// Fresh mappings are zero filled, which is a valid unlocked arena.
	a := (*arena)(unsafe.Pointer(unsafe.SliceData(mem)))
	a.locking = h.cfg.ThreadSafe
	a.index = uint16(index)
	a.recordLen = uintptr(len(mem))
	return a, nil
}

func (a *arena) lock() {
	if a.locking {
		a.mu.Lock()
	}
}

func (a *arena) tryLock() bool {
	if !a.locking {
		return true
	}
	return a.mu.TryLock()
}

func (a *arena) unlock() {
	if a.locking {
		a.mu.Unlock()
	}
}

// malloc serves a heap request of req bytes (already normalized).
// Caller holds the lock.
func (a *arena) malloc(h *Heap, req uintptr) (*blockHeader, error) {
	b := a.lists.find(h.classes, req, h.Strategy())
	if b == nil {
		var err error
		if b, err = a.grow(h, req); err != nil {
			return nil, err
		}
	}
	a.split(h, b, req)
	b.flags &^= flagFree
	a.allocated += uint64(b.size)
	return b, nil
}

// release returns heap block b to the free lists. Caller holds the lock.
func (a *arena) release(h *Heap, b *blockHeader) {
	a.freed += uint64(b.size)
	if strict {
		poison(b)
	}
	b.flags |= flagFree
	b = a.coalesce(h, b)
	a.lists.add(h.classes, b)
}

// split shrinks b to req bytes when the surplus can host a block of its
// own. The surplus is coalesced forward and listed.
func (a *arena) split(h *Heap, b *blockHeader, req uintptr) {
	if b.size-req < HeaderSize+MinUnit {
		return
	}
	rem := initBlock(unsafe.Add(b.payload(), req), b.size-req-HeaderSize, req, b.seg, flagFree, b.arena)
	b.size = req
	rem.following().prevSize = rem.size
	h.stats.splits.Add(1)

	rem = a.coalesceForward(h, rem)
	a.lists.add(h.classes, rem)
}

// coalesce merges unlisted free block b with free physical neighbours on
// both sides and returns the merged, still unlisted, block.
func (a *arena) coalesce(h *Heap, b *blockHeader) *blockHeader {
	b = a.coalesceForward(h, b)
	for !b.first() {
		p := b.preceding()
		if !p.isFree() {
			break
		}
		a.lists.remove(h.classes, p)
		a.absorb(h, p, b)
		b = p
	}
	return b
}

func (a *arena) coalesceForward(h *Heap, b *blockHeader) *blockHeader {
	for {
		n := b.following()
		if n.isFence() || !n.isFree() {
			return b
		}
		a.lists.remove(h.classes, n)
		a.absorb(h, b, n)
	}
}

// absorb folds n, the physical successor of b, into b.
func (a *arena) absorb(h *Heap, b, n *blockHeader) {
	b.size += HeaderSize + n.size
	n.magic = magicDead
	b.following().prevSize = b.size
	h.stats.coalesces.Add(1)
}

// grow obtains a region able to hold req bytes. It returns an unlisted
// free block, merged with the tail of the newest segment when the region
// directly follows it.
func (a *arena) grow(h *Heap, req uintptr) (*blockHeader, error) {
	if req > maxRequest-segOverhead {
		return nil, fmt.Errorf("%w: request of %d bytes", ErrNoMemory, req)
	}
	size := max(h.segmentSize, sysmem.RoundUp(req+segOverhead, h.pageSize))
	mem, err := h.backend.ExtendHeap(size)
	if err != nil {
		return nil, fmt.Errorf("%w: extend heap by %d bytes: %w", ErrNoMemory, size, err)
	}
	h.stats.heapExtensions.Add(1)
	h.stats.mapped(uintptr(len(mem)))
	a.heapSize += uintptr(len(mem))

	if s := a.segs; s != nil && h.backend.Adjoins(s.region(), mem) {
		b := s.extend(uintptr(len(mem)))
		if logger.Enabled(debugLevel) {
			logger.Debug("segment extended in place", "arena", a.index, "segment", hexAddr(s.addr()), "bytes", len(mem))
		}
		return a.coalesce(h, b), nil
	}

	s, b := newSegment(mem, a.index)
	s.next = a.segs
	a.segs = s
	a.nsegs++
	if logger.Enabled(debugLevel) {
		logger.Debug("segment created", "arena", a.index, "segment", hexAddr(s.addr()), "bytes", len(mem))
	}
	return b, nil
}

// linkMapped puts a directly mapped block on the arena's list. Caller holds the lock.
func (a *arena) linkMapped(b *blockHeader) {
	b.prev = nil
	b.next = a.mapped
	if b.next != nil {
		b.next.prev = b
	}
	a.mapped = b
	a.nmapped++
	a.allocated += uint64(b.size)
}

// unlinkMapped removes b from the mapped list. Caller holds the lock.
func (a *arena) unlinkMapped(b *blockHeader) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		a.mapped = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.next, b.prev = nil, nil
	a.nmapped--
	a.freed += uint64(b.size)
}

// ownsSegment walks the segment list for s.
func (a *arena) ownsSegment(s *segment) bool {
	for cur := a.segs; cur != nil; cur = cur.next {
		if cur == s {
			return true
		}
	}
	return false
}

// trim releases wholly free segments once keep bytes of them have been
// retained. It returns the bytes released and the updated keep budget.
// Caller holds the lock.
func (a *arena) trim(h *Heap, keep uintptr) (uintptr, uintptr, error) {
	var released uintptr
	link := &a.segs
	for s := a.segs; s != nil; s = *link {
		if !s.whollyFree() {
			link = &s.next
			continue
		}
		if s.size <= keep {
			keep -= s.size
			link = &s.next
			continue
		}

		a.lists.remove(h.classes, s.first())
		*link = s.next
		n := s.size
		a.nsegs--
		a.heapSize -= n
		if err := h.backend.Release(sysmem.KindHeap, s.region()); err != nil {
			return released, keep, fmt.Errorf("heap: release segment %s: %w", hexAddr(s.addr()), err)
		}
		released += n
		h.stats.unmapped(n)
		h.stats.trims.Add(1)
	}
	return released, keep, nil
}

// destroy gives every region the arena holds back to the backend,
// including the arena record itself.
func (a *arena) destroy(h *Heap) error {
	var first error
	note := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	for s := a.segs; s != nil; {
		next := s.next
		n := s.size
		note(h.backend.Release(sysmem.KindHeap, s.region()))
		h.stats.unmapped(n)
		s = next
	}
	for b := a.mapped; b != nil; {
		next := b.next
		region := b.mappedRegion()
		note(h.backend.Release(sysmem.KindDirect, region))
		h.stats.unmapped(uintptr(len(region)))
		b = next
	}

	n := a.recordLen
	note(h.backend.Release(sysmem.KindDirect, unsafe.Slice((*byte)(unsafe.Pointer(a)), n)))
	h.stats.unmapped(n)
	return first
}
