package heap

import (
	"github.com/joshuapare/memforge/internal/sizeclass"
)

// Strategy selects how find picks among adequate free blocks.
type Strategy uint32

const (
	// FirstFit takes the first adequate block in ascending class order.
	FirstFit Strategy = iota
	// BestFit takes the smallest adequate block.
	BestFit
	// Hybrid is first-fit inside the request's class and best-fit above it.
	Hybrid
)

func (s Strategy) String() string {
	switch s {
	case FirstFit:
		return "first-fit"
	case BestFit:
		return "best-fit"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool { return s <= Hybrid }

// freeLists is the per-arena free-list store: one intrusive doubly linked
// list per size class plus a trailing list for oversized blocks.
type freeLists struct {
	heads [sizeclass.MaxClasses + 1]*blockHeader
	count [sizeclass.MaxClasses + 1]uint32
}

// add pushes b onto the head of its class list.
func (fl *freeLists) add(t *sizeclass.Table, b *blockHeader) {
	c := t.Class(b.size)
	b.prev = nil
	b.next = fl.heads[c]
	if b.next != nil {
		b.next.prev = b
	}
	fl.heads[c] = b
	fl.count[c]++
}

// remove unlinks b. The class is derived from b.size, which must not have
// changed since add.
func (fl *freeLists) remove(t *sizeclass.Table, b *blockHeader) {
	c := t.Class(b.size)
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		fl.heads[c] = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.next, b.prev = nil, nil
	fl.count[c]--
}

// find removes and returns a block with payload >= size, or nil.
func (fl *freeLists) find(t *sizeclass.Table, size uintptr, s Strategy) *blockHeader {
	c := t.Class(size)
	last := t.NumClasses()

	var b *blockHeader
	switch s {
	case FirstFit:
		for i := c; i <= last && b == nil; i++ {
			b = firstFit(fl.heads[i], size)
		}
	case BestFit:
		// Every block above class c is at least as large as anything in c,
		// so the first class with a candidate holds the best one.
		for i := c; i <= last && b == nil; i++ {
			b = bestFit(fl.heads[i], size)
		}
	default:
		b = firstFit(fl.heads[c], size)
		for i := c + 1; i <= last && b == nil; i++ {
			b = bestFit(fl.heads[i], size)
		}
	}

	if b != nil {
		fl.remove(t, b)
	}
	return b
}

func firstFit(head *blockHeader, size uintptr) *blockHeader {
	for b := head; b != nil; b = b.next {
		if b.size >= size {
			return b
		}
	}
	return nil
}

func bestFit(head *blockHeader, size uintptr) *blockHeader {
	var best *blockHeader
	for b := head; b != nil; b = b.next {
		if b.size < size {
			continue
		}
		if b.size == size {
			return b
		}
		if best == nil || b.size < best.size {
			best = b
		}
	}
	return best
}
