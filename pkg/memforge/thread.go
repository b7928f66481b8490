package memforge

import (
	"unsafe"

	"github.com/joshuapare/memforge/internal/heap"
)

// Thread is an allocation handle bound to one arena. Give each goroutine
// that allocates heavily its own Thread; handles are assigned to arenas
// round-robin and never move. With ThreadSafe off there is one arena and
// no handle may be used concurrently with any other call.
//
// A Thread is tied to the heap that was live when it was created; after
// Cleanup or Reset its methods return ErrClosed.
type Thread struct {
	a   *Allocator
	h   *heap.Heap
	pin *heap.Pinned
}

// Thread returns a new handle, initializing the allocator if needed.
func (a *Allocator) Thread() (*Thread, error) {
	h, err := a.engine()
	if err != nil {
		return nil, err
	}
	return &Thread{a: a, h: h, pin: h.Pin()}, nil
}

// Arena returns the index of the arena the handle allocates from.
func (t *Thread) Arena() int { return t.pin.Arena() }

func (t *Thread) live() error {
	if t.a.heap.Load() != t.h {
		return ErrClosed
	}
	return nil
}

func (t *Thread) Malloc(size uintptr) (unsafe.Pointer, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	return t.pin.Malloc(size)
}

func (t *Thread) Calloc(n, size uintptr) (unsafe.Pointer, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	return t.pin.Calloc(n, size)
}

func (t *Thread) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	return t.pin.Realloc(p, size)
}

func (t *Thread) PosixMemalign(align, size uintptr) (unsafe.Pointer, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	return t.pin.Memalign(align, size)
}

// Free releases p to whichever arena owns it.
func (t *Thread) Free(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	if err := t.live(); err != nil {
		return err
	}
	return t.pin.Free(p)
}
