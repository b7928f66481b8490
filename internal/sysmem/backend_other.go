//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package sysmem

import (
	"fmt"
	"os"
	"sync"
)

// osBackend carves regions out of the Go heap on targets without mmap or
// VirtualAlloc. Live regions are pinned in a map so the collector keeps them.
type osBackend struct {
	mu       sync.Mutex
	pageSize uintptr
	live     map[uintptr][]byte
	closed   bool
}

func newOS(Options) (*osBackend, error) {
	return &osBackend{
		pageSize: uintptr(os.Getpagesize()),
		live:     make(map[uintptr][]byte),
	}, nil
}

func (b *osBackend) PageSize() uintptr { return b.pageSize }

func (b *osBackend) ExtendHeap(size uintptr) ([]byte, error) { return b.alloc(size) }

func (b *osBackend) MapDirect(size uintptr) ([]byte, error) { return b.alloc(size) }

func (b *osBackend) alloc(size uintptr) ([]byte, error) {
	n := RoundUp(size, b.pageSize)
	if n < size || n == 0 || n+b.pageSize < n {
		return nil, ErrNoMemory
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	buf := make([]byte, n+b.pageSize)
	off := RoundUp(base(buf), b.pageSize) - base(buf)
	mem := buf[off : off+n : off+n]
	b.live[base(mem)] = buf
	return mem, nil
}

func (b *osBackend) Release(kind Kind, mem []byte) error {
	if len(mem) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.live[base(mem)]; !ok {
		return fmt.Errorf("%w: %s region at %#x", ErrBadRegion, kind, base(mem))
	}
	delete(b.live, base(mem))
	return nil
}

// Adjoins is always false: two Go allocations are never one object.
func (b *osBackend) Adjoins(prev, next []byte) bool { return false }

func (b *osBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.live = nil
	return nil
}
