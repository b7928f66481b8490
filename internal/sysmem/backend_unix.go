//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package sysmem

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	protRW   = unix.PROT_READ | unix.PROT_WRITE
	mapFlags = unix.MAP_PRIVATE | unix.MAP_ANON
)

// osBackend serves memory through mmap. The heap reservation is a single
// PROT_NONE mapping; brk is the number of bytes committed from its start.
type osBackend struct {
	mu       sync.Mutex
	pageSize uintptr

	reserve    unsafe.Pointer
	reserveLen uintptr
	brk        uintptr

	closed bool
}

func newOS(opts Options) (*osBackend, error) {
	b := &osBackend{pageSize: uintptr(unix.Getpagesize())}
	if opts.ReserveSize > 0 {
		n := RoundUp(opts.ReserveSize, b.pageSize)
		// A failed reservation is not fatal: extensions fall back to mmap.
		if p, err := unix.MmapPtr(-1, 0, nil, n, unix.PROT_NONE, mapFlags); err == nil {
			b.reserve, b.reserveLen = p, n
		}
	}
	return b, nil
}

func (b *osBackend) PageSize() uintptr { return b.pageSize }

func (b *osBackend) ExtendHeap(size uintptr) ([]byte, error) {
	n := RoundUp(size, b.pageSize)
	if n < size || n == 0 {
		return nil, ErrNoMemory
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	if b.reserve != nil && n <= b.reserveLen-b.brk {
		mem := unsafe.Slice((*byte)(unsafe.Add(b.reserve, b.brk)), n)
		if err := unix.Mprotect(mem, protRW); err == nil {
			b.brk += n
			return mem, nil
		}
	}
	return b.mmap(n)
}

func (b *osBackend) MapDirect(size uintptr) ([]byte, error) {
	n := RoundUp(size, b.pageSize)
	if n < size || n == 0 {
		return nil, ErrNoMemory
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.mmap(n)
}

func (b *osBackend) mmap(n uintptr) ([]byte, error) {
	p, err := unix.MmapPtr(-1, 0, nil, n, protRW, mapFlags)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %w", ErrNoMemory, n, err)
	}
	return unsafe.Slice((*byte)(p), n), nil
}

func (b *osBackend) Release(kind Kind, mem []byte) error {
	if len(mem) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := base(mem)
	end := start + uintptr(len(mem))
	if start%b.pageSize != 0 {
		return fmt.Errorf("%w: %s region at %#x is not page aligned", ErrBadRegion, kind, start)
	}

	// Only heap regions can live inside the reservation.
	rs := uintptr(b.reserve)
	re := rs + b.reserveLen
	if kind != KindHeap || b.reserve == nil || end <= rs || start >= re {
		return b.munmap(mem)
	}

	lo, hi := max(start, rs), min(end, re)
	if start < lo {
		if err := b.munmap(mem[:lo-start]); err != nil {
			return err
		}
	}
	if end > hi {
		if err := b.munmap(mem[hi-start:]); err != nil {
			return err
		}
	}

	in := mem[lo-start : hi-start]
	// Decommit: drop the pages, then fence the range off again.
	if err := unix.Madvise(in, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("sysmem: madvise %d bytes: %w", len(in), err)
	}
	if err := unix.Mprotect(in, unix.PROT_NONE); err != nil {
		return fmt.Errorf("sysmem: mprotect %d bytes: %w", len(in), err)
	}
	if hi == rs+b.brk {
		b.brk = lo - rs
	}
	return nil
}

func (b *osBackend) munmap(mem []byte) error {
	if err := unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(mem)), uintptr(len(mem))); err != nil {
		return fmt.Errorf("sysmem: munmap %d bytes: %w", len(mem), err)
	}
	return nil
}

// Adjoins is true whenever the regions touch: munmap and decommit both work
// across the boundary of two mappings.
func (b *osBackend) Adjoins(prev, next []byte) bool {
	return adjoins(prev, next)
}

func (b *osBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.reserve == nil {
		return nil
	}
	err := unix.MunmapPtr(b.reserve, b.reserveLen)
	b.reserve, b.reserveLen, b.brk = nil, 0, 0
	return err
}
