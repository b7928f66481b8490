//go:build windows

package sysmem

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// osBackend serves memory through VirtualAlloc. The heap reservation is a
// MEM_RESERVE range whose first brk bytes are committed.
type osBackend struct {
	mu       sync.Mutex
	pageSize uintptr

	reserve    uintptr
	reserveLen uintptr
	brk        uintptr

	closed bool
}

func newOS(opts Options) (*osBackend, error) {
	b := &osBackend{pageSize: uintptr(windows.Getpagesize())}
	if opts.ReserveSize > 0 {
		n := RoundUp(opts.ReserveSize, b.pageSize)
		if addr, err := windows.VirtualAlloc(0, n, windows.MEM_RESERVE, windows.PAGE_NOACCESS); err == nil && addr != 0 {
			b.reserve, b.reserveLen = addr, n
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

	if b.reserve != 0 && n <= b.reserveLen-b.brk {
		addr, err := windows.VirtualAlloc(b.reserve+b.brk, n, windows.MEM_COMMIT, windows.PAGE_READWRITE)
		if err == nil && addr != 0 {
			b.brk += n
			return region(addr, n), nil
		}
	}
	return b.alloc(n)
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
	return b.alloc(n)
}

func (b *osBackend) alloc(n uintptr) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, n, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil || addr == 0 {
		return nil, fmt.Errorf("%w: VirtualAlloc %d bytes: %v", ErrNoMemory, n, err)
	}
	return region(addr, n), nil
}

func (b *osBackend) inReserve(start, end uintptr) bool {
	return b.reserve != 0 && start >= b.reserve && end <= b.reserve+b.reserveLen
}

func (b *osBackend) Release(kind Kind, mem []byte) error {
	if len(mem) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := base(mem)
	end := start + uintptr(len(mem))
	if kind == KindHeap && b.inReserve(start, end) {
		if err := windows.VirtualFree(start, uintptr(len(mem)), windows.MEM_DECOMMIT); err != nil {
			return fmt.Errorf("sysmem: decommit %d bytes: %w", len(mem), err)
		}
		if end == b.reserve+b.brk {
			b.brk = start - b.reserve
		}
		return nil
	}
	if err := windows.VirtualFree(start, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("%w: VirtualFree at %#x: %v", ErrBadRegion, start, err)
	}
	return nil
}

// Adjoins only merges regions committed from the reservation: MEM_RELEASE
// cannot free two separate allocations in one call.
func (b *osBackend) Adjoins(prev, next []byte) bool {
	if !adjoins(prev, next) {
		return false
	}
	return b.inReserve(base(prev), base(next)+uintptr(len(next)))
}

func (b *osBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.reserve == 0 {
		return nil
	}
	err := windows.VirtualFree(b.reserve, 0, windows.MEM_RELEASE)
	b.reserve, b.reserveLen, b.brk = 0, 0, 0
	return err
}

func region(addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
