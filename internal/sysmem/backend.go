package sysmem

import (
	"errors"
	"sync"
	"unsafe"
)

var (
	// ErrNoMemory indicates the operating system (or a configured limit) refused memory.
	ErrNoMemory = errors.New("sysmem: out of memory")

	// ErrBadRegion indicates a Release of memory this backend did not hand out.
	ErrBadRegion = errors.New("sysmem: region not owned by backend")

	// ErrClosed indicates use of a backend after Close.
	ErrClosed = errors.New("sysmem: backend closed")
)

// DefaultReserve is the address space reserved for heap extension:
// 256 MiB on 64-bit targets, 16 MiB on 32-bit ones.
const DefaultReserve = 16 << 20 << (4 * (^uintptr(0) >> 63))

// Kind tells Release which acquisition path a region came from.
type Kind uint8

const (
	KindHeap   Kind = 1 // obtained through ExtendHeap
	KindDirect Kind = 2 // obtained through MapDirect
)

func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Backend is the platform memory source.
//
// All sizes are rounded up to PageSize. Returned regions are page aligned,
// zero filled when freshly mapped, and never move.
type Backend interface {
	// ExtendHeap grows the heap by at least size bytes.
	ExtendHeap(size uintptr) ([]byte, error)

	// MapDirect maps a fresh region of at least size bytes.
	MapDirect(size uintptr) ([]byte, error)

	// Release gives a region (or the union of adjoining heap regions) back.
	Release(kind Kind, mem []byte) error

	// Adjoins reports whether next starts exactly where prev ends and the
	// two heap regions may later be released as one.
	Adjoins(prev, next []byte) bool

	// PageSize is the allocation granularity of the backend.
	PageSize() uintptr

	// Close releases the backend's own reservations. Regions still held by
	// callers must be released first.
	Close() error
}

// Options configures New.
type Options struct {
	// ReserveSize is the address space reserved for heap extension.
	// 0 disables the reservation; every extension is then a fresh mapping.
	ReserveSize uintptr

	// Limit caps the bytes held from the OS at any time. 0 means unlimited.
	Limit uintptr
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{ReserveSize: DefaultReserve}
}

// New returns the backend for the running platform.
func New(opts Options) (Backend, error) {
	b, err := newOS(opts)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 {
		return Limit(b, opts.Limit), nil
	}
	return b, nil
}

// RoundUp rounds n up to a multiple of align, which must be a power of two.
func RoundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// base returns the address of the first byte of mem.
func base(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
}

// adjoins is the address test shared by the platform backends.
func adjoins(prev, next []byte) bool {
	if len(prev) == 0 || len(next) == 0 {
		return false
	}
	return base(prev)+uintptr(len(prev)) == base(next)
}

// limited enforces Options.Limit on top of another backend.
type limited struct {
	Backend

	mu    sync.Mutex
	limit uintptr
	held  uintptr
}

// Limit wraps b so that no more than limit bytes are held at once.
// Requests beyond the limit fail with ErrNoMemory without touching b.
func Limit(b Backend, limit uintptr) Backend {
	return &limited{Backend: b, limit: limit}
}

func (l *limited) take(size uintptr) error {
	n := RoundUp(size, l.PageSize())
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < size || l.held+n > l.limit || l.held+n < l.held {
		return ErrNoMemory
	}
	l.held += n
	return nil
}

func (l *limited) give(n uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.held {
		n = l.held
	}
	l.held -= n
}

func (l *limited) ExtendHeap(size uintptr) ([]byte, error) {
	if err := l.take(size); err != nil {
		return nil, err
	}
	mem, err := l.Backend.ExtendHeap(size)
	if err != nil {
		l.give(RoundUp(size, l.PageSize()))
		return nil, err
	}
	return mem, nil
}

func (l *limited) MapDirect(size uintptr) ([]byte, error) {
	if err := l.take(size); err != nil {
		return nil, err
	}
	mem, err := l.Backend.MapDirect(size)
	if err != nil {
		l.give(RoundUp(size, l.PageSize()))
		return nil, err
	}
	return mem, nil
}

func (l *limited) Release(kind Kind, mem []byte) error {
	if err := l.Backend.Release(kind, mem); err != nil {
		return err
	}
	l.give(uintptr(len(mem)))
	return nil
}
