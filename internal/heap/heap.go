package heap

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/memforge/internal/logger"
	"github.com/joshuapare/memforge/internal/sizeclass"
	"github.com/joshuapare/memforge/internal/sysmem"
)

const (
	// DefaultMmapThreshold is the request size from which blocks are mapped directly.
	DefaultMmapThreshold = 128 << 10

	// DefaultSegmentSize is the smallest heap extension.
	DefaultSegmentSize = 128 << 10

	// DefaultArenaCount is the number of arenas of a thread-safe heap.
	DefaultArenaCount = 4
)

const debugLevel = slog.LevelDebug

// Config configures a Heap.
type Config struct {
	// PageSize is the growth granularity. 0 uses the OS page size; larger
	// powers of two are honoured, smaller ones are raised to the OS page.
	PageSize uintptr

	// MmapThreshold: requests of at least this many bytes bypass the free
	// lists and are mapped directly.
	MmapThreshold uintptr

	Strategy Strategy

	// ThreadSafe enables arena locking. A heap that is not thread safe has
	// exactly one arena.
	ThreadSafe bool

	// Debug turns on ownership checks on free and debug logging of heap events.
	Debug bool

	ArenaCount  int
	SegmentSize uintptr
	SizeClasses sizeclass.Config

	// MemoryLimit caps the bytes held from the backend. 0 means unlimited.
	MemoryLimit uintptr

	// Backend overrides the platform backend. The heap does not close a
	// backend it was given.
	Backend sysmem.Backend
}

// DefaultConfig returns the compiled defaults.
func DefaultConfig() Config {
	return Config{
		MmapThreshold: DefaultMmapThreshold,
		Strategy:      Hybrid,
		ThreadSafe:    true,
		ArenaCount:    DefaultArenaCount,
		SegmentSize:   DefaultSegmentSize,
		SizeClasses:   sizeclass.Default,
	}
}

func (c *Config) validate() error {
	switch {
	case c.PageSize&(c.PageSize-1) != 0:
		return fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidConfig, c.PageSize)
	case c.MmapThreshold == 0:
		return fmt.Errorf("%w: mmap threshold must be positive", ErrInvalidConfig)
	case !c.Strategy.Valid():
		return fmt.Errorf("%w: unknown strategy %d", ErrInvalidConfig, c.Strategy)
	case c.ArenaCount < 1 || c.ArenaCount > MaxArenas:
		return fmt.Errorf("%w: arena count %d outside 1..%d", ErrInvalidConfig, c.ArenaCount, MaxArenas)
	case c.SegmentSize == 0:
		return fmt.Errorf("%w: segment size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Heap is the allocation engine: a directory of arenas over one backend.
type Heap struct {
	cfg         Config
	backend     sysmem.Backend
	ownBackend  bool
	classes     *sizeclass.Table
	pageSize    uintptr
	segmentSize uintptr

	dir directory

	strategy  atomic.Uint32
	threshold atomic.Uintptr

	stats  counters
	closed atomic.Bool
}

// New builds a heap and maps its arenas.
func New(cfg Config) (*Heap, error) {
	if cfg.SizeClasses == (sizeclass.Config{}) {
		cfg.SizeClasses = sizeclass.Default
	}
	if !cfg.ThreadSafe {
		cfg.ArenaCount = 1
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	classes, err := sizeclass.New(cfg.SizeClasses)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	h := &Heap{cfg: cfg, classes: classes, backend: cfg.Backend}
	if h.backend == nil {
		h.backend, err = sysmem.New(sysmem.Options{ReserveSize: sysmem.DefaultReserve, Limit: cfg.MemoryLimit})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoMemory, err)
		}
		h.ownBackend = true
	} else if cfg.MemoryLimit > 0 {
		h.backend = sysmem.Limit(h.backend, cfg.MemoryLimit)
	}
	h.cfg.Backend = nil

	h.pageSize = max(cfg.PageSize, h.backend.PageSize())
	h.segmentSize = sysmem.RoundUp(cfg.SegmentSize, h.pageSize)
	h.strategy.Store(uint32(cfg.Strategy))
	h.threshold.Store(cfg.MmapThreshold)

	for i := range cfg.ArenaCount {
		a, err := newArena(h, i)
		if err != nil {
			_ = h.teardown()
			return nil, err
		}
		h.dir.arenas = append(h.dir.arenas, a)
	}

	logger.Debug("heap initialized",
		"arenas", cfg.ArenaCount,
		"page_size", h.pageSize,
		"segment_size", h.segmentSize,
		"mmap_threshold", cfg.MmapThreshold,
		"strategy", cfg.Strategy.String(),
		"classes", classes.NumClasses(),
		"thread_safe", cfg.ThreadSafe,
	)
	return h, nil
}

// Close releases every region the heap holds. Pointers handed out become
// invalid. Close is idempotent.
func (h *Heap) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := h.teardown()
	logger.Debug("heap closed", "err", err)
	return err
}

func (h *Heap) teardown() error {
	var first error
	for _, a := range h.dir.arenas {
		if err := a.destroy(h); err != nil && first == nil {
			first = err
		}
	}
	h.dir.arenas = nil
	if h.ownBackend {
		if err := h.backend.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Config returns the effective configuration, including the current
// strategy and threshold.
func (h *Heap) Config() Config {
	c := h.cfg
	c.PageSize = h.pageSize
	c.SegmentSize = h.segmentSize
	c.Strategy = h.Strategy()
	c.MmapThreshold = h.MmapThreshold()
	return c
}

// Classes returns the size-class table in use.
func (h *Heap) Classes() *sizeclass.Table { return h.classes }

// PageSize returns the effective growth granularity.
func (h *Heap) PageSize() uintptr { return h.pageSize }

// ArenaCount returns the number of arenas.
func (h *Heap) ArenaCount() int { return len(h.dir.arenas) }

// Strategy returns the current fit strategy.
func (h *Heap) Strategy() Strategy { return Strategy(h.strategy.Load()) }

// SetStrategy changes the fit strategy for subsequent searches. It takes
// no lock; a search already running may finish with the old strategy.
func (h *Heap) SetStrategy(s Strategy) error {
	if !s.Valid() {
		return fmt.Errorf("%w: unknown strategy %d", ErrInvalidConfig, s)
	}
	h.strategy.Store(uint32(s))
	return nil
}

// MmapThreshold returns the current direct-mapping threshold.
func (h *Heap) MmapThreshold() uintptr { return h.threshold.Load() }

// SetMmapThreshold changes the direct-mapping threshold. Like SetStrategy
// it takes no lock.
func (h *Heap) SetMmapThreshold(n uintptr) error {
	if n == 0 {
		return fmt.Errorf("%w: mmap threshold must be positive", ErrInvalidConfig)
	}
	h.threshold.Store(n)
	return nil
}

// Stats returns a snapshot of the counters.
func (h *Heap) Stats() Stats { return h.stats.snapshot() }

// Malloc returns a payload of at least size bytes aligned to Alignment.
// A zero size yields a distinct minimum-size block.
func (h *Heap) Malloc(size uintptr) (unsafe.Pointer, error) {
	return h.malloc(nil, size)
}

// Free returns a block. Freeing nil is a no-op.
func (h *Heap) Free(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	if h.closed.Load() {
		return ErrClosed
	}

	b, err := h.resolve(p)
	if err != nil {
		return h.report("free", p, err)
	}

	a := h.dir.arenas[b.arena]
	h.lockArena(a)
	if err := h.checkOwned(a, b); err != nil {
		a.unlock()
		return h.report("free", p, err)
	}

	size := b.size
	if b.isMapped() {
		a.unlinkMapped(b)
		a.unlock()
		region := b.mappedRegion()
		if err := h.backend.Release(sysmem.KindDirect, region); err != nil {
			return fmt.Errorf("heap: unmap block %s: %w", hexAddr(b.addr()), err)
		}
		h.stats.unmapped(uintptr(len(region)))
	} else {
		a.release(h, b)
		a.unlock()
	}
	h.stats.released(size)
	return nil
}

// Calloc allocates n*size zeroed bytes.
func (h *Heap) Calloc(n, size uintptr) (unsafe.Pointer, error) {
	return h.calloc(nil, n, size)
}

// Realloc resizes the block at p, moving it when it cannot change in
// place. On error the original block is untouched. A nil p allocates; a
// zero size frees p and returns nil.
func (h *Heap) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	return h.realloc(nil, p, size)
}

// Memalign returns a payload aligned to align, which must be a power of
// two no smaller than a pointer.
func (h *Heap) Memalign(align, size uintptr) (unsafe.Pointer, error) {
	return h.memalign(nil, align, size)
}

// PageAlloc returns a page-aligned payload.
func (h *Heap) PageAlloc(size uintptr) (unsafe.Pointer, error) {
	return h.memalign(nil, h.pageSize, size)
}

// UsableSize returns the bytes usable at p, at least the size requested.
func (h *Heap) UsableSize(p unsafe.Pointer) (uintptr, error) {
	if p == nil {
		return 0, nil
	}
	if h.closed.Load() {
		return 0, ErrClosed
	}
	b, err := h.resolve(p)
	if err != nil {
		return 0, err
	}
	a := h.dir.arenas[b.arena]
	h.lockArena(a)
	err = h.checkOwned(a, b)
	a.unlock()
	if err != nil {
		return 0, err
	}
	return b.end() - uintptr(p), nil
}

// Trim returns wholly free segments to the backend, keeping up to pad
// bytes of them for reuse. It returns the bytes released.
func (h *Heap) Trim(pad uintptr) (uintptr, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	var total uintptr
	keep := pad
	for _, a := range h.dir.arenas {
		h.lockArena(a)
		n, k, err := a.trim(h, keep)
		a.unlock()
		total += n
		keep = k
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		logger.Debug("heap trimmed", "released", total, "pad", pad)
	}
	return total, nil
}

// Pinned allocates from one arena. Handing each goroutine its own Pinned
// keeps them off each other's locks.
type Pinned struct {
	h *Heap
	a *arena
}

// Pin returns a handle bound to the next arena in round-robin order.
func (h *Heap) Pin() *Pinned {
	return &Pinned{h: h, a: h.dir.next()}
}

// Arena returns the index of the arena the handle is bound to.
func (p *Pinned) Arena() int { return int(p.a.index) }

func (p *Pinned) Malloc(size uintptr) (unsafe.Pointer, error) { return p.h.malloc(p.a, size) }

func (p *Pinned) Calloc(n, size uintptr) (unsafe.Pointer, error) { return p.h.calloc(p.a, n, size) }

func (p *Pinned) Realloc(ptr unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	return p.h.realloc(p.a, ptr, size)
}

func (p *Pinned) Memalign(align, size uintptr) (unsafe.Pointer, error) {
	return p.h.memalign(p.a, align, size)
}

// Free returns ptr to the arena that owns it, which need not be this one.
func (p *Pinned) Free(ptr unsafe.Pointer) error { return p.h.Free(ptr) }

func (h *Heap) malloc(pin *arena, size uintptr) (unsafe.Pointer, error) {
	b, err := h.alloc(pin, size)
	if err != nil {
		return nil, err
	}
	return b.payload(), nil
}

// alloc serves size bytes from pin, or from an arena picked by the
// directory when pin is nil.
func (h *Heap) alloc(pin *arena, size uintptr) (*blockHeader, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	req, ok := request(size)
	if !ok {
		return nil, fmt.Errorf("%w: request of %d bytes", ErrNoMemory, size)
	}
	if size >= h.MmapThreshold() {
		return h.mapBlock(pin, req)
	}

	a := pin
	if a == nil {
		a = h.dir.acquire(h)
	} else {
		h.lockArena(a)
	}
	b, err := a.malloc(h, req)
	a.unlock()
	if err != nil {
		logger.Debug("allocation failed", "size", size, "arena", a.index, "err", err)
		return nil, err
	}
	h.stats.allocated(b.size)
	return b, nil
}

// mapBlock serves req bytes from a fresh direct mapping.
func (h *Heap) mapBlock(pin *arena, req uintptr) (*blockHeader, error) {
	if req > maxRequest-HeaderSize {
		return nil, fmt.Errorf("%w: request of %d bytes", ErrNoMemory, req)
	}
	mem, err := h.backend.MapDirect(req + HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: map %d bytes: %w", ErrNoMemory, req+HeaderSize, err)
	}

	a := pin
	if a == nil {
		a = h.dir.current()
	}
	b := initBlock(unsafe.Pointer(unsafe.SliceData(mem)), uintptr(len(mem))-HeaderSize, 0, nil, flagMapped, a.index)
	h.lockArena(a)
	a.linkMapped(b)
	a.unlock()

	h.stats.mapped(uintptr(len(mem)))
	h.stats.mmapCount.Add(1)
	h.stats.allocated(b.size)
	if logger.Enabled(debugLevel) {
		logger.Debug("block mapped", "arena", a.index, "addr", hexAddr(b.addr()), "bytes", len(mem))
	}
	return b, nil
}

func (h *Heap) calloc(pin *arena, n, size uintptr) (unsafe.Pointer, error) {
	hi, total := bits.Mul(uint(n), uint(size))
	if hi != 0 || uintptr(total) > maxRequest {
		return nil, fmt.Errorf("%w: %d elements of %d bytes", ErrOverflow, n, size)
	}
	b, err := h.alloc(pin, uintptr(total))
	if err != nil {
		return nil, err
	}
	// Fresh mappings come zero filled from the OS.
	if !b.isMapped() {
		clear(b.bytes())
	}
	return b.payload(), nil
}

func (h *Heap) realloc(pin *arena, p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	if p == nil {
		return h.malloc(pin, size)
	}
	if size == 0 {
		return nil, h.Free(p)
	}
	if h.closed.Load() {
		return nil, ErrClosed
	}

	b, err := h.resolve(p)
	if err != nil {
		return nil, h.report("realloc", p, err)
	}
	req, ok := request(size)
	if !ok {
		return nil, fmt.Errorf("%w: request of %d bytes", ErrNoMemory, size)
	}

	a := h.dir.arenas[b.arena]
	h.lockArena(a)
	if err := h.checkOwned(a, b); err != nil {
		a.unlock()
		return nil, h.report("realloc", p, err)
	}

	usable := b.end() - uintptr(p)
	if p != b.payload() || b.isMapped() {
		a.unlock()
		if size <= usable {
			return p, nil
		}
		return h.move(pin, p, usable, size)
	}

	old := b.size
	if req <= old {
		a.split(h, b, req)
		a.freed += uint64(old - b.size)
		a.unlock()
		h.stats.shrank(old - b.size)
		return p, nil
	}

	if n := b.following(); !n.isFence() && n.isFree() && old+HeaderSize+n.size >= req {
		a.lists.remove(h.classes, n)
		a.absorb(h, b, n)
		a.split(h, b, req)
		a.allocated += uint64(b.size - old)
		a.unlock()
		h.stats.grew(b.size - old)
		return p, nil
	}
	a.unlock()

	return h.move(pin, p, old, size)
}

// move copies the usable bytes at p into a new block of size bytes and frees p.
func (h *Heap) move(pin *arena, p unsafe.Pointer, usable, size uintptr) (unsafe.Pointer, error) {
	nb, err := h.alloc(pin, size)
	if err != nil {
		return nil, err
	}
	np := nb.payload()
	n := min(usable, size)
	copy(unsafe.Slice((*byte)(np), n), unsafe.Slice((*byte)(p), n))
	if err := h.Free(p); err != nil {
		return np, err
	}
	return np, nil
}

func (h *Heap) memalign(pin *arena, align, size uintptr) (unsafe.Pointer, error) {
	if align == 0 || align&(align-1) != 0 || align < unsafe.Sizeof(uintptr(0)) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}
	if align <= Alignment {
		return h.malloc(pin, size)
	}

	req, ok := request(size)
	if !ok || req > maxRequest-align-HeaderSize {
		return nil, fmt.Errorf("%w: request of %d bytes aligned to %d", ErrNoMemory, size, align)
	}
	b, err := h.alloc(pin, req+align+HeaderSize)
	if err != nil {
		return nil, err
	}

	p := b.payload()
	if uintptr(p)%align == 0 {
		return p, nil
	}
	// Leave room for a shim header in front of the aligned payload.
	off := alignUp(uintptr(p)+HeaderSize, align) - uintptr(p)
	ap := unsafe.Add(p, off)
	initBlock(unsafe.Pointer(headerOf(ap)), off, 0, nil, flagAligned, b.arena)
	return ap, nil
}

func hexAddr(a uintptr) string {
	return fmt.Sprintf("%#x", a)
}
