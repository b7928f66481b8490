package memforge

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/memforge/internal/heap"
	"github.com/joshuapare/memforge/internal/logger"
)

// State is the lifecycle state of an Allocator.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	CleaningUp
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case CleaningUp:
		return "cleaning-up"
	default:
		return "unknown"
	}
}

// Allocator is a general-purpose allocator over memory it maps from the
// operating system. The zero value is ready to use and initializes itself
// from the environment on first allocation.
//
// Memory returned by an Allocator is invisible to the garbage collector:
// it must not hold the only reference to a Go heap object, and it must be
// released with Free.
type Allocator struct {
	mu    sync.Mutex // serializes lifecycle transitions
	state atomic.Int32
	heap  atomic.Pointer[heap.Heap]
	opts  *Options // caller options of the last Init, reused by Reset and lazy init
}

// New returns an initialized Allocator.
func New(opts *Options) (*Allocator, error) {
	a := &Allocator{}
	if err := a.Init(opts); err != nil {
		return nil, err
	}
	return a, nil
}

// State returns the current lifecycle state.
func (a *Allocator) State() State { return State(a.state.Load()) }

// Init merges opts over the environment over the defaults and maps the
// arenas. Calling Init on a ready allocator is a no-op.
func (a *Allocator) Init(opts *Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initLocked(opts)
}

func (a *Allocator) initLocked(opts *Options) error {
	if a.State() == Ready {
		return nil
	}
	a.state.Store(int32(Initializing))

	merged, issues := resolve(opts, lookupEnv)
	if merged.Debug != nil && *merged.Debug {
		_ = logger.Init(logger.Options{Enabled: true, Level: slog.LevelDebug, Output: os.Stderr})
	}
	for _, is := range issues {
		logger.Debug("ignoring environment value", "name", is.name, "value", is.value, "err", is.err)
	}

	cfg, err := merged.config()
	var h *heap.Heap
	if err == nil {
		h, err = heap.New(cfg)
	}
	if err != nil {
		a.state.Store(int32(Uninitialized))
		logger.Debug("allocator init failed", "err", err)
		return err
	}

	var saved *Options
	if opts != nil {
		cp := *opts
		saved = &cp
	}
	a.opts = saved
	a.heap.Store(h)
	a.state.Store(int32(Ready))
	return nil
}

// Cleanup returns all memory to the operating system. Every pointer the
// allocator handed out becomes invalid. Cleanup of an allocator that is
// not ready is a no-op. A later allocation initializes it again.
func (a *Allocator) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleanupLocked()
}

func (a *Allocator) cleanupLocked() error {
	if a.State() != Ready {
		return nil
	}
	a.state.Store(int32(CleaningUp))
	h := a.heap.Swap(nil)
	err := h.Close()
	a.state.Store(int32(Uninitialized))
	return err
}

// Reset is Cleanup followed by Init with the options of the last Init.
func (a *Allocator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.cleanupLocked(); err != nil {
		return err
	}
	return a.initLocked(a.opts)
}

// engine returns the heap, initializing lazily.
func (a *Allocator) engine() (*heap.Heap, error) {
	if h := a.heap.Load(); h != nil {
		return h, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initLocked(a.opts); err != nil {
		return nil, err
	}
	return a.heap.Load(), nil
}

// Malloc returns at least size bytes aligned to two pointers. A zero size
// returns a distinct minimum-size block that must still be freed.
func (a *Allocator) Malloc(size uintptr) (unsafe.Pointer, error) {
	h, err := a.engine()
	if err != nil {
		return nil, err
	}
	return h.Malloc(size)
}

// Free releases p. Freeing nil is a no-op.
func (a *Allocator) Free(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	h := a.heap.Load()
	if h == nil {
		return ErrClosed
	}
	return h.Free(p)
}

// Calloc returns n*size zeroed bytes, or ErrOverflow when the product does
// not fit.
func (a *Allocator) Calloc(n, size uintptr) (unsafe.Pointer, error) {
	h, err := a.engine()
	if err != nil {
		return nil, err
	}
	return h.Calloc(n, size)
}

// Realloc resizes p to size bytes, preserving the smaller of the old and
// new sizes. A nil p allocates; a zero size frees p and returns nil. On
// error p is left intact.
func (a *Allocator) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	h, err := a.engine()
	if err != nil {
		return nil, err
	}
	return h.Realloc(p, size)
}

// Memalign returns size bytes aligned to align, or nil on failure.
func (a *Allocator) Memalign(align, size uintptr) unsafe.Pointer {
	p, _ := a.PosixMemalign(align, size)
	return p
}

// AlignedAlloc is Memalign under its C11 name.
func (a *Allocator) AlignedAlloc(align, size uintptr) unsafe.Pointer {
	return a.Memalign(align, size)
}

// PosixMemalign returns size bytes aligned to align. align must be a
// power of two no smaller than a pointer (ErrInvalidAlignment).
func (a *Allocator) PosixMemalign(align, size uintptr) (unsafe.Pointer, error) {
	h, err := a.engine()
	if err != nil {
		return nil, err
	}
	return h.Memalign(align, size)
}

// Valloc returns size bytes aligned to the page size, or nil on failure.
func (a *Allocator) Valloc(size uintptr) unsafe.Pointer {
	h, err := a.engine()
	if err != nil {
		return nil
	}
	p, _ := h.PageAlloc(size)
	return p
}

// UsableSize returns the bytes usable at p, or 0 for nil or an invalid pointer.
func (a *Allocator) UsableSize(p unsafe.Pointer) uintptr {
	h := a.heap.Load()
	if h == nil || p == nil {
		return 0
	}
	n, err := h.UsableSize(p)
	if err != nil {
		return 0
	}
	return n
}

// Trim returns wholly free heap segments to the OS, keeping up to pad bytes
// of them. It returns the bytes released.
func (a *Allocator) Trim(pad uintptr) (uintptr, error) {
	h := a.heap.Load()
	if h == nil {
		return 0, nil
	}
	return h.Trim(pad)
}

// Stats returns a snapshot of the counters. An allocator that is not
// initialized reports zeros.
func (a *Allocator) Stats() Stats {
	h := a.heap.Load()
	if h == nil {
		return Stats{}
	}
	return h.Stats()
}

// SetStrategy changes the fit strategy for subsequent allocations.
func (a *Allocator) SetStrategy(s Strategy) error {
	es, err := s.engine()
	if err != nil {
		return err
	}
	h, err := a.engine()
	if err != nil {
		return err
	}
	return h.SetStrategy(es)
}

// Strategy returns the fit strategy in use.
func (a *Allocator) Strategy() Strategy {
	h := a.heap.Load()
	if h == nil {
		return StrategyDefault
	}
	return strategyOf(h.Strategy())
}

// SetMmapThreshold changes the direct-mapping threshold.
func (a *Allocator) SetMmapThreshold(n uintptr) error {
	h, err := a.engine()
	if err != nil {
		return err
	}
	return h.SetMmapThreshold(n)
}

// Validate reports whether every heap structure is consistent.
func (a *Allocator) Validate() bool {
	return a.Check() == nil
}

// Check walks every heap structure and returns the first inconsistency
// as a *ValidationError.
func (a *Allocator) Check() error {
	h := a.heap.Load()
	if h == nil {
		return nil
	}
	return h.Check()
}

// Dump captures the heap structure. With blocks false the per-block
// listing is omitted.
func (a *Allocator) Dump(blocks bool) HeapDump {
	h := a.heap.Load()
	if h == nil {
		return HeapDump{}
	}
	return h.Dump(blocks)
}

// Options returns the effective configuration of a ready allocator.
func (a *Allocator) Options() Options {
	h := a.heap.Load()
	if h == nil {
		return Options{}
	}
	c := h.Config()
	return Options{
		PageSize:      c.PageSize,
		MmapThreshold: c.MmapThreshold,
		Strategy:      strategyOf(c.Strategy),
		ThreadSafe:    Bool(c.ThreadSafe),
		Debug:         Bool(c.Debug),
		ArenaCount:    h.ArenaCount(),
		SegmentSize:   c.SegmentSize,
		SizeClasses:   c.SizeClasses.Name,
		MemoryLimit:   c.MemoryLimit,
	}
}

// Bytes views n bytes at p as a slice. The slice aliases allocator
// memory and is valid until p is freed.
func Bytes(p unsafe.Pointer, n uintptr) []byte {
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}
