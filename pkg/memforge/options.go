package memforge

import (
	"fmt"
	"strings"

	"github.com/joshuapare/memforge/internal/heap"
	"github.com/joshuapare/memforge/internal/sizeclass"
)

// Strategy selects how free blocks are matched to requests.
type Strategy int

const (
	// StrategyDefault leaves the choice to the environment or the default (Hybrid).
	StrategyDefault Strategy = iota
	// FirstFit takes the first block large enough, scanning classes upward.
	FirstFit
	// BestFit takes the smallest block large enough.
	BestFit
	// Hybrid is first-fit within the request's size class and best-fit above it.
	Hybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategyDefault:
		return "default"
	case FirstFit:
		return "first-fit"
	case BestFit:
		return "best-fit"
	case Hybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy accepts a strategy name (first-fit, best-fit, hybrid) or
// the numeric codes 0, 1 and 2 used by MEMFORGE_STRATEGY.
func ParseStrategy(v string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "first-fit", "firstfit", "first_fit", "first", "0":
		return FirstFit, nil
	case "best-fit", "bestfit", "best_fit", "best", "1":
		return BestFit, nil
	case "hybrid", "2":
		return Hybrid, nil
	}
	return StrategyDefault, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, v)
}

func (s Strategy) engine() (heap.Strategy, error) {
	switch s {
	case FirstFit:
		return heap.FirstFit, nil
	case BestFit:
		return heap.BestFit, nil
	case Hybrid, StrategyDefault:
		return heap.Hybrid, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %d", ErrInvalidConfig, int(s))
}

func strategyOf(s heap.Strategy) Strategy {
	switch s {
	case heap.FirstFit:
		return FirstFit
	case heap.BestFit:
		return BestFit
	default:
		return Hybrid
	}
}

// Options configures an Allocator. Zero fields (nil for pointers) are
// unset and fall back to the environment, then to the defaults.
type Options struct {
	// PageSize is the heap growth granularity. Must be a power of two;
	// values below the OS page size are raised to it. 0 auto-detects.
	PageSize uintptr

	// MmapThreshold: requests of at least this many bytes are mapped
	// directly. Default 128 KiB.
	MmapThreshold uintptr

	Strategy Strategy

	// ThreadSafe enables arena locking. Default true. Without it the
	// allocator has a single unlocked arena.
	ThreadSafe *bool

	// Debug enables debug logging to stderr and ownership checks on Free.
	Debug *bool

	// ArenaCount is the number of arenas. Default 4.
	ArenaCount int

	// SegmentSize is the smallest heap extension. Default 128 KiB.
	SegmentSize uintptr

	// SizeClasses names the size-class layout: balanced (default), fine or coarse.
	SizeClasses string

	// MemoryLimit caps the bytes held from the OS. 0 means unlimited.
	MemoryLimit uintptr
}

// Bool returns a pointer to v, for the tri-state Options fields.
func Bool(v bool) *bool { return &v }

// DefaultOptions returns the compiled defaults with every field set.
func DefaultOptions() Options {
	d := heap.DefaultConfig()
	return Options{
		MmapThreshold: d.MmapThreshold,
		Strategy:      strategyOf(d.Strategy),
		ThreadSafe:    Bool(d.ThreadSafe),
		Debug:         Bool(d.Debug),
		ArenaCount:    d.ArenaCount,
		SegmentSize:   d.SegmentSize,
		SizeClasses:   d.SizeClasses.Name,
	}
}

// overlay copies every set field of o onto dst.
func (o *Options) overlay(dst *Options) {
	if o == nil {
		return
	}
	if o.PageSize != 0 {
		dst.PageSize = o.PageSize
	}
	if o.MmapThreshold != 0 {
		dst.MmapThreshold = o.MmapThreshold
	}
	if o.Strategy != StrategyDefault {
		dst.Strategy = o.Strategy
	}
	if o.ThreadSafe != nil {
		dst.ThreadSafe = Bool(*o.ThreadSafe)
	}
	if o.Debug != nil {
		dst.Debug = Bool(*o.Debug)
	}
	if o.ArenaCount != 0 {
		dst.ArenaCount = o.ArenaCount
	}
	if o.SegmentSize != 0 {
		dst.SegmentSize = o.SegmentSize
	}
	if o.SizeClasses != "" {
		dst.SizeClasses = o.SizeClasses
	}
	if o.MemoryLimit != 0 {
		dst.MemoryLimit = o.MemoryLimit
	}
}

// Resolve merges caller options over the environment over the defaults.
// The result has every field set.
func Resolve(caller *Options) (Options, error) {
	opts, _ := resolve(caller, lookupEnv)
	return opts, opts.validate()
}

// resolve also returns the environment values it had to ignore.
func resolve(caller *Options, lookup func(string) (string, bool)) (Options, []envIssue) {
	opts := DefaultOptions()
	env, issues := envOptions(lookup)
	env.overlay(&opts)
	caller.overlay(&opts)
	return opts, issues
}

func (o Options) validate() error {
	if o.PageSize&(o.PageSize-1) != 0 {
		return fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidConfig, o.PageSize)
	}
	if o.ArenaCount < 0 {
		return fmt.Errorf("%w: arena count %d", ErrInvalidConfig, o.ArenaCount)
	}
	if _, err := o.Strategy.engine(); err != nil {
		return err
	}
	if _, ok := sizeclass.Lookup(o.SizeClasses); !ok {
		return fmt.Errorf("%w: unknown size-class layout %q", ErrInvalidConfig, o.SizeClasses)
	}
	return nil
}

// config converts fully resolved options to the engine configuration.
func (o Options) config() (heap.Config, error) {
	if err := o.validate(); err != nil {
		return heap.Config{}, err
	}
	strategy, _ := o.Strategy.engine()
	classes, _ := sizeclass.Lookup(o.SizeClasses)
	return heap.Config{
		PageSize:      o.PageSize,
		MmapThreshold: o.MmapThreshold,
		Strategy:      strategy,
		ThreadSafe:    o.ThreadSafe == nil || *o.ThreadSafe,
		Debug:         o.Debug != nil && *o.Debug,
		ArenaCount:    o.ArenaCount,
		SegmentSize:   o.SegmentSize,
		SizeClasses:   classes,
		MemoryLimit:   o.MemoryLimit,
	}, nil
}
