package sizeclass

import (
	"errors"
	"fmt"
	"math"
)

const (
	// Granule is the alignment every class bound is rounded to.
	Granule = 16

	// MaxClasses bounds the table so callers can keep fixed-size list heads.
	MaxClasses = 64
)

// ErrBadConfig is returned by New for layouts that cannot produce a valid table.
var ErrBadConfig = errors.New("sizeclass: invalid configuration")

// Config defines the size class layout.
type Config struct {
	// Name for this layout (reported by diagnostics).
	Name string

	// Linear phase.
	SmallMin  uintptr
	SmallMax  uintptr
	SmallStep uintptr

	// Geometric phase.
	MediumMax    uintptr
	GrowthFactor float64
}

// Predefined layouts.
var (
	// Balanced: 16-512 step 16 (32 classes) + x1.5 up to 512 KiB (18 classes).
	Balanced = Config{
		Name:         "balanced",
		SmallMin:     16,
		SmallMax:     512,
		SmallStep:    16,
		MediumMax:    512 << 10,
		GrowthFactor: 1.5,
	}

	// FineGrained: many small buckets, least internal fragmentation.
	FineGrained = Config{
		Name:         "fine",
		SmallMin:     16,
		SmallMax:     384,
		SmallStep:    16,
		MediumMax:    512 << 10,
		GrowthFactor: 1.4,
	}

	// Coarse: few buckets, shortest scans.
	Coarse = Config{
		Name:         "coarse",
		SmallMin:     32,
		SmallMax:     256,
		SmallStep:    32,
		MediumMax:    256 << 10,
		GrowthFactor: 2.0,
	}

	// Default is used when no layout is configured.
	Default = Balanced
)

// Lookup returns the predefined layout with the given name.
func Lookup(name string) (Config, bool) {
	for _, c := range []Config{Balanced, FineGrained, Coarse} {
		if c.Name == name {
			return c, true
		}
	}
	return Config{}, false
}

// Table holds the computed class bounds.
type Table struct {
	config Config
	bounds []uintptr
}

// New computes the class bounds for config.
func New(config Config) (*Table, error) {
	switch {
	case config.SmallMin == 0 || config.SmallStep == 0:
		return nil, fmt.Errorf("%w: zero SmallMin or SmallStep", ErrBadConfig)
	case config.SmallMax < config.SmallMin:
		return nil, fmt.Errorf("%w: SmallMax %d < SmallMin %d", ErrBadConfig, config.SmallMax, config.SmallMin)
	case config.MediumMax > config.SmallMax && config.GrowthFactor <= 1:
		return nil, fmt.Errorf("%w: growth factor %.2f must exceed 1", ErrBadConfig, config.GrowthFactor)
	}

	t := &Table{
		config: config,
		bounds: make([]uintptr, 0, MaxClasses),
	}

	// Phase 1: linear
	for size := roundUp(config.SmallMin); size <= config.SmallMax; size += roundUp(config.SmallStep) {
		t.bounds = append(t.bounds, size)
	}

	// Phase 2: geometric
	size := t.bounds[len(t.bounds)-1]
	for size < config.MediumMax {
		next := roundUp(uintptr(math.Ceil(float64(size) * config.GrowthFactor)))
		if next <= size {
			next = size + Granule
		}
		if next > config.MediumMax {
			next = roundUp(config.MediumMax)
		}
		t.bounds = append(t.bounds, next)
		size = next
	}

	if len(t.bounds) > MaxClasses {
		return nil, fmt.Errorf("%w: %d classes exceeds %d", ErrBadConfig, len(t.bounds), MaxClasses)
	}
	return t, nil
}

// MustNew is New for the predefined layouts; it panics on error.
func MustNew(config Config) *Table {
	t, err := New(config)
	if err != nil {
		panic(err)
	}
	return t
}

// Class returns the index of the smallest class whose bound is >= size, or
// Oversized if size exceeds every bound.
func (t *Table) Class(size uintptr) int {
	lo, hi := 0, len(t.bounds)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if t.bounds[mid] < size {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Oversized is the index returned by Class for sizes above the last bound.
// It equals NumClasses.
func (t *Table) Oversized() int {
	return len(t.bounds)
}

// NumClasses returns the number of bounded classes (excluding Oversized).
func (t *Table) NumClasses() int {
	return len(t.bounds)
}

// Bound returns the upper bound of class i. Oversized has no bound and
// reports 0.
func (t *Table) Bound(i int) uintptr {
	if i < 0 || i >= len(t.bounds) {
		return 0
	}
	return t.bounds[i]
}

// Bounds returns a copy of all class bounds.
func (t *Table) Bounds() []uintptr {
	out := make([]uintptr, len(t.bounds))
	copy(out, t.bounds)
	return out
}

// String returns the layout name.
func (t *Table) String() string {
	return t.config.Name
}

func roundUp(n uintptr) uintptr {
	return (n + Granule - 1) &^ (Granule - 1)
}
