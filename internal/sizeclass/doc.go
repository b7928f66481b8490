// Package sizeclass maps payload sizes to the discrete size classes used to
// segregate free lists.
//
// # Layout
//
// A table is built once from a Config and never changes afterwards. Class
// bounds are strictly increasing and every bound is a multiple of Granule:
//
//	Phase 1: SmallMin, SmallMin+SmallStep, ... SmallMax      (linear)
//	Phase 2: SmallMax*GrowthFactor, ... MediumMax            (geometric)
//
// A size belongs to the first class whose bound is >= size. Sizes above the
// last bound map to Oversized, which callers use as the index of an extra
// "large" list.
//
// The default Balanced layout yields 32 linear classes (16..512 bytes) and 18
// geometric classes (up to 512 KiB).
package sizeclass
