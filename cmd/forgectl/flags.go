package main

import (
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// workloadFlags are the knobs of the synthetic workload. stress, stats,
// validate and dump each bind their own copy.
type workloadFlags struct {
	goroutines int
	ops        int
	minSize    string
	maxSize    string
	maxLive    int
	retain     float64
	pinned     bool
	seed       uint64
}

func (f *workloadFlags) bind(cmd *cobra.Command, ops int, retain float64) {
	fs := cmd.Flags()
	fs.IntVarP(&f.goroutines, "goroutines", "g", runtime.NumCPU(), "Concurrent workers")
	fs.IntVarP(&f.ops, "ops", "n", ops, "Operations per worker")
	fs.StringVar(&f.minSize, "min-size", "1", "Smallest request")
	fs.StringVar(&f.maxSize, "max-size", "4KiB", "Largest request")
	fs.IntVar(&f.maxLive, "max-live", 0, "Live blocks per worker (0 sizes from host memory)")
	fs.Float64Var(&f.retain, "retain", retain, "Fraction of live blocks left allocated for reporting")
	fs.BoolVar(&f.pinned, "pinned", false, "Give each worker its own arena-bound handle")
	fs.Uint64Var(&f.seed, "seed", 1, "Random seed")
}

func (f *workloadFlags) workload() (*workload, error) {
	lo, err := humanize.ParseBytes(f.minSize)
	if err != nil {
		return nil, fmt.Errorf("--min-size: %w", err)
	}
	hi, err := humanize.ParseBytes(f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("--max-size: %w", err)
	}
	if f.retain < 0 || f.retain > 1 {
		return nil, fmt.Errorf("--retain must be between 0 and 1, got %g", f.retain)
	}
	return &workload{
		goroutines: f.goroutines,
		ops:        f.ops,
		minSize:    uintptr(lo),
		maxSize:    uintptr(hi),
		maxLive:    f.maxLive,
		retain:     f.retain,
		pinned:     f.pinned,
		seed:       f.seed,
	}, nil
}
