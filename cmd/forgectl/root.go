package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/memforge/pkg/memforge"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool

	// Allocator flags, shared by every command
	optStrategy    string
	optThreshold   string
	optPageSize    string
	optSegmentSize string
	optLimit       string
	optSizeClasses string
	optArenas      int
	optDebug       bool
	optUnsafe      bool
)

var rootCmd = &cobra.Command{
	Use:   "forgectl",
	Short: "Exercise and inspect the memforge allocator",
	Long: `forgectl drives the memforge allocator with synthetic workloads and
reports what it sees: throughput, statistics, heap consistency, the arena
and segment layout, and the size-class table.

Allocator flags override MEMFORGE_* environment variables, which override
the built-in defaults.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	pf.BoolVar(&jsonOut, "json", false, "Output in JSON format")

	pf.StringVar(&optStrategy, "strategy", "", "Fit strategy: first-fit, best-fit or hybrid")
	pf.StringVar(&optThreshold, "threshold", "", "Direct-mapping threshold (e.g. 128KiB)")
	pf.StringVar(&optPageSize, "page-size", "", "Heap growth granularity, a power of two")
	pf.StringVar(&optSegmentSize, "segment-size", "", "Smallest heap extension")
	pf.StringVar(&optLimit, "limit", "", "Cap on memory held from the OS")
	pf.StringVar(&optSizeClasses, "size-classes", "", "Size-class layout: balanced, fine or coarse")
	pf.IntVar(&optArenas, "arenas", 0, "Number of arenas")
	pf.BoolVar(&optDebug, "debug", false, "Enable allocator debug logging and ownership checks")
	pf.BoolVar(&optUnsafe, "single-threaded", false, "Disable arena locking (one arena)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// allocatorOptions turns the allocator flags into options. Unset flags
// stay zero so the environment can fill them.
func allocatorOptions() (*memforge.Options, error) {
	opts := &memforge.Options{
		ArenaCount:  optArenas,
		SizeClasses: optSizeClasses,
	}
	if optStrategy != "" {
		s, err := memforge.ParseStrategy(optStrategy)
		if err != nil {
			return nil, err
		}
		opts.Strategy = s
	}
	sizes := []struct {
		flag string
		val  string
		dst  *uintptr
	}{
		{"threshold", optThreshold, &opts.MmapThreshold},
		{"page-size", optPageSize, &opts.PageSize},
		{"segment-size", optSegmentSize, &opts.SegmentSize},
		{"limit", optLimit, &opts.MemoryLimit},
	}
	for _, s := range sizes {
		if s.val == "" {
			continue
		}
		n, err := humanize.ParseBytes(s.val)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", s.flag, err)
		}
		*s.dst = uintptr(n)
	}
	if optDebug {
		opts.Debug = memforge.Bool(true)
	}
	if optUnsafe {
		opts.ThreadSafe = memforge.Bool(false)
	}
	return opts, nil
}

// openAllocator builds an allocator from the flags. Callers Cleanup it.
func openAllocator() (*memforge.Allocator, error) {
	opts, err := allocatorOptions()
	if err != nil {
		return nil, err
	}
	a, err := memforge.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize allocator: %w", err)
	}
	eff := a.Options()
	printVerbose("Allocator: strategy=%s arenas=%d threshold=%s page=%s classes=%s\n",
		eff.Strategy, eff.ArenaCount, bytesOf(eff.MmapThreshold), bytesOf(eff.PageSize), eff.SizeClasses)
	return a, nil
}

// Helper functions for output

var counts = message.NewPrinter(language.English)

// count renders n with thousands separators.
func count[T ~int | ~int64 | ~uint64 | ~uintptr](n T) string {
	return counts.Sprintf("%d", n)
}

func bytesOf[T ~int | ~uint64 | ~uintptr](n T) string {
	return humanize.IBytes(uint64(n))
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
