package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memforge/pkg/memforge"
)

var (
	dumpFlags  workloadFlags
	dumpBlocks bool
)

func init() {
	cmd := newDumpCmd()
	dumpFlags.bind(cmd, 2_000, 1)
	cmd.Flags().BoolVar(&dumpBlocks, "blocks", false, "List every block of every segment")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the arena and segment layout after a workload",
		Long: `The dump command runs a workload, keeps its live set allocated and prints
each arena's segments, free lists and directly mapped blocks.

Example:
  forgectl dump -g 2 -n 500
  forgectl dump --arenas 1 --blocks
  forgectl dump --json > heap.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump()
		},
	}
}

func runDump() error {
	w, err := dumpFlags.workload()
	if err != nil {
		return err
	}
	a, err := openAllocator()
	if err != nil {
		return err
	}
	defer a.Cleanup()

	res, err := w.run(a)
	if err != nil {
		return fmt.Errorf("workload failed: %w", err)
	}
	defer res.release(a)

	d := a.Dump(dumpBlocks)
	if jsonOut {
		return printJSON(d)
	}
	printDump(d)
	return nil
}

func printDump(d memforge.HeapDump) {
	c := d.Config
	printInfo("Heap: strategy=%s arenas=%d threshold=%s page=%s segment=%s classes=%s\n",
		c.Strategy, c.ArenaCount, bytesOf(c.MmapThreshold), bytesOf(c.PageSize), bytesOf(c.SegmentSize), c.SizeClasses)
	printInfo("      in use %s, mapped %s\n", bytesOf(d.Stats.CurrentUsage), bytesOf(d.Stats.TotalMapped))

	for _, ar := range d.Arenas {
		printInfo("\nArena %d: %s heap, %s allocations, %s frees, %s contended\n",
			ar.Index, bytesOf(ar.HeapBytes), count(ar.Allocated), count(ar.Freed), count(ar.Contention))
		for _, s := range ar.Segments {
			printInfo("  segment %#x  %s\n", s.Addr, bytesOf(s.Size))
			for _, b := range s.Blocks {
				state := "used"
				if b.Free {
					state = "free"
				}
				printInfo("    %#x  %10s  %s\n", b.Addr, count(b.Size), state)
			}
		}
		for _, fl := range ar.FreeLists {
			bound := "oversized"
			if fl.Bound != 0 {
				bound = "<= " + bytesOf(fl.Bound)
			}
			printInfo("  free list %3d %-12s %s blocks, %s\n", fl.Class, bound, count(fl.Count), bytesOf(fl.Bytes))
		}
		for _, b := range ar.Mapped {
			printInfo("  mapped  %#x  %s\n", b.Addr, bytesOf(b.Size))
		}
	}
}
