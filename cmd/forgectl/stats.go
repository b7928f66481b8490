package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memforge/pkg/memforge"
)

var statsFlags workloadFlags

func init() {
	cmd := newStatsCmd()
	statsFlags.bind(cmd, 10_000, 0.5)
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show allocator statistics after a workload",
		Long: `The stats command runs a workload, leaves part of its live set allocated
and prints the allocator counters together with host memory.

Example:
  forgectl stats
  forgectl stats --retain 1 --threshold 16KiB
  forgectl stats --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
}

type hostStats struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

type statsReport struct {
	Stats    memforge.Stats `json:"stats"`
	Retained int            `json:"retained_blocks"`
	Host     hostStats      `json:"host"`
}

func runStats() error {
	w, err := statsFlags.workload()
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

	total, free := hostMemory()
	rep := statsReport{
		Stats:    a.Stats(),
		Retained: len(res.retained),
		Host:     hostStats{Total: total, Free: free},
	}
	if jsonOut {
		return printJSON(rep)
	}
	printStats(rep)
	return nil
}

func printStats(rep statsReport) {
	st := rep.Stats
	printInfo("Memory\n")
	printInfo("  mapped from OS:    %s\n", bytesOf(st.TotalMapped))
	printInfo("  in use:            %s (peak %s)\n", bytesOf(st.CurrentUsage), bytesOf(st.PeakUsage))
	printInfo("  allocated total:   %s\n", bytesOf(st.TotalAllocated))
	printInfo("  freed total:       %s\n", bytesOf(st.TotalFreed))
	printInfo("Operations\n")
	printInfo("  allocations:       %s\n", count(st.AllocationCount))
	printInfo("  frees:             %s\n", count(st.FreeCount))
	printInfo("  direct mappings:   %s\n", count(st.MmapCount))
	printInfo("  heap extensions:   %s\n", count(st.HeapExtensions))
	printInfo("  splits:            %s\n", count(st.Splits))
	printInfo("  coalesces:         %s\n", count(st.Coalesces))
	printInfo("  trims:             %s\n", count(st.Trims))
	printInfo("  contention:        %s\n", count(st.Contention))
	printInfo("Retained blocks:     %s\n", count(rep.Retained))
	if rep.Host.Total > 0 {
		printInfo("Host memory:         %s free of %s\n", bytesOf(rep.Host.Free), bytesOf(rep.Host.Total))
	}
}
