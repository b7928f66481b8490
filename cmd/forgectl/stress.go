package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var stressFlags workloadFlags

func init() {
	cmd := newStressCmd()
	stressFlags.bind(cmd, 100_000, 0)
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent allocation workload",
		Long: `The stress command runs a randomized malloc/realloc/free mix on several
goroutines, checks that no block is clobbered while allocated, and validates
the heap afterwards.

Example:
  forgectl stress
  forgectl stress -g 16 -n 1000000 --max-size 64KiB --pinned
  forgectl stress --strategy best-fit --arenas 1 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
}

type stressReport struct {
	Workload   *workloadResult `json:"workload"`
	OpsPerSec  float64         `json:"ops_per_sec"`
	Valid      bool            `json:"valid"`
	Contention uint64          `json:"contention"`
	PeakUsage  uint64          `json:"peak_usage"`
}

func runStress() error {
	w, err := stressFlags.workload()
	if err != nil {
		return err
	}
	a, err := openAllocator()
	if err != nil {
		return err
	}
	defer a.Cleanup()

	printVerbose("Running %d workers x %s ops, sizes %s..%s\n",
		w.goroutines, count(w.ops), bytesOf(w.minSize), bytesOf(w.maxSize))

	res, err := w.run(a)
	if err != nil {
		return fmt.Errorf("workload failed: %w", err)
	}
	if err := res.release(a); err != nil {
		return fmt.Errorf("failed to release retained blocks: %w", err)
	}
	checkErr := a.Check()
	st := a.Stats()

	rep := stressReport{
		Workload:   res,
		Valid:      checkErr == nil,
		Contention: st.Contention,
		PeakUsage:  st.PeakUsage,
	}
	if secs := res.Elapsed.Seconds(); secs > 0 {
		rep.OpsPerSec = float64(res.Ops()) / secs
	}

	if jsonOut {
		if err := printJSON(rep); err != nil {
			return err
		}
	} else {
		printInfo("Operations:   %s in %s (%s ops/s)\n", count(res.Ops()), res.Elapsed.Round(time.Millisecond), count(uint64(rep.OpsPerSec)))
		printInfo("  malloc:     %s\n", count(res.Mallocs))
		printInfo("  realloc:    %s\n", count(res.Reallocs))
		printInfo("  free:       %s\n", count(res.Frees))
		if res.Failures > 0 {
			printInfo("  failed:     %s (out of memory)\n", count(res.Failures))
		}
		printInfo("Peak usage:   %s\n", bytesOf(st.PeakUsage))
		printInfo("Contention:   %s\n", count(st.Contention))
		if checkErr == nil {
			printInfo("Heap:         consistent\n")
		}
	}
	if checkErr != nil {
		return fmt.Errorf("heap inconsistent after workload: %w", checkErr)
	}
	return nil
}
