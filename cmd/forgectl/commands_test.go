package main

import (
	"errors"
	"testing"

	"github.com/joshuapare/memforge/pkg/memforge"
)

func TestStressCommand(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		wantContain []string
	}{
		{
			name:        "default allocator",
			wantContain: []string{"Operations:", "malloc:", "Heap:         consistent"},
		},
		{
			name: "pinned workers, best fit",
			setup: func() {
				stressFlags.pinned = true
				optStrategy = "best-fit"
			},
			wantContain: []string{"consistent"},
		},
		{
			name: "low threshold maps directly",
			setup: func() {
				optThreshold = "1KiB"
				stressFlags.maxSize = "8KiB"
			},
			wantContain: []string{"consistent"},
		},
		{
			name: "single threaded",
			setup: func() {
				optUnsafe = true
				stressFlags.goroutines = 1
			},
			wantContain: []string{"consistent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t, &stressFlags)
			stressFlags.retain = 0
			if tt.setup != nil {
				tt.setup()
			}

			output, err := captureOutput(t, runStress)
			if err != nil {
				t.Fatalf("runStress() error = %v", err)
			}
			assertContains(t, output, tt.wantContain)
		})
	}
}

func TestStressCommand_JSON(t *testing.T) {
	resetFlags(t, &stressFlags)
	jsonOut = true

	output, err := captureOutput(t, runStress)
	if err != nil {
		t.Fatalf("runStress() error = %v", err)
	}
	var rep struct {
		Workload struct {
			Mallocs uint64 `json:"mallocs"`
			Frees   uint64 `json:"frees"`
		} `json:"workload"`
		Valid bool `json:"valid"`
	}
	decodeJSON(t, output, &rep)
	if !rep.Valid {
		t.Error("heap reported inconsistent")
	}
	if rep.Workload.Mallocs == 0 || rep.Workload.Frees == 0 {
		t.Errorf("expected mallocs and frees, got %+v", rep.Workload)
	}
}

func TestStatsCommand(t *testing.T) {
	resetFlags(t, &statsFlags)

	output, err := captureOutput(t, runStats)
	if err != nil {
		t.Fatalf("runStats() error = %v", err)
	}
	assertContains(t, output, []string{"Memory", "in use:", "allocations:", "heap extensions:", "Retained blocks:"})

	resetFlags(t, &statsFlags)
	statsFlags.retain = 1
	jsonOut = true
	output, err = captureOutput(t, runStats)
	if err != nil {
		t.Fatalf("runStats() error = %v", err)
	}
	var rep statsReport
	decodeJSON(t, output, &rep)
	if rep.Retained == 0 {
		t.Error("expected retained blocks")
	}
	if rep.Stats.CurrentUsage == 0 {
		t.Error("expected memory in use while blocks are retained")
	}
	if rep.Stats.AllocationCount < rep.Stats.FreeCount {
		t.Errorf("more frees (%d) than allocations (%d)", rep.Stats.FreeCount, rep.Stats.AllocationCount)
	}
}

func TestValidateCommand(t *testing.T) {
	for _, layout := range []string{"balanced", "fine", "coarse"} {
		t.Run(layout, func(t *testing.T) {
			resetFlags(t, &validateFlags)
			optSizeClasses = layout
			jsonOut = true

			output, err := captureOutput(t, runValidate)
			if err != nil {
				t.Fatalf("runValidate() error = %v", err)
			}
			var results []validateResult
			decodeJSON(t, output, &results)
			if len(results) != 2 {
				t.Fatalf("expected 2 phases, got %d", len(results))
			}
			for _, r := range results {
				if !r.Valid {
					t.Errorf("phase %s invalid: %s", r.Phase, r.Error)
				}
			}
		})
	}
}

func TestDumpCommand(t *testing.T) {
	resetFlags(t, &dumpFlags)
	optArenas = 2
	dumpFlags.retain = 1

	output, err := captureOutput(t, runDump)
	if err != nil {
		t.Fatalf("runDump() error = %v", err)
	}
	assertContains(t, output, []string{"Heap: strategy=hybrid arenas=2", "Arena 0:", "Arena 1:", "segment 0x"})

	resetFlags(t, &dumpFlags)
	optArenas = 1
	dumpFlags.retain = 1
	dumpBlocks = true
	jsonOut = true
	output, err = captureOutput(t, runDump)
	if err != nil {
		t.Fatalf("runDump() error = %v", err)
	}
	var d memforge.HeapDump
	decodeJSON(t, output, &d)
	if len(d.Arenas) != 1 {
		t.Fatalf("expected 1 arena, got %d", len(d.Arenas))
	}
	if len(d.Arenas[0].Segments) == 0 || len(d.Arenas[0].Segments[0].Blocks) == 0 {
		t.Error("expected segments with blocks")
	}
}

func TestClassesCommand(t *testing.T) {
	resetFlags(t, nil)
	output, err := captureOutput(t, runClasses)
	if err != nil {
		t.Fatalf("runClasses() error = %v", err)
	}
	assertContains(t, output, []string{"Layout balanced", "(oversized)"})

	resetFlags(t, nil)
	optSizeClasses = "coarse"
	jsonOut = true
	output, err = captureOutput(t, runClasses)
	if err != nil {
		t.Fatalf("runClasses() error = %v", err)
	}
	var table classTable
	decodeJSON(t, output, &table)
	if table.Layout != "coarse" || len(table.Classes) == 0 {
		t.Fatalf("unexpected table %+v", table)
	}
	for i := 1; i < len(table.Classes); i++ {
		if table.Classes[i].Upper <= table.Classes[i-1].Upper {
			t.Errorf("class %d bound %d not above class %d", i, table.Classes[i].Upper, i-1)
		}
		if table.Classes[i].Lower != table.Classes[i-1].Upper+1 {
			t.Errorf("class %d does not start after class %d", i, i-1)
		}
	}
}

func TestAllocatorOptions(t *testing.T) {
	resetFlags(t, nil)
	optStrategy = "first-fit"
	optThreshold = "64KiB"
	optLimit = "1GB"
	optArenas = 3
	optDebug = true

	opts, err := allocatorOptions()
	if err != nil {
		t.Fatalf("allocatorOptions() error = %v", err)
	}
	if opts.Strategy != memforge.FirstFit {
		t.Errorf("strategy = %v", opts.Strategy)
	}
	if opts.MmapThreshold != 64<<10 {
		t.Errorf("threshold = %d", opts.MmapThreshold)
	}
	if opts.MemoryLimit != 1_000_000_000 {
		t.Errorf("limit = %d", opts.MemoryLimit)
	}
	if opts.ArenaCount != 3 || opts.Debug == nil || !*opts.Debug || opts.ThreadSafe != nil {
		t.Errorf("unexpected options %+v", opts)
	}

	resetFlags(t, nil)
	optStrategy = "worst-fit"
	if _, err := allocatorOptions(); !errors.Is(err, memforge.ErrInvalidConfig) {
		t.Errorf("bad strategy: got %v", err)
	}

	resetFlags(t, nil)
	optPageSize = "lots"
	if _, err := allocatorOptions(); err == nil {
		t.Error("expected error for unparsable page size")
	}

	resetFlags(t, nil)
	optPageSize = "3000"
	if _, err := openAllocator(); !errors.Is(err, memforge.ErrInvalidConfig) {
		t.Errorf("non power of two page size: got %v", err)
	}
}

func TestWorkloadFlags_Invalid(t *testing.T) {
	resetFlags(t, &stressFlags)
	stressFlags.retain = 2
	if _, err := stressFlags.workload(); err == nil {
		t.Error("expected error for retain above 1")
	}

	resetFlags(t, &stressFlags)
	stressFlags.minSize = "8KiB"
	w, err := stressFlags.workload()
	if err != nil {
		t.Fatalf("workload() error = %v", err)
	}
	a, err := memforge.New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Cleanup()
	if _, err := w.run(a); err == nil {
		t.Error("expected error for min size above max size")
	}
}
