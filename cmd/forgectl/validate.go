package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memforge/pkg/memforge"
)

var validateFlags workloadFlags

func init() {
	cmd := newValidateCmd()
	validateFlags.bind(cmd, 10_000, 0.5)
	rootCmd.AddCommand(cmd)
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check heap consistency after a workload",
		Long: `The validate command runs a workload and walks every arena, segment,
free list and mapped block, once with part of the live set still allocated
and once after releasing it. It exits non-zero on the first inconsistency.

Example:
  forgectl validate
  forgectl validate --strategy first-fit --size-classes fine
  forgectl validate --debug --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	}
}

type validateResult struct {
	Phase string `json:"phase"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Type  string `json:"type,omitempty"`
	Arena int    `json:"arena,omitempty"`
}

func runValidate() error {
	w, err := validateFlags.workload()
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
	results := []validateResult{check(a, "live")}
	if err := res.release(a); err != nil {
		return fmt.Errorf("failed to release retained blocks: %w", err)
	}
	results = append(results, check(a, "released"))

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				printInfo("%-9s ok\n", r.Phase)
			} else {
				printInfo("%-9s FAILED: %s\n", r.Phase, r.Error)
			}
		}
	}
	for _, r := range results {
		if !r.Valid {
			return fmt.Errorf("heap inconsistent (%s)", r.Phase)
		}
	}
	return nil
}

func check(a *memforge.Allocator, phase string) validateResult {
	r := validateResult{Phase: phase, Valid: true}
	err := a.Check()
	if err == nil {
		return r
	}
	r.Valid = false
	r.Error = err.Error()
	var ve *memforge.ValidationError
	if errors.As(err, &ve) {
		r.Type = ve.Type
		r.Arena = ve.Arena
	}
	return r
}
