package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newClassesCmd())
}

func newClassesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "Print the size-class table",
		Long: `The classes command prints the upper bound of every size class of the
selected layout. Requests above the last bound go to the oversized list.

Example:
  forgectl classes
  forgectl classes --size-classes fine --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClasses()
		},
	}
}

type classRow struct {
	Class int     `json:"class"`
	Lower uintptr `json:"lower"`
	Upper uintptr `json:"upper"`
}

type classTable struct {
	Layout  string     `json:"layout"`
	Classes []classRow `json:"classes"`
}

func runClasses() error {
	a, err := openAllocator()
	if err != nil {
		return err
	}
	defer a.Cleanup()

	cfg := a.Dump(false).Config
	t := classTable{Layout: cfg.SizeClasses}
	var lower uintptr
	for i, b := range cfg.ClassBounds {
		t.Classes = append(t.Classes, classRow{Class: i, Lower: lower + 1, Upper: b})
		lower = b
	}

	if jsonOut {
		return printJSON(t)
	}
	printInfo("Layout %s, %d classes\n", t.Layout, len(t.Classes))
	for _, r := range t.Classes {
		printInfo("  %3d  %8s .. %s\n", r.Class, count(r.Lower), count(r.Upper))
	}
	printInfo("  %3d  %8s .. (oversized)\n", len(t.Classes), count(lower+1))
	return nil
}
