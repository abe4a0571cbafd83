package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/multimetro/mip/pkg/compare"
	"github.com/multimetro/mip/pkg/workflow"
)

func NewCompareCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:     "compare",
		Short:   "Compare reference and test readings",
		GroupID: gWorkflow,
		Long: `Enter comparison mode and print the report.

Requires every marked point to carry both a reference and a test reading.
If already in comparison mode, the cached report is printed; --refresh
recomputes it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetState()
			if err != nil {
				return fmt.Errorf("failed to get workflow state: %v", err)
			}

			if workflow.State(st.State) != workflow.StateComparing {
				if _, err := apiClient.Transition(string(workflow.StateComparing)); err != nil {
					return fmt.Errorf("failed to enter comparison: %v", err)
				}
			}

			rep, err := apiClient.GetReport(refresh)
			if err != nil {
				return fmt.Errorf("failed to get report: %v", err)
			}

			printReport(cmd, rep)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "recompute the report instead of using the cached one")

	return cmd
}

func printReport(cmd *cobra.Command, rep *compare.Report) {
	cmd.Println(bold("Comparison report:"))
	cmd.Printf("  Tolerance: %s\n", bold("%.2f%%", rep.TolerancePercent))
	if rep.Strict {
		cmd.Printf("  Mode: %s\n", bold("strict (incomplete points fail)"))
	}
	cmd.Println()

	for _, e := range rep.Entries {
		var verdict string
		switch e.Status {
		case compare.StatusOK:
			verdict = color.New(color.Bold, color.FgGreen).Sprint("OK")
		case compare.StatusDivergent:
			verdict = color.New(color.Bold, color.FgRed).Sprint("DIVERGENT")
		case compare.StatusIncomplete:
			verdict = color.New(color.Bold, color.FgYellow).Sprint("INCOMPLETE")
		}

		line := fmt.Sprintf("  %3d  %s", e.PointID, verdict)
		if e.ReferenceValue != nil {
			line += fmt.Sprintf("  ref=%g", *e.ReferenceValue)
		}
		if e.CompareValue != nil {
			line += fmt.Sprintf("  test=%g", *e.CompareValue)
		}
		if e.DiffPercent != nil {
			line += fmt.Sprintf("  diff=%.2f%%", *e.DiffPercent)
		}
		cmd.Println(line)
	}

	cmd.Println()
	cmd.Println(bold("Summary:"))
	cmd.Printf("  OK:         %s\n", color.GreenString("%d", rep.Summary.OK))
	cmd.Printf("  Divergent:  %s\n", color.RedString("%d", rep.Summary.Divergent))
	cmd.Printf("  Incomplete: %s\n", color.YellowString("%d", rep.Summary.Incomplete))
	if rep.OverallPass {
		cmd.Printf("  Verdict: %s\n", color.New(color.Bold, color.FgGreen).Sprint("PASSED"))
	} else {
		cmd.Printf("  Verdict: %s\n", color.New(color.Bold, color.FgRed).Sprint("FAILED"))
	}
}
