package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/multimetro/mip/pkg/daemon"
	"github.com/multimetro/mip/pkg/workflow"
)

type statusData struct {
	status *daemon.StatusResponse
	state  *daemon.StateResponse
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	status, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get daemon status: %w", err)
	}

	state, err := apiClient.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow state: %w", err)
	}

	return &statusData{
		status: status,
		state:  state,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gWorkflow,
		Short:   "Get the current status of mip",
		Long:    `Get the workflow state, open project, and measurement progress.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			st := data.status

			cmd.Println(bold("Workflow:"))
			cmd.Printf("  State: %s\n", bold("%s", st.StateName))
			if data.state.Previous != "" {
				prev := workflow.State(data.state.Previous)
				cmd.Printf("  Previous: %s\n", prev.DisplayName())
			}
			cmd.Printf("  Session: %s\n", st.SessionID)

			cmd.Println()
			cmd.Println(bold("Project:"))
			if st.Project == nil {
				cmd.Println("  No project open. Create one with \"mip new\" or load one with \"mip load\".")
				return nil
			}

			p := st.Project
			cmd.Printf("  Name: %s\n", bold("%s", p.Name))
			if p.BoardModel != "" {
				cmd.Printf("  Board model: %s\n", p.BoardModel)
			}
			if p.Path != "" {
				cmd.Printf("  File: %s\n", p.Path)
			}
			cmd.Printf("  Board photo: %s", bool2Text(p.HasImage))
			if p.HasImage {
				cmd.Printf(" (%dx%d)", p.ImageWidth, p.ImageHeight)
			}
			cmd.Println()
			cmd.Printf("  Tolerance: %s\n", bold("%.2f%%", p.TolerancePercent))
			cmd.Printf("  Points: %s marked, %s measured, %s remaining\n",
				bold("%d", p.Stats.Total),
				bold("%d", p.Stats.Measured),
				bold("%d", p.Stats.Unmeasured))

			if workflow.State(st.State) == workflow.StateMeasuring {
				cmd.Println()
				cmd.Println(bold("Acquisition progress:"))
				printRoleProgress(cmd, "Reference board", st.Progress.Reference)
				printRoleProgress(cmd, "Test board", st.Progress.Test)
			}

			return nil
		},
	}
}

func printRoleProgress(cmd *cobra.Command, label string, p workflow.RoleProgress) {
	if p.Attempted == 0 {
		cmd.Printf("  %s: no readings yet\n", label)
		return
	}
	line := fmt.Sprintf("  %s: %s ok", label, color.GreenString("%d", p.Succeeded))
	if p.Failed > 0 {
		line += fmt.Sprintf(", %s failed", color.RedString("%d", p.Failed))
	}
	cmd.Printf("%s of %d attempted\n", line, p.Attempted)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
