package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/multimetro/mip/pkg/workflow"
)

func transitionCommand(use, short, long, groupID string, to workflow.State) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		GroupID: groupID,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Transition(string(to))
			if err != nil {
				return fmt.Errorf("failed to enter %s: %v", to.DisplayName(), err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func NewMarkCommand() *cobra.Command {
	return transitionCommand("mark",
		"Enter marking mode",
		`Enter marking mode to place measurement points on the board photo.

Requires an open project in edit mode.`,
		gWorkflow, workflow.StateMarking)
}

func NewEditCommand() *cobra.Command {
	return transitionCommand("edit",
		"Return to edit mode",
		`Return to edit mode from marking or comparison.

Any cached comparison report is discarded.`,
		gWorkflow, workflow.StateEditing)
}

func NewMeasureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "measure",
		Short:   "Acquire readings from the multimeter",
		GroupID: gWorkflow,
		Long: `Acquire readings from the multimeter over the serial link.

"mip measure start" enters measuring mode; then measure individual points or
all of them for a given board role (reference or test).`,
	}

	cmd.AddCommand(
		transitionCommand("start",
			"Enter measuring mode",
			`Enter measuring mode. Requires at least one marked point.`,
			"", workflow.StateMeasuring),
		newMeasurePointCommand(),
		newMeasureAllCommand(),
		newMeasureCancelCommand(),
	)

	return cmd
}

func newMeasurePointCommand() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "point [id]",
		Short: "Measure a single point",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseIntArg(args, "point id")
			if err != nil {
				return err
			}

			reading, err := apiClient.MeasurePoint(id, role)
			if err != nil {
				return fmt.Errorf("failed to measure point %d: %v", id, err)
			}

			logrus.Infof("point %d: %g %s (%s board)", reading.PointID, reading.Value, reading.Unit, role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", "reference", "board role (reference or test)")

	return cmd
}

func newMeasureAllCommand() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Measure every marked point in order",
		Long: `Measure every marked point in order, stopping at the first failure.

Points are measured strictly one at a time over the serial link.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			n, err := apiClient.MeasureAll(role)
			if err != nil {
				return fmt.Errorf("failed after measuring %d points: %v", n, err)
			}

			logrus.Infof("measured %d points (%s board)", n, role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", "reference", "board role (reference or test)")

	return cmd
}

func newMeasureCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the measurement in progress",
		Long: `Cancel the measurement in progress.

The point being measured finishes its current frame exchange; already stored readings are kept.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.CancelMeasurement()
			if err != nil {
				return fmt.Errorf("failed to cancel: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}
