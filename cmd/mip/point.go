package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/multimetro/mip/pkg/model"
)

func NewPointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "point",
		Short:   "Manage measurement points",
		GroupID: gWorkflow,
		Long: `Manage the measurement points of the open project.

Points can only be added or removed in marking mode ("mip mark") or edit mode.`,
	}

	cmd.AddCommand(
		newPointAddCommand(),
		newPointRemoveCommand(),
		newPointListCommand(),
		newPointSetCommand(),
	)

	return cmd
}

func newPointAddCommand() *cobra.Command {
	var (
		shape  string
		radius int
		width  int
		height int
		name   string
		ctype  string
	)

	cmd := &cobra.Command{
		Use:   "add [x] [y]",
		Short: "Add a measurement point at pixel coordinates",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			x, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid x: %v", err)
			}
			y, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid y: %v", err)
			}

			pt := &model.Point{
				X:             x,
				Y:             y,
				Shape:         model.Shape(shape),
				Name:          name,
				ComponentType: ctype,
			}
			switch pt.Shape {
			case model.ShapeCircle:
				pt.Radius = radius
			case model.ShapeRectangle:
				pt.Width = width
				pt.Height = height
			default:
				return fmt.Errorf("unknown shape %q (want circle or rectangle)", shape)
			}

			added, err := apiClient.AddPoint(pt)
			if err != nil {
				return fmt.Errorf("failed to add point: %v", err)
			}

			logrus.Infof("added point %d at (%d, %d)", added.ID, added.X, added.Y)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&shape, "shape", "s", "circle", "point shape (circle or rectangle)")
	f.IntVarP(&radius, "radius", "r", 0, "circle radius in pixels (0 uses the default size)")
	f.IntVar(&width, "width", 0, "rectangle width in pixels (0 uses the default size)")
	f.IntVar(&height, "height", 0, "rectangle height in pixels (0 uses the default size)")
	f.StringVarP(&name, "name", "n", "", "point name, e.g. R12")
	f.StringVarP(&ctype, "component-type", "t", "", "component type, e.g. resistor")

	return cmd
}

func newPointRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [id]",
		Short: "Remove a measurement point",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseIntArg(args, "point id")
			if err != nil {
				return err
			}

			ret, err := apiClient.RemovePoint(id)
			if err != nil {
				return fmt.Errorf("failed to remove point: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func newPointListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List the measurement points of the open project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			points, err := apiClient.ListPoints()
			if err != nil {
				return fmt.Errorf("failed to list points: %v", err)
			}

			if len(points) == 0 {
				cmd.Println("no points marked")
				return nil
			}

			for _, pt := range points {
				line := fmt.Sprintf("%3d  %-12s (%4d,%4d) %s", pt.ID, pt.DisplayName(), pt.X, pt.Y, pt.SizeText())
				if pt.ReferenceValue != nil {
					line += fmt.Sprintf("  ref=%g", *pt.ReferenceValue)
				}
				if pt.CompareValue != nil {
					line += fmt.Sprintf("  test=%g", *pt.CompareValue)
				}
				cmd.Println(line)
			}
			return nil
		},
	}
}

func newPointSetCommand() *cobra.Command {
	var (
		name  string
		ctype string
		desc  string
	)

	cmd := &cobra.Command{
		Use:   "set [id]",
		Short: "Update metadata of a measurement point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIntArg(args, "point id")
			if err != nil {
				return err
			}

			patch := map[string]any{}
			if cmd.Flags().Changed("name") {
				patch["name"] = name
			}
			if cmd.Flags().Changed("component-type") {
				patch["component_type"] = ctype
			}
			if cmd.Flags().Changed("description") {
				patch["description"] = desc
			}
			if len(patch) == 0 {
				return fmt.Errorf("nothing to update, pass at least one flag")
			}

			updated, err := apiClient.UpdatePoint(id, patch)
			if err != nil {
				return fmt.Errorf("failed to update point: %v", err)
			}

			logrus.Infof("updated point %d (%s)", updated.ID, updated.DisplayName())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&name, "name", "n", "", "point name, e.g. R12")
	f.StringVarP(&ctype, "component-type", "t", "", "component type, e.g. resistor")
	f.StringVarP(&desc, "description", "d", "", "free-form description")

	return cmd
}
