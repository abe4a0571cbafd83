package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewNewCommand() *cobra.Command {
	var boardModel string

	cmd := &cobra.Command{
		Use:     "new [name]",
		Short:   "Create a new measurement project",
		GroupID: gProject,
		Long: `Create a new measurement project and enter edit mode.

The project lives in the daemon until you save it to a .mip container with "mip save".`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sum, err := apiClient.CreateProject(args[0], boardModel)
			if err != nil {
				return fmt.Errorf("failed to create project: %v", err)
			}

			logrus.Infof("created project %q (board model %q)", sum.Name, sum.BoardModel)
			return nil
		},
	}

	cmd.Flags().StringVarP(&boardModel, "board-model", "b", "", "board model identifier")

	return cmd
}

func NewLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "load [file.mip]",
		Short:   "Load a project from a .mip container",
		GroupID: gProject,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sum, err := apiClient.LoadProject(args[0])
			if err != nil {
				return fmt.Errorf("failed to load project: %v", err)
			}

			logrus.Infof("loaded project %q: %d points, %d measured", sum.Name, sum.Stats.Total, sum.Stats.Measured)
			return nil
		},
	}
}

func NewSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "save [file.mip]",
		Short:   "Save the open project to a .mip container",
		GroupID: gProject,
		Long: `Save the open project to a .mip container.

If no file is given, the project is saved to the path it was last loaded from or saved to.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			saved, err := apiClient.SaveProject(path)
			if err != nil {
				return fmt.Errorf("failed to save project: %v", err)
			}

			logrus.Infof("saved project to %s", saved)
			return nil
		},
	}
}

func NewCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "close",
		Short:   "Close the open project",
		GroupID: gProject,
		Long: `Close the open project and return to the initial state.

Unsaved changes are discarded, save first if you want to keep them.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := apiClient.CloseProject(); err != nil {
				return fmt.Errorf("failed to close project: %v", err)
			}

			logrus.Info("project closed")
			return nil
		},
	}
}

func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "info [file.mip]",
		Short:   "Show container metadata without loading it",
		GroupID: gProject,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := apiClient.GetProjectInfo(args[0])
			if err != nil {
				return fmt.Errorf("failed to read container: %v", err)
			}

			cmd.Printf("Name:        %s\n", info.Name)
			cmd.Printf("Board model: %s\n", info.BoardModel)
			cmd.Printf("Points:      %d\n", info.PointCount)
			cmd.Printf("Board photo: %s\n", bool2Text(info.HasImage))
			cmd.Printf("File size:   %d bytes\n", info.FileSize)
			return nil
		},
	}
}

func NewExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "export",
		Short:   "Export the open project as JSON",
		GroupID: gProject,
		Long:    `Export the open project as plain JSON on stdout (board photo omitted).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := apiClient.ExportProject()
			if err != nil {
				return fmt.Errorf("failed to export project: %v", err)
			}

			cmd.Println(out)
			return nil
		},
	}
}

func NewImageCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "image [photo.png|photo.jpg]",
		Short:   "Attach a board photo to the open project",
		GroupID: gProject,
		Long: `Attach a board photo to the open project.

Point coordinates are validated against the photo dimensions, so attach the photo before marking points. Only allowed in edit mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %v", args[0], err)
			}

			ret, err := apiClient.SetImage(data)
			if err != nil {
				return fmt.Errorf("failed to attach board photo: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func NewToleranceCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "tolerance [percent]",
		Short:   "Set the comparison tolerance",
		GroupID: gProject,
		Long: `Set the comparison tolerance as a percentage.

A test reading within this percentage of the reference reading counts as OK. Only allowed in edit mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			percent, err := parseFloatArg(args, "tolerance")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetTolerance(percent)
			if err != nil {
				return fmt.Errorf("failed to set tolerance: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}
