package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Inspect and change daemon configuration",
		GroupID: gAdvanced,
		Long: `Inspect and change the daemon configuration.

Serial port settings are read from the config file at daemon startup; the
subcommands here change the settings that take effect immediately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := apiClient.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %v", err)
			}

			b, err := json.MarshalIndent(conf, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(b))
			return nil
		},
	}

	cmd.AddCommand(
		newAutosaveCommand(),
		newStrictCompareCommand(),
	)

	return cmd
}

func newAutosaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "autosave [cron expression]",
		Short: "Set the autosave schedule",
		Long: `Set the autosave schedule as a cron expression, e.g. "@every 5m".

An empty expression ("") disables autosave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := apiClient.SetAutosaveSchedule(args[0])
			if err != nil {
				return fmt.Errorf("failed to set autosave schedule: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func newStrictCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "strict-compare [true|false]",
		Short: "Make incomplete points fail the comparison verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			enabled, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("invalid value %q: %v", args[0], err)
			}

			ret, err := apiClient.SetStrictCompare(enabled)
			if err != nil {
				return fmt.Errorf("failed to set strict compare: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}
