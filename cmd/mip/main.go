package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/multimetro/mip/internal/client"
	"github.com/multimetro/mip/pkg/version"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/mip.sock"
	configPath     = "/etc/mip.json"
)

var (
	gProject      = "Project:"
	gWorkflow     = "Workflow:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gProject,
		gWorkflow,
		gAdvanced,
	}
)

// apiClient is built in PersistentPreRunE, after the --daemon-socket flag
// has been parsed.
var apiClient *client.Client

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: mip daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Have you started it with 'mip daemon'?")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or run the daemon with the '--always-allow-non-root-access' flag to grant permissions to your user")
	}
}

func main() {
	// The CLI is a thin shim over the daemon, it does not need many CPUs.
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

// getVersion returns the client and daemon versions.
func getVersion() (string, string, error) {
	daemonVersion, err := apiClient.GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, daemonVersion, nil
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mip",
		Short: "mip measures circuit boards with a serial multimeter and compares them against a reference",
		Long: `mip maps measurement points onto a board photo, drives a multimeter over a
serial link, and compares reference-board readings against a board under test.

Projects are saved as .mip containers (board photo + points + readings).`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. mip may not work as expected. Make sure both are the same version.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "mip daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewNewCommand(),
		NewLoadCommand(),
		NewSaveCommand(),
		NewCloseCommand(),
		NewInfoCommand(),
		NewExportCommand(),
		NewImageCommand(),
		NewToleranceCommand(),
		NewPointCommand(),
		NewMarkCommand(),
		NewEditCommand(),
		NewMeasureCommand(),
		NewCompareCommand(),
		NewStatusCommand(),
		NewConfigCommand(),
	)

	return cmd
}
