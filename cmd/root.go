package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"gantry/internal/app"
)

// Exit codes for CLI commands, for scripting against gantry.
const (
	// ExitCodeSuccess indicates clean startup and clean shutdown.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (bad arguments, invalid
	// definition, runtime failure).
	ExitCodeError = 1
	// ExitCodeStartupFailed indicates the application never became
	// ready: a resource failed to start or readiness timed out.
	ExitCodeStartupFailed = 2
)

// rootCmd is the entry point when gantry is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Run a distributed application on your machine",
	Long: `gantry starts all resources of a distributed application locally:
processes, containers and external services, wired together through
allocated endpoints, started in dependency order and supervised until
you stop them.`,
	// Errors are reported by the commands themselves; repeating the
	// usage text on top of them only buries the cause.
	SilenceUsage: true,
}

// SetVersion injects the build version from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits with a semantic exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "gantry version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	if errors.Is(err, app.ErrStartupFailed) {
		return ExitCodeStartupFailed
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
}
