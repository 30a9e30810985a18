package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PowerSchill/automation-concierge/internal/config"
	"github.com/PowerSchill/automation-concierge/internal/github"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitConfig  = 1
	ExitAuth    = 2
	ExitPartial = 3
	ExitFatal   = 4
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

var (
	configPath string
	quiet      bool
	verbose    bool
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "concierge",
	Short: "Act on GitHub notifications with configurable rules",
	Long: `concierge polls your GitHub notifications, evaluates them against
rules from a config file, and runs actions for the ones that match:
console output, desktop notifications, Slack messages, or issue comments.

State is kept in a local sqlite database so each event is handled once
and time-based rules fire once per issue or pull request.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		if code != ExitPartial || !quiet {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(code)
	}
}

func exitCode(err error) int {
	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case github.IsKind(err, github.KindAuthentication):
		return ExitAuth
	case errors.Is(err, config.ErrNotFound):
		return ExitConfig
	default:
		return ExitFatal
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: discovered)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}
