package cli

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/rsyncer/pkg/color"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

var (
	jsonOutput bool
	noColor    bool
	configFile string
	logLevel   string
	rootCmd    = &cobra.Command{
		Use:   "rsyncer",
		Short: "rsyncer - supervised rsync runs with progress tracking",
		Long: `rsyncer wraps rsync. It builds safe command lines from structured
options, runs rsync as a supervised subprocess, and reports transfer
progress while it runs.

Ad-hoc transfers use "rsyncer sync". Named jobs are read from the config
file ($RSYNCER_CONFIG, or config.yaml under the user config directory)
and run with "rsyncer jobs run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $RSYNCER_CONFIG or <user config dir>/rsyncer/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

// exitError carries the process exit status for a failed rsync run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command. A failed rsync run exits with rsync's own
// exit code; every other error exits 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) && ee.code > 0 {
		return ee.code
	}
	return 1
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
