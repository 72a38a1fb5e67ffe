package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"joblog/cmd/cli/runcmd"
	"joblog/internal/config"
)

var RootCmd = &cobra.Command{
	Use:   "jlctl",
	Short: "JobLog - Run tracking for recurring jobs",
	Long: `JobLog records every run of a named job: when it started, what it logged, how it ended.

Runs whose process died without finishing are detected through heartbeats and marked as vanished
by the cleanup sweep. Start the scheduler to run the sweep and configured jobs periodically.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(config.FromCobraCmd(cmd).Level())
	},
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(runcmd.Command)
	RootCmd.AddCommand(startCmd)
	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(showCmd)
	RootCmd.AddCommand(cleanupCmd)
	RootCmd.AddCommand(eventsCmd)
}

// exitError makes the process exit with a specific status
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)

		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}
