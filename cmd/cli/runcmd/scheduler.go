package runcmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"joblog/cmd/cli/app"
	"joblog/internal/scheduler"
	"joblog/internal/worker"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Starts the scheduler process",
	Long:  "Runs the cleanup sweep and the jobs listed in the configuration on their cron schedules.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running scheduler process")
		a := app.MustNew(cmd)

		sch := scheduler.NewScheduler(a.Runner, worker.NewWorker(a.Runner))
		if err := sch.FromConfig(a.Config); err != nil {
			a.Close()
			log.Fatal().Err(err).Msg("Failed to set up schedules")
		}

		defer func() {
			sch.Stop()
			a.Close()
		}()

		sch.Start(cmd.Context())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		app.WaitForSignal(cmd.Context(), sigCh)
	},
}
