package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"joblog/cmd/cli/app"
	"joblog/internal/api"
	"joblog/internal/scheduler"
	"joblog/internal/worker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the API server",
	Long: `Serves the run records over HTTP. With --with-scheduler the process also runs the scheduler, so
a single process covers both.`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running API server")
		a := app.MustNew(cmd)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer func() {
			cancel()
			a.Close()
		}()

		var sch *scheduler.Scheduler
		if withScheduler, _ := cmd.Flags().GetBool("with-scheduler"); withScheduler {
			sch = scheduler.NewScheduler(a.Runner, worker.NewWorker(a.Runner))
			if err := sch.FromConfig(a.Config); err != nil {
				log.Error().Err(err).Msg("Failed to set up schedules")
				return
			}
			sch.Start(ctx)
			defer sch.Stop()
		}

		srv := api.New(ctx, a.Runner, sch, &api.Config{Host: a.Config.Server.Host, Port: a.Config.Server.Port})

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("API server stopped unexpectedly")
			}
			return
		case sig := <-sigCh:
			log.Info().Msgf("Received signal %v, shutting down...", sig)
		}

		cancel()
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("API server did not shut down cleanly")
		}
	},
}

func init() {
	serverCmd.Flags().Bool("with-scheduler", false, "also run the scheduler in this process")
}
