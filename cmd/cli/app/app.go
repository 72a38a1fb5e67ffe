package app

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"joblog/internal/config"
	"joblog/internal/database"
	"joblog/internal/events"
	"joblog/internal/joblog"
	"joblog/internal/liveness"
	"joblog/internal/registry"
	"joblog/internal/store"
)

// App bundles the services every command works with
type App struct {
	Config    *config.JLConfig
	Backend   store.Backend
	Publisher events.Publisher
	Registry  *registry.Registry
	Runner    *joblog.Runner
}

// New wires the store, the event publisher, the registry and the session runner from conf
func New(ctx context.Context, conf *config.JLConfig) (*App, error) {
	backend, err := database.New(ctx, conf)
	if err != nil {
		return nil, err
	}

	publisher, err := events.New(conf)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	policy := liveness.NewPolicy(
		conf.JobLog.Ping,
		conf.JobLog.PingInterval(),
		conf.JobLog.PingLeewayFactor,
		conf.JobLog.RunningSince(),
	)
	reg := registry.New(backend, policy, registry.WithPublisher(publisher))
	runner := joblog.NewRunner(reg, joblog.OptionsFromConfig(conf.JobLog), joblog.WithPublisher(publisher))

	return &App{
		Config:    conf,
		Backend:   backend,
		Publisher: publisher,
		Registry:  reg,
		Runner:    runner,
	}, nil
}

// MustNew loads the configuration of cmd and wires the app. It exits the process on failure.
func MustNew(cmd *cobra.Command) *App {
	conf := config.FromCobraCmd(cmd)
	a, err := New(cmd.Context(), conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up joblog")
	}
	return a
}

// Close releases the store and the event stream
func (a *App) Close() {
	if err := a.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close event stream cleanly on shutdown")
	}
	if err := a.Backend.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close db cleanly on shutdown")
	}
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx is done
func WaitForSignal(ctx context.Context, sigCh <-chan os.Signal) {
	select {
	case sig := <-sigCh:
		log.Info().Msgf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
	}
}
