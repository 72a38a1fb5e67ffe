package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"joblog/internal/config"
	"joblog/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follows the run event stream",
	Long: `Prints run lifecycle events as JSON lines as they are published. Events are consumed, so two
followers each see part of the stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.FromCobraCmd(cmd)
		if !conf.Events.Enabled {
			return errors.New("events are disabled, set events.enabled to follow them")
		}

		publisher, err := events.NewRedisPublisher(conf.Events.Host, conf.Events.Password, conf.Events.DB, conf.Events.Key, conf.Events.MaxLen)
		if err != nil {
			return fmt.Errorf("could not connect to event stream at %s: %w", conf.Events.Host, err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close event stream cleanly on shutdown")
			}
		}()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info().Str("key", publisher.Key()).Msg("Following run events")
		enc := json.NewEncoder(cmd.OutOrStdout())
		err = publisher.Subscribe(ctx, func(event events.RunEvent) {
			if err := enc.Encode(event); err != nil {
				log.Error().Err(err).Msg("Could not print event")
			}
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
