package joblog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"joblog/internal/store"
)

// Heartbeat calls beat on a fixed interval in the background until stopped. A failing beat is
// logged and otherwise ignored.
type Heartbeat struct {
	interval time.Duration
	beat     func(ctx context.Context) error
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartHeartbeat starts the background loop. The first beat happens one interval after start.
func StartHeartbeat(ctx context.Context, interval time.Duration, beat func(ctx context.Context) error) *Heartbeat {
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{
		interval: interval,
		beat:     beat,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop(ctx)
	return h
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// both channels may be ready at once
			if ctx.Err() != nil {
				return
			}
			if err := h.beat(ctx); err != nil {
				if errors.Is(err, store.ErrRecordNotFound) || errors.Is(err, context.Canceled) {
					log.Debug().Err(err).Msg("Heartbeat skipped")
				} else {
					log.Warn().Err(err).Msg("Could not write heartbeat")
				}
			}
		}
	}
}

// Stop ends the loop and blocks until it has exited. No beat starts after Stop returns.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done
	})
}
