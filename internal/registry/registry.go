package registry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"joblog/internal/events"
	"joblog/internal/liveness"
	"joblog/internal/models"
	"joblog/internal/store"
)

// Logger is the part of a job logger the registry reports to
type Logger interface {
	Log(text string)
	Error(text string)
}

// Registry answers questions about the set of runs of a job name and reconciles runs whose
// process has died.
type Registry struct {
	store     store.Store
	policy    liveness.Policy
	publisher events.Publisher
	now       func() time.Time
}

type Option func(*Registry)

// WithClock replaces the wall clock, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithPublisher announces runs reclassified by Cleanup
func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) {
		r.publisher = p
	}
}

func New(st store.Store, policy liveness.Policy, opts ...Option) *Registry {
	r := &Registry{
		store:     st,
		policy:    policy,
		publisher: events.NopPublisher{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the liveness policy the registry judges with
func (r *Registry) Policy() liveness.Policy {
	return r.policy
}

// Store returns the backing store
func (r *Registry) Store() store.Store {
	return r.store
}

// Now returns the registry's current time
func (r *Registry) Now() time.Time {
	return r.now()
}

// IsRunning returns true if a run of the given name is currently considered alive
func (r *Registry) IsRunning(ctx context.Context, name string) (bool, error) {
	now := r.now()
	runs, err := r.store.Query(ctx, r.policy.Filter(name, now))
	if err != nil {
		return false, err
	}
	return r.policy.IsRunning(runs, now), nil
}

// Running returns the runs of the given name that are currently considered alive, oldest first
func (r *Registry) Running(ctx context.Context, name string) ([]models.Run, error) {
	now := r.now()
	runs, err := r.store.Query(ctx, r.policy.Filter(name, now))
	if err != nil {
		return nil, err
	}

	alive := make([]models.Run, 0, len(runs))
	for i := range runs {
		if r.policy.IsRunning(runs[i:i+1], now) {
			alive = append(alive, runs[i])
		}
	}
	return alive, nil
}

// Count returns the number of runs recorded under a name
func (r *Registry) Count(ctx context.Context, name string) (int64, error) {
	return r.store.CountByName(ctx, name)
}

// Get returns a single run
func (r *Registry) Get(ctx context.Context, id string) (*models.Run, error) {
	return r.store.Get(ctx, id)
}

// List returns the runs matching the filter
func (r *Registry) List(ctx context.Context, filter models.RunFilter) ([]models.Run, error) {
	return r.store.Query(ctx, filter)
}

func (r *Registry) publish(ctx context.Context, run *models.Run) {
	if err := r.publisher.Publish(ctx, events.FromRun(run, r.now())); err != nil {
		log.Warn().
			Err(err).
			Str("run_id", run.ID).
			Str("state", string(run.State)).
			Msg("Could not publish run event")
	}
}
