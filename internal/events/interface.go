package events

import (
	"context"
	"fmt"
	"time"

	"joblog/internal/config"
	"joblog/internal/models"
)

// RunEvent is a message announcing a run lifecycle transition
type RunEvent struct {
	RunID      string          `json:"run_id"`
	Name       string          `json:"name"`
	Count      int64           `json:"count"`
	State      models.RunState `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	DurationUS *int64          `json:"duration_us,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// FromRun builds the event for the run's current state
func FromRun(run *models.Run, occurredAt time.Time) RunEvent {
	event := RunEvent{
		RunID:      run.ID,
		Name:       run.Name,
		Count:      run.Count,
		State:      run.State,
		StartedAt:  run.StartedAt,
		OccurredAt: occurredAt,
	}
	if run.EndedAt.Valid {
		endedAt := run.EndedAt.Time
		event.EndedAt = &endedAt
	}
	if run.DurationUS.Valid {
		d := run.DurationUS.Int64
		event.DurationUS = &d
	}
	return event
}

// Publisher defines the interface for announcing run events. Publishing is best-effort; callers
// log failures instead of failing the run.
type Publisher interface {
	Publish(ctx context.Context, event RunEvent) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, RunEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

// New returns the publisher the configuration asks for, a NopPublisher when events are disabled
func New(conf *config.JLConfig) (Publisher, error) {
	if !conf.Events.Enabled {
		return NopPublisher{}, nil
	}
	publisher, err := NewRedisPublisher(conf.Events.Host, conf.Events.Password, conf.Events.DB, conf.Events.Key, conf.Events.MaxLen)
	if err != nil {
		return nil, fmt.Errorf("could not connect to event stream at %s: %w", conf.Events.Host, err)
	}
	return publisher, nil
}
