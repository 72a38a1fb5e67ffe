package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"joblog/internal/events"
	"joblog/internal/liveness"
	"joblog/internal/models"
	"joblog/internal/registry"
	"joblog/internal/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.RunEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

type recordingLogger struct {
	logs   []string
	errors []string
}

func (l *recordingLogger) Log(text string)   { l.logs = append(l.logs, text) }
func (l *recordingLogger) Error(text string) { l.errors = append(l.errors, text) }

func insertRun(t *testing.T, s store.Store, name string, count int64, startedAt time.Time, state models.RunState, duration *time.Duration) string {
	run := models.Run{Name: name, Count: count, StartedAt: startedAt, State: state}
	if duration != nil {
		run.DurationUS = models.DurationNull(*duration)
	}
	id, err := s.Create(context.Background(), run)
	require.NoError(t, err, "Could not insert run. name=%q", name)
	return id
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

func TestRegistry_IsRunning(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(time.Hour)
	clock := func() time.Time { return now }

	s := store.NewMemoryStore()
	insertRun(t, s, "stale", 1, t0, models.RunStateRunning, durationPtr(time.Minute))
	insertRun(t, s, "alive", 1, now.Add(-30*time.Second), models.RunStateRunning, durationPtr(25*time.Second))
	insertRun(t, s, "done", 1, t0, models.RunStateFinished, durationPtr(time.Minute))

	pinged := registry.New(s, liveness.Policy{PingEnabled: true, Leeway: 20 * time.Second}, registry.WithClock(clock))
	stateOnly := registry.New(s, liveness.Policy{}, registry.WithClock(clock))

	tests := []struct {
		name      string
		job       string
		pinged    bool
		stateOnly bool
	}{
		{"stale heartbeat", "stale", false, true},
		{"fresh heartbeat", "alive", true, true},
		{"finished job", "done", false, false},
		{"unknown job", "unknown", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			running, err := pinged.IsRunning(ctx, tc.job)
			require.NoError(t, err)
			assert.Equal(t, tc.pinged, running, "ping policy")

			running, err = stateOnly.IsRunning(ctx, tc.job)
			require.NoError(t, err)
			assert.Equal(t, tc.stateOnly, running, "state-only policy")
		})
	}
}

func TestRegistry_Running(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(time.Hour)

	s := store.NewMemoryStore()
	insertRun(t, s, "multi", 1, t0, models.RunStateRunning, durationPtr(time.Minute))
	fresh := insertRun(t, s, "multi", 2, now.Add(-10*time.Second), models.RunStateRunning, durationPtr(5*time.Second))
	insertRun(t, s, "multi", 3, now.Add(-5*time.Second), models.RunStateBlocked, nil)

	r := registry.New(s, liveness.Policy{PingEnabled: true, Leeway: 20 * time.Second},
		registry.WithClock(func() time.Time { return now }))

	runs, err := r.Running(ctx, "multi")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, fresh, runs[0].ID)

	runs, err = r.Running(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRegistry_Count(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := registry.New(s, liveness.Policy{})

	for i := int64(1); i <= 3; i++ {
		insertRun(t, s, "counted", i, t0, models.RunStateFinished, nil)
	}

	count, err := r.Count(ctx, "counted")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestRegistry_Cleanup(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(time.Hour)

	s := store.NewMemoryStore()
	staleWithDuration := insertRun(t, s, "a", 1, t0, models.RunStateRunning, durationPtr(time.Minute))
	staleNoDuration := insertRun(t, s, "b", 1, t0, models.RunStateRunning, nil)
	alive := insertRun(t, s, "c", 1, now.Add(-30*time.Second), models.RunStateRunning, durationPtr(25*time.Second))
	justStarted := insertRun(t, s, "d", 1, now.Add(-5*time.Second), models.RunStateRunning, nil)
	finished := insertRun(t, s, "e", 1, t0, models.RunStateFinished, durationPtr(time.Minute))

	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e events.RunEvent) bool {
		return e.State == models.RunStateVanished
	})).Return(nil).Twice()

	r := registry.New(s, liveness.Policy{PingEnabled: true, Leeway: 20 * time.Second},
		registry.WithClock(func() time.Time { return now }),
		registry.WithPublisher(publisher),
	)

	logger := &recordingLogger{}
	result, err := r.Cleanup(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Examined)
	assert.Len(t, result.Vanished, 2)
	assert.Equal(t, []string{"4 running jobs examined, 2 marked as vanished"}, logger.logs)
	assert.Empty(t, logger.errors)
	publisher.AssertExpectations(t)

	run, err := s.Get(ctx, staleWithDuration)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateVanished, run.State)
	assert.Equal(t, t0.Add(time.Minute), run.EndedAt.Time, "end is reconstructed from the last heartbeat")

	run, err = s.Get(ctx, staleNoDuration)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateVanished, run.State)
	assert.Equal(t, now, run.EndedAt.Time, "without a heartbeat the sweep time is the end")

	for _, id := range []string{alive, justStarted} {
		run, err = s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.RunStateRunning, run.State)
		assert.False(t, run.EndedAt.Valid)
	}

	run, err = s.Get(ctx, finished)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFinished, run.State)

	// second sweep finds nothing new
	result, err = r.Cleanup(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Examined)
	assert.Empty(t, result.Vanished)
	publisher.AssertNumberOfCalls(t, "Publish", 2)
}
