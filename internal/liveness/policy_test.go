package liveness_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"joblog/internal/liveness"
	"joblog/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestIsAlive(t *testing.T) {
	leeway := 20 * time.Second

	tests := []struct {
		name        string
		now         time.Time
		duration    time.Duration
		hasDuration bool
		expected    bool
	}{
		{"no heartbeat yet, within grace", t0.Add(19 * time.Second), 0, false, true},
		{"no heartbeat yet, grace boundary", t0.Add(20 * time.Second), 0, false, false},
		{"no heartbeat, long gone", t0.Add(time.Hour), 0, false, false},
		{"recent heartbeat", t0.Add(65 * time.Second), time.Minute, true, true},
		{"heartbeat exactly at the limit", t0.Add(80 * time.Second), time.Minute, true, true},
		{"heartbeat just past the limit", t0.Add(80*time.Second + time.Nanosecond), time.Minute, true, false},
		{"stale heartbeat", t0.Add(10 * time.Minute), time.Minute, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, liveness.IsAlive(tc.now, t0, tc.duration, tc.hasDuration, leeway))
		})
	}
}

func TestIsAlive_Boundary(t *testing.T) {
	// alive for now <= T+D+L, dead after
	d := 45 * time.Second
	l := 10 * time.Second
	for offset := time.Duration(0); offset <= d+l; offset += 5 * time.Second {
		assert.True(t, liveness.IsAlive(t0.Add(offset), t0, d, true, l), "offset %v", offset)
	}
	assert.False(t, liveness.IsAlive(t0.Add(d+l+time.Millisecond), t0, d, true, l))
}

func TestNewPolicy(t *testing.T) {
	p := liveness.NewPolicy(true, 10*time.Second, 3, time.Hour)
	assert.True(t, p.PingEnabled)
	assert.Equal(t, 30*time.Second, p.Leeway)
	assert.Equal(t, time.Hour, p.Since)

	p = liveness.NewPolicy(true, 10*time.Second, 0.5, 0)
	assert.Equal(t, 20*time.Second, p.Leeway, "factors not above 1 fall back to the default")
}

func TestPolicy_Filter(t *testing.T) {
	f := liveness.Policy{}.Filter("job", t0)
	assert.Equal(t, "job", f.Name)
	assert.Equal(t, []models.RunState{models.RunStateRunning}, f.States)
	assert.False(t, f.StartedSince.Valid)

	f = liveness.Policy{Since: time.Hour}.Filter("job", t0)
	assert.True(t, f.StartedSince.Valid)
	assert.Equal(t, t0.Add(-time.Hour), f.StartedSince.Time)
}

func TestPolicy_IsRunning(t *testing.T) {
	running := func(startedAt time.Time, duration *time.Duration) models.Run {
		run := models.Run{Name: "job", StartedAt: startedAt, State: models.RunStateRunning}
		if duration != nil {
			run.DurationUS = models.DurationNull(*duration)
		}
		return run
	}
	minute := time.Minute
	now := t0.Add(time.Hour)

	stale := running(t0, &minute)
	fresh := running(now.Add(-70*time.Second), &minute)
	fresh2 := running(now.Add(-5*time.Second), nil)
	finished := fresh
	finished.State = models.RunStateFinished

	tests := []struct {
		name     string
		policy   liveness.Policy
		runs     []models.Run
		expected bool
	}{
		{"no runs", liveness.Policy{PingEnabled: true, Leeway: 20 * time.Second}, nil, false},
		{"state only, stale run counts", liveness.Policy{}, []models.Run{stale}, true},
		{"state only, since window excludes it", liveness.Policy{Since: 30 * time.Minute}, []models.Run{stale}, false},
		{"ping, stale run is dead", liveness.Policy{PingEnabled: true, Leeway: 20 * time.Second}, []models.Run{stale}, false},
		{"ping, fresh heartbeat", liveness.Policy{PingEnabled: true, Leeway: 20 * time.Second}, []models.Run{stale, fresh}, true},
		{"ping, grace period", liveness.Policy{PingEnabled: true, Leeway: 20 * time.Second}, []models.Run{fresh2}, true},
		{"finished runs never count", liveness.Policy{}, []models.Run{finished}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.policy.IsRunning(tc.runs, now))
		})
	}
}
