// Package liveness decides whether a run that is stored as running still belongs to a live
// process. Live processes refresh the run's duration periodically (the heartbeat); a run whose
// duration has fallen behind the wall clock by more than the leeway is presumed dead.
package liveness

import (
	"time"

	"joblog/internal/models"
)

// DefaultLeewayFactor multiplies the heartbeat interval into the leeway. It must be above 1 so
// that a heartbeat delayed by scheduling jitter is not mistaken for a dead process.
const DefaultLeewayFactor = 2

// IsAlive judges a single run from its start time and the last duration a heartbeat recorded.
// Without a recorded duration the run gets a grace period of leeway before the first heartbeat.
func IsAlive(now, startedAt time.Time, duration time.Duration, hasDuration bool, leeway time.Duration) bool {
	elapsed := now.Sub(startedAt)
	if !hasDuration {
		return elapsed < leeway
	}
	return elapsed <= duration+leeway
}

// IsRunAlive applies IsAlive to a stored run
func IsRunAlive(run *models.Run, now time.Time, leeway time.Duration) bool {
	duration, ok := run.Duration()
	return IsAlive(now, run.StartedAt, duration, ok, leeway)
}

// Policy holds the settings the is-running check works with
type Policy struct {
	PingEnabled bool          // heartbeats are written, so time-based judgement is possible
	Leeway      time.Duration // allowed staleness of the last heartbeat
	Since       time.Duration // only consider runs started within this window. Zero disables.
}

// NewPolicy derives the leeway from the heartbeat interval
func NewPolicy(pingEnabled bool, pingInterval time.Duration, leewayFactor float64, since time.Duration) Policy {
	if leewayFactor <= 1 {
		leewayFactor = DefaultLeewayFactor
	}
	return Policy{
		PingEnabled: pingEnabled,
		Leeway:      time.Duration(float64(pingInterval) * leewayFactor),
		Since:       since,
	}
}

// Filter returns the query that selects the candidate runs of a job name
func (p Policy) Filter(name string, now time.Time) models.RunFilter {
	filter := models.RunFilter{
		Name:   name,
		States: []models.RunState{models.RunStateRunning},
	}
	if p.Since > 0 {
		filter.StartedSince.SetValid(now.Add(-p.Since))
	}
	return filter
}

// IsRunning reports whether any of the given runs counts as currently running. Without ping
// mode the stored state is all there is to go by.
func (p Policy) IsRunning(runs []models.Run, now time.Time) bool {
	for i := range runs {
		run := &runs[i]
		if run.State != models.RunStateRunning {
			continue
		}
		if p.Since > 0 && run.StartedAt.Before(now.Add(-p.Since)) {
			continue
		}
		if !p.PingEnabled || IsRunAlive(run, now, p.Leeway) {
			return true
		}
	}
	return false
}
