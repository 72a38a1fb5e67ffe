package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// This file contains the models under the `joblog` schema

type RunState string

const (
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateError    RunState = "error"
	RunStateBlocked  RunState = "blocked"
	RunStateVanished RunState = "vanished"
)

// RunStates lists every state in display order
var RunStates = []RunState{
	RunStateRunning,
	RunStateFinished,
	RunStateError,
	RunStateBlocked,
	RunStateVanished,
}

// IsTerminal reports whether a run in this state carries an end time
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateFinished, RunStateError, RunStateVanished:
		return true
	default:
		return false
	}
}

// ParseRunState validates a state name given by a user
func ParseRunState(s string) (RunState, error) {
	state := RunState(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range RunStates {
		if state == known {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown run state %q", s)
}

// Run is a model representing the `joblog.run` table. One row is one attempt at executing a
// named job.
type Run struct {
	ID         string      `db:"id" json:"id"`
	Name       string      `db:"name" json:"name"`
	Count      int64       `db:"count" json:"count"` // 1-based ordinal among runs with the same name
	StartedAt  time.Time   `db:"started_at" json:"startedAt"`
	EndedAt    null.Time   `db:"ended_at" json:"endedAt"`
	DurationUS null.Int    `db:"duration_us" json:"durationUs"` // elapsed microseconds
	State      RunState    `db:"state" json:"state"`
	LogText    null.String `db:"log_text" json:"logText"`
	ErrorText  null.String `db:"error_text" json:"errorText"`
}

// Duration returns the recorded elapsed time and whether one was recorded at all
func (r *Run) Duration() (time.Duration, bool) {
	if !r.DurationUS.Valid {
		return 0, false
	}
	return time.Duration(r.DurationUS.Int64) * time.Microsecond, true
}

// DurationNull converts a duration into the stored column value
func DurationNull(d time.Duration) null.Int {
	return null.IntFrom(d.Microseconds())
}

// RunFilter selects runs in a query. Zero values do not filter.
type RunFilter struct {
	Name         string
	States       []RunState
	StartedSince null.Time // started_at >= StartedSince
	Limit        int
	NewestFirst  bool
}

// RunUpdate holds the columns to change on a run. Nil fields are left untouched. Empty text is
// stored as NULL.
type RunUpdate struct {
	LogText   *string
	ErrorText *string
	Duration  *time.Duration
	State     RunState // empty means unchanged
	EndedAt   *time.Time
}

// IsEmpty reports whether the update would not change anything
func (u *RunUpdate) IsEmpty() bool {
	return u.LogText == nil && u.ErrorText == nil && u.Duration == nil && u.State == "" && u.EndedAt == nil
}

// Apply writes the update into an in-memory run
func (u *RunUpdate) Apply(run *Run) {
	if u.LogText != nil {
		run.LogText = null.NewString(*u.LogText, *u.LogText != "")
	}
	if u.ErrorText != nil {
		run.ErrorText = null.NewString(*u.ErrorText, *u.ErrorText != "")
	}
	if u.Duration != nil {
		run.DurationUS = DurationNull(*u.Duration)
	}
	if u.State != "" {
		run.State = u.State
	}
	if u.EndedAt != nil {
		run.EndedAt = null.TimeFrom(*u.EndedAt)
	}
}

// Matches reports whether a run satisfies the filter's predicates. Limit and ordering are
// ignored.
func (f *RunFilter) Matches(run *Run) bool {
	if f.Name != "" && run.Name != f.Name {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if run.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartedSince.Valid && run.StartedAt.Before(f.StartedSince.Time) {
		return false
	}
	return true
}
