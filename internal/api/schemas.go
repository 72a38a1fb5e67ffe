package api

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"joblog/internal/models"
	"joblog/internal/registry"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 1000
)

// ListRunsRequest holds the query parameters of GET /api/runs
type ListRunsRequest struct {
	Name   string
	States []models.RunState
	Since  null.Time
	Limit  int
}

// ParseListRunsRequest reads name, state (repeatable or comma separated), since (RFC 3339) and
// limit from the query string
func ParseListRunsRequest(query url.Values) (*ListRunsRequest, error) {
	var errs []error
	req := &ListRunsRequest{
		Name:  strings.TrimSpace(query.Get("name")),
		Limit: DefaultListLimit,
	}

	for _, value := range query["state"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			state, err := models.ParseRunState(part)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			req.States = append(req.States, state)
		}
	}

	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("since must be an RFC 3339 time. got %q", since))
		} else {
			req.Since = null.TimeFrom(t)
		}
	}

	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("limit must be a number. got %q", limit))
		case n < 1 || n > MaxListLimit:
			errs = append(errs, fmt.Errorf("limit must be between 1 and %d", MaxListLimit))
		default:
			req.Limit = n
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return req, nil
}

// Filter converts the request into a newest-first store filter
func (r *ListRunsRequest) Filter() models.RunFilter {
	return models.RunFilter{
		Name:         r.Name,
		States:       r.States,
		StartedSince: r.Since,
		Limit:        r.Limit,
		NewestFirst:  true,
	}
}

type RunningResponse struct {
	Name    string       `json:"name"`
	Running bool         `json:"running"`
	Runs    []models.Run `json:"runs"`
}

type CleanupRequest struct {
	Force bool `json:"force"`
}

type CleanupResponse struct {
	Examined int          `json:"examined"`
	Vanished []models.Run `json:"vanished"`
	Summary  string       `json:"summary"`
}

func newCleanupResponse(result registry.CleanupResult) CleanupResponse {
	vanished := result.Vanished
	if vanished == nil {
		vanished = []models.Run{}
	}
	return CleanupResponse{
		Examined: result.Examined,
		Vanished: vanished,
		Summary:  result.String(),
	}
}

type ScheduleEntry struct {
	Name string    `json:"name"`
	Cron string    `json:"cron"`
	Next null.Time `json:"next"`
}
