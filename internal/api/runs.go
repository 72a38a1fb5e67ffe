package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"
	"joblog/internal/joblog"
	"joblog/internal/models"
	"joblog/internal/scheduler"
	"joblog/internal/store"
)

type RunRouter struct {
	runner    *joblog.Runner
	scheduler *scheduler.Scheduler
	router    chi.Router
}

func (rr *RunRouter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	rr.router.ServeHTTP(writer, request)
}

// NewRunRouter registers the run endpoints on router. sched may be nil, in which case the
// schedule listing is empty.
func NewRunRouter(runner *joblog.Runner, sched *scheduler.Scheduler, router chi.Router) *RunRouter {
	r := &RunRouter{
		runner:    runner,
		scheduler: sched,
		router:    router,
	}
	r.router.Get("/runs", r.ListRuns)
	r.router.Get("/runs/{id}", r.GetRun)
	r.router.Get("/jobs/{name}/running", r.GetRunning)
	r.router.Post("/cleanup", r.Cleanup)
	r.router.Get("/schedules", r.ListSchedules)

	return r
}

func (rr *RunRouter) ListRuns(w http.ResponseWriter, r *http.Request) {
	req, err := ParseListRunsRequest(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runs, err := rr.runner.Registry().List(r.Context(), req.Filter())
	if err != nil {
		http.Error(w, "Failed to fetch runs", http.StatusInternalServerError)
		log.Error().Err(err).Msg("Failed to fetch runs")
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}

	serveJson(w, runs)
}

func (rr *RunRouter) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := rr.runner.Registry().Get(r.Context(), id)
	if errors.Is(err, store.ErrRecordNotFound) {
		http.Error(w, "Unknown id '"+id+"'", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, "Failed to fetch run", http.StatusInternalServerError)
		log.Error().Err(err).Str("run_id", id).Msg("Failed to fetch run")
		return
	}

	serveJson(w, run)
}

func (rr *RunRouter) GetRunning(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	runs, err := rr.runner.Registry().Running(r.Context(), name)
	if err != nil {
		http.Error(w, "Failed to check running state", http.StatusInternalServerError)
		log.Error().Err(err).Str("name", name).Msg("Failed to check running state")
		return
	}

	serveJson(w, RunningResponse{Name: name, Running: len(runs) > 0, Runs: runs})
}

func (rr *RunRouter) Cleanup(w http.ResponseWriter, r *http.Request) {
	var payload CleanupRequest
	if r.ContentLength != 0 {
		if err := readJson(w, r, &payload); err != nil {
			return
		}
	}

	result, err := rr.runner.Cleanup(r.Context(), payload.Force)
	if errors.Is(err, joblog.ErrCleanupNeedsPing) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	} else if err != nil {
		http.Error(w, "Cleanup failed", http.StatusInternalServerError)
		log.Error().Err(err).Msg("Cleanup failed")
		return
	}

	serveJson(w, newCleanupResponse(result))
}

func (rr *RunRouter) ListSchedules(w http.ResponseWriter, _ *http.Request) {
	entries := []ScheduleEntry{}
	if rr.scheduler != nil {
		for _, sc := range rr.scheduler.Entries() {
			entry := ScheduleEntry{Name: sc.Name, Cron: sc.Spec}
			if next := rr.scheduler.Next(sc.Name); !next.IsZero() {
				entry.Next = null.TimeFrom(next)
			}
			entries = append(entries, entry)
		}
	}

	serveJson(w, entries)
}
