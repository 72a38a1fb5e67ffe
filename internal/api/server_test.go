package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"joblog/internal/api"
	"joblog/internal/joblog"
	"joblog/internal/liveness"
	"joblog/internal/models"
	"joblog/internal/registry"
	"joblog/internal/scheduler"
	"joblog/internal/store"
	"joblog/internal/worker"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	server *httptest.Server
	store  *store.MemoryStore
	runner *joblog.Runner
}

func newFixture(t *testing.T, options joblog.Options) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	policy := liveness.NewPolicy(options.Ping, options.PingInterval, liveness.DefaultLeewayFactor, 0)
	runner := joblog.NewRunner(registry.New(s, policy), options, joblog.WithOutput(io.Discard))

	sched := scheduler.NewScheduler(runner, worker.NewWorker(runner))
	require.NoError(t, sched.AddCleanup("@every 1m", false))

	srv := httptest.NewServer(api.New(context.Background(), runner, sched, &api.Config{}))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, store: s, runner: runner}
}

func (f *fixture) insert(t *testing.T, name string, count int64, startedAt time.Time, state models.RunState) string {
	t.Helper()
	id, err := f.store.Create(context.Background(), models.Run{Name: name, Count: count, StartedAt: startedAt, State: state})
	require.NoError(t, err)
	return id
}

func getJson(t *testing.T, url string, dest any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func TestRunRouter_ListRuns(t *testing.T) {
	f := newFixture(t, joblog.Options{})
	for i := int64(1); i <= 3; i++ {
		f.insert(t, "nightly", i, t0.Add(time.Duration(i)*time.Hour), models.RunStateFinished)
	}
	f.insert(t, "nightly", 4, t0.Add(4*time.Hour), models.RunStateError)
	f.insert(t, "hourly", 1, t0, models.RunStateRunning)

	var runs []models.Run
	require.Equal(t, http.StatusOK, getJson(t, f.server.URL+"/api/runs?name=nightly", &runs))
	require.Len(t, runs, 4)
	assert.EqualValues(t, 4, runs[0].Count, "newest first")
	assert.EqualValues(t, 1, runs[3].Count)

	runs = nil
	require.Equal(t, http.StatusOK, getJson(t, f.server.URL+"/api/runs?state=error,running", &runs))
	require.Len(t, runs, 2)

	runs = nil
	require.Equal(t, http.StatusOK, getJson(t, f.server.URL+"/api/runs?limit=2", &runs))
	assert.Len(t, runs, 2)

	runs = nil
	require.Equal(t, http.StatusOK, getJson(t, f.server.URL+"/api/runs?name=nobody", &runs))
	assert.NotNil(t, runs, "an empty list is served as []")
	assert.Empty(t, runs)

	assert.Equal(t, http.StatusBadRequest, getJson(t, f.server.URL+"/api/runs?state=unknown", nil))
}

func TestRunRouter_GetRun(t *testing.T) {
	f := newFixture(t, joblog.Options{})
	id := f.insert(t, "nightly", 1, t0, models.RunStateRunning)

	var run models.Run
	require.Equal(t, http.StatusOK, getJson(t, f.server.URL+"/api/runs/"+id, &run))
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "nightly", run.Name)
	assert.True(t, run.StartedAt.Equal(t0))

	resp, err := http.Get(f.server.URL + "/api/runs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "Unknown id 'missing'")
}

func TestRunRouter_GetRunning(t *testing.T) {
	f := newFixture(t, joblog.Options{})

	session := f.runner.NewSession("busy")
	require.NoError(t, session.Begin(context.Background()))

	var resp api.RunningResponse
	require.Equal(t, http.StatusOK, getJson(t, f.server.URL+"/api/jobs/busy/running", &resp))
	assert.True(t, resp.Running)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, session.ID(), resp.Runs[0].ID)

	require.NoError(t, session.End(context.Background(), nil))

	resp = api.RunningResponse{}
	require.Equal(t, http.StatusOK, getJson(t, f.server.URL+"/api/jobs/busy/running", &resp))
	assert.False(t, resp.Running)
	assert.Empty(t, resp.Runs)
}

func TestRunRouter_Cleanup(t *testing.T) {
	f := newFixture(t, joblog.Options{PingInterval: time.Minute})
	f.insert(t, "crashed", 1, t0, models.RunStateRunning)

	resp, err := http.Post(f.server.URL+"/api/cleanup", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "refused without ping")

	resp, err = http.Post(f.server.URL+"/api/cleanup", "application/json", bytes.NewBufferString(`{"force": true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.CleanupResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 2, result.Examined, "the crashed run and the sweep's own run")
	require.Len(t, result.Vanished, 1)
	assert.Equal(t, "crashed", result.Vanished[0].Name)
	assert.Equal(t, models.RunStateVanished, result.Vanished[0].State)
	assert.Equal(t, "2 running jobs examined, 1 marked as vanished", result.Summary)

	resp2, err := http.Post(f.server.URL+"/api/cleanup", "application/json", bytes.NewBufferString(`{not json`))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestRunRouter_ListSchedules(t *testing.T) {
	f := newFixture(t, joblog.Options{})

	var entries []api.ScheduleEntry
	require.Equal(t, http.StatusOK, getJson(t, f.server.URL+"/api/schedules", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, joblog.CleanupJobName, entries[0].Name)
	assert.Equal(t, "@every 1m", entries[0].Cron)
}

func TestServer_ListenAndServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := joblog.NewRunner(registry.New(store.NewMemoryStore(), liveness.Policy{}), joblog.Options{})
	srv := api.New(ctx, runner, nil, &api.Config{Host: "127.0.0.1", Port: 0})

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
