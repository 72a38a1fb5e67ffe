package joblog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"joblog/internal/config"
	"joblog/internal/events"
	"joblog/internal/models"
	"joblog/internal/registry"
	"joblog/internal/store"
)

// Options control how sessions record their runs
type Options struct {
	PrintToConsole bool          // mirror every line and the start/finish banners to the console
	LiveUpdates    bool          // persist the accumulated text on every Log and Error call
	Ping           bool          // run a heartbeat that keeps the stored duration fresh
	PingInterval   time.Duration // heartbeat period
}

// OptionsFromConfig converts the configuration section into session options
func OptionsFromConfig(c config.JobLogConfig) Options {
	return Options{
		PrintToConsole: c.PrintToConsole,
		LiveUpdates:    c.LiveUpdates,
		Ping:           c.Ping,
		PingInterval:   c.PingInterval(),
	}
}

// Runner creates job sessions that share one registry and one set of options
type Runner struct {
	registry  *registry.Registry
	options   Options
	publisher events.Publisher
	out       io.Writer
}

type RunnerOption func(*Runner)

// WithPublisher announces run lifecycle events
func WithPublisher(p events.Publisher) RunnerOption {
	return func(r *Runner) {
		r.publisher = p
	}
}

// WithOutput redirects console output, which goes to stdout by default
func WithOutput(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.out = w
	}
}

func NewRunner(reg *registry.Registry, options Options, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry:  reg,
		options:   options,
		publisher: events.NopPublisher{},
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the runner's sessions consult
func (r *Runner) Registry() *registry.Registry {
	return r.registry
}

// ConsoleLogger returns a logger that prints to the runner's output only
func (r *Runner) ConsoleLogger(name string) *ConsoleLogger {
	return NewConsoleLogger(name, r.out)
}

type SessionOption func(*Session)

// Parallel allows the session to start while another run of the same name is alive
func Parallel(allow bool) SessionOption {
	return func(s *Session) {
		s.parallel = allow
	}
}

// PrintToConsole turns console output on for this session regardless of the runner's options
func PrintToConsole() SessionOption {
	return func(s *Session) {
		s.printToConsole = true
	}
}

// Run executes fn inside a session named name. The run is finished with the error fn returns,
// which is returned unchanged. A panic in fn finishes the run as an error and is re-raised. If fn
// exits its goroutine without returning, the run is finished with ErrJobExited.
func (r *Runner) Run(ctx context.Context, name string, fn func(ctx context.Context, s *Session) error, opts ...SessionOption) error {
	s := r.NewSession(name, opts...)
	if err := s.Begin(ctx); err != nil {
		return err
	}

	returned := false
	defer func() {
		if returned {
			return
		}
		if rcv := recover(); rcv != nil {
			_ = s.End(ctx, NewPanicError(rcv))
			panic(rcv)
		}
		// runtime.Goexit in fn
		_ = s.End(ctx, ErrJobExited)
	}()

	err := fn(ctx, s)
	returned = true
	return s.End(ctx, err)
}

type sessionState int

const (
	sessionIdle sessionState = iota
	sessionRunning
	sessionBlocked
	sessionEnded
)

// Session records one execution of a named job. Begin creates the run record, Log and Error
// accumulate output and End finishes the record. A Session must be used from one goroutine.
type Session struct {
	runner         *Runner
	name           string
	parallel       bool
	printToConsole bool

	ctx        context.Context
	state      sessionState
	run        models.Run
	logLines   []string
	errorLines []string
	context    contextStack
	heartbeat  *Heartbeat
}

// NewSession prepares a session. Nothing is written until Begin.
func (r *Runner) NewSession(name string, opts ...SessionOption) *Session {
	s := &Session{
		runner:         r,
		name:           name,
		printToConsole: r.options.PrintToConsole,
		ctx:            context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Name() string { return s.name }

// ID returns the id of the run record, empty before Begin
func (s *Session) ID() string { return s.run.ID }

// Count returns the ordinal of this run among the runs of the same name
func (s *Session) Count() int64 { return s.run.Count }

func (s *Session) StartedAt() time.Time { return s.run.StartedAt }

// Context returns the current context prefix
func (s *Session) Context() string { return s.context.prefix() }

// LogText returns the accumulated log lines joined by newlines
func (s *Session) LogText() string { return strings.Join(s.logLines, "\n") }

// ErrorText returns the accumulated error lines joined by newlines
func (s *Session) ErrorText() string { return strings.Join(s.errorLines, "\n") }

func (s *Session) now() time.Time {
	// the stores keep microseconds, truncating keeps ended-started equal to the duration
	return s.runner.registry.Now().UTC().Truncate(time.Microsecond)
}

func (s *Session) store() store.Store {
	return s.runner.registry.Store()
}

// Begin creates the run record. If the session does not allow parallel runs and another run of
// the name is alive, a blocked record is written and a *JobAlreadyRunningError returned; the
// session is then unusable and End does nothing.
func (s *Session) Begin(ctx context.Context) error {
	if s.state != sessionIdle {
		return fmt.Errorf("session %q has already begun", s.name)
	}
	s.ctx = ctx

	if !s.parallel {
		running, err := s.runner.registry.IsRunning(ctx, s.name)
		if err != nil {
			return fmt.Errorf("checking whether %q is running: %w", s.name, err)
		}
		if running {
			s.state = sessionBlocked
			blockedErr := &JobAlreadyRunningError{Name: s.name}
			s.recordBlocked(ctx, blockedErr)
			return blockedErr
		}
	}

	run, err := s.create(ctx, models.RunStateRunning, "")
	if err != nil {
		return err
	}
	s.run = run
	s.state = sessionRunning

	log.Debug().
		Str("run_id", run.ID).
		Str("name", run.Name).
		Int64("count", run.Count).
		Msg("Run started")
	if s.printToConsole {
		s.printf("\n%s.%d started @ %s\n", run.Name, run.Count, run.StartedAt.Format(time.RFC3339Nano))
	}
	s.publish(ctx, &s.run)

	if s.runner.options.Ping && s.runner.options.PingInterval > 0 {
		id, startedAt := run.ID, run.StartedAt
		s.heartbeat = StartHeartbeat(ctx, s.runner.options.PingInterval, func(ctx context.Context) error {
			duration := s.now().Sub(startedAt)
			return s.store().Update(ctx, id, models.RunUpdate{Duration: &duration})
		})
	}
	return nil
}

// create inserts a run with the next count for the name. The count is read and the row written
// in one transaction, which does not stop two concurrent creations from reading the same count.
func (s *Session) create(ctx context.Context, state models.RunState, errorText string) (models.Run, error) {
	var run models.Run
	err := s.store().Atomic(ctx, func(tx store.Store) error {
		count, err := tx.CountByName(ctx, s.name)
		if err != nil {
			return err
		}

		run = models.Run{
			Name:      s.name,
			Count:     count + 1,
			StartedAt: s.now(),
			State:     state,
		}
		if errorText != "" {
			run.ErrorText.SetValid(errorText)
		}

		run.ID, err = tx.Create(ctx, run)
		return err
	})
	if err != nil {
		return models.Run{}, fmt.Errorf("creating %s run for %q: %w", state, s.name, err)
	}
	return run, nil
}

// recordBlocked leaves a blocked run behind so the rejected start is visible
func (s *Session) recordBlocked(ctx context.Context, cause error) {
	run, err := s.create(ctx, models.RunStateBlocked, cause.Error())
	if err != nil {
		log.Error().Err(err).Str("name", s.name).Msg("Could not record blocked run")
		return
	}

	log.Info().
		Str("run_id", run.ID).
		Str("name", run.Name).
		Int64("count", run.Count).
		Msg("Run blocked, job is already running")
	if s.printToConsole {
		s.printf("\n%s.%d blocked @ %s: %s\n", run.Name, run.Count, run.StartedAt.Format(time.RFC3339Nano), cause)
	}
	s.publish(ctx, &run)
}

// Log adds a line to the log output
func (s *Session) Log(text string) {
	line := s.context.prefix() + strings.TrimSpace(text)
	s.logLines = append(s.logLines, line)
	s.liveUpdate()
	if s.printToConsole {
		s.printf("LOG: %s\n", line)
	}
}

// Error adds a line to the error output
func (s *Session) Error(text string) {
	line := s.context.prefix() + strings.TrimSpace(text)
	s.errorLines = append(s.errorLines, line)
	s.liveUpdate()
	if s.printToConsole {
		s.printf("ERR: %s\n", line)
	}
}

func (s *Session) PushContext(name string) {
	s.context.push(name)
}

func (s *Session) PopContext() {
	s.context.pop()
}

// InContext runs fn with name pushed onto the session's context stack
func (s *Session) InContext(name string, fn func() error) error {
	return InContext(s, name, fn)
}

func (s *Session) liveUpdate() {
	if s.state != sessionRunning || !s.runner.options.LiveUpdates {
		return
	}
	if err := s.persist(s.ctx); err != nil {
		log.Warn().
			Err(err).
			Str("run_id", s.run.ID).
			Msg("Could not write live update")
	}
}

// persist writes the full accumulated text and the elapsed time
func (s *Session) persist(ctx context.Context) error {
	logText, errorText := s.LogText(), s.ErrorText()
	duration := s.now().Sub(s.run.StartedAt)
	return s.store().Update(ctx, s.run.ID, models.RunUpdate{
		LogText:   &logText,
		ErrorText: &errorText,
		Duration:  &duration,
	})
}

// End finishes the run record: finished when cause is nil, error otherwise with cause appended
// to the error text. cause is returned unchanged. When there is no cause, a failure to write the
// record is returned instead. End does nothing for a session that is not running.
func (s *Session) End(ctx context.Context, cause error) error {
	if s.state != sessionRunning {
		return cause
	}
	s.state = sessionEnded

	// the final write must not race a heartbeat
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}

	// the record is finished even when the job's context was cancelled
	ctx = context.WithoutCancel(ctx)
	endedAt := s.now()

	var failure string
	if cause != nil {
		failure = s.context.prefix() + FormatFailure(cause)
	}

	err := s.finish(ctx, endedAt, failure)
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", s.run.ID).
			Str("name", s.name).
			Msg("Could not finish run")

		fallback := failure
		if fallback == "" {
			fallback = FormatFailure(err)
		}
		if fallbackErr := s.finishFallback(ctx, endedAt, fallback); fallbackErr != nil {
			log.Error().
				Err(fallbackErr).
				Str("run_id", s.run.ID).
				Msg("Could not write failure summary")
		}

		if cause != nil {
			return cause
		}
		return err
	}

	s.publish(ctx, &s.run)
	if s.printToConsole {
		s.printSummary()
	}
	return cause
}

func (s *Session) finish(ctx context.Context, endedAt time.Time, failure string) error {
	logText, errorText := s.LogText(), s.ErrorText()
	state := models.RunStateFinished
	if failure != "" {
		state = models.RunStateError
		if errorText != "" {
			errorText += "\n" + failure
		} else {
			errorText = failure
		}
	}

	return s.store().Atomic(ctx, func(tx store.Store) error {
		run, err := tx.Get(ctx, s.run.ID)
		if err != nil {
			return err
		}

		duration := endedAt.Sub(run.StartedAt)
		update := models.RunUpdate{
			LogText:   &logText,
			ErrorText: &errorText,
			Duration:  &duration,
			State:     state,
			EndedAt:   &endedAt,
		}
		if err := tx.Update(ctx, run.ID, update); err != nil {
			return err
		}

		update.Apply(run)
		s.run = *run
		return nil
	})
}

// finishFallback marks the run as failed with only the failure summary as error text
func (s *Session) finishFallback(ctx context.Context, endedAt time.Time, failure string) error {
	duration := endedAt.Sub(s.run.StartedAt)
	return s.store().Update(ctx, s.run.ID, models.RunUpdate{
		ErrorText: &failure,
		Duration:  &duration,
		State:     models.RunStateError,
		EndedAt:   &endedAt,
	})
}

func (s *Session) publish(ctx context.Context, run *models.Run) {
	if err := s.runner.publisher.Publish(ctx, events.FromRun(run, s.now())); err != nil {
		log.Warn().
			Err(err).
			Str("run_id", run.ID).
			Str("state", string(run.State)).
			Msg("Could not publish run event")
	}
}

func (s *Session) printSummary() {
	run := &s.run
	if run.LogText.Valid || run.ErrorText.Valid {
		s.printf("\n---summary---\n")
	}
	if run.LogText.Valid {
		s.printf("LOG:\n%s\n", run.LogText.String)
	}
	if run.ErrorText.Valid {
		s.printf("ERROR:\n%s\n", run.ErrorText.String)
	}
	duration, _ := run.Duration()
	s.printf("%s.%d finished after %s\n", run.Name, run.Count, duration)
}

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.runner.out, format, args...)
}
