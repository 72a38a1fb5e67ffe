package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"joblog/internal/config"
	"joblog/internal/joblog"
	"joblog/internal/worker"
)

type ScheduledCronJob struct {
	EntryID cron.EntryID
	Name    string
	Spec    string
}

// Scheduler runs the cleanup sweep and the configured shell commands on cron schedules. Every
// execution is recorded as a run under the entry's name.
type Scheduler struct {
	runner      *joblog.Runner
	worker      *worker.Worker
	cron        *cron.Cron
	jobs        map[string]ScheduledCronJob // the key is the job name
	jobsMutex   sync.RWMutex
	isRunning   bool
	context     context.Context
	cancelFunc  context.CancelFunc
	contextLock sync.RWMutex
}

// NewScheduler creates a new scheduler service
func NewScheduler(runner *joblog.Runner, wkr *worker.Worker) *Scheduler {
	// Create cron with seconds precision
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{})),
		cron.WithLogger(cronLogger{}),
	)

	return &Scheduler{
		runner: runner,
		worker: wkr,
		cron:   c,
		jobs:   make(map[string]ScheduledCronJob),
	}
}

// FromConfig adds the cleanup sweep and every configured job
func (s *Scheduler) FromConfig(conf *config.JLConfig) error {
	if conf.Cleanup.Cron != "" {
		if err := s.AddCleanup(conf.Cleanup.Cron, conf.Cleanup.Force); err != nil {
			return err
		}
	}

	for _, job := range conf.Jobs {
		if err := s.AddCommand(job.Cron, worker.Command{
			Name:       job.Name,
			Command:    job.Command,
			Timeout:    job.Timeout(),
			MaxRetries: job.MaxRetries,
			Parallel:   job.Parallel,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start begins the scheduler service. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	if s.isRunning {
		return
	}

	s.isRunning = true
	s.contextLock.Lock()
	s.context, s.cancelFunc = context.WithCancel(ctx)
	s.contextLock.Unlock()

	s.cron.Start()
	log.Info().Int("jobs", len(s.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler service and waits for running jobs to return
func (s *Scheduler) Stop() {
	if !s.isRunning {
		return
	}

	s.cancelFunc()
	<-s.cron.Stop().Done()
	s.isRunning = false
	log.Info().Msg("Scheduler stopped")
}

// AddCleanup schedules the cleanup sweep. A sweep that is still going when the next one is due
// makes the next one skip.
func (s *Scheduler) AddCleanup(spec string, force bool) error {
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
		ctx := s.jobContext()
		if ctx.Err() != nil {
			return // Context cancelled
		}

		result, err := s.runner.Cleanup(ctx, force)
		if err != nil {
			log.Error().Err(err).Msg("Cleanup sweep failed")
			return
		}
		log.Debug().Stringer("result", result).Msg("Scheduled cleanup done")
	}))
	return s.add(joblog.CleanupJobName, spec, job)
}

// AddCommand schedules a shell command. Overlapping executions are left to the job session,
// which records a blocked run unless the command allows parallel runs.
func (s *Scheduler) AddCommand(spec string, command worker.Command) error {
	return s.add(command.Name, spec, cron.FuncJob(func() {
		ctx := s.jobContext()
		if ctx.Err() != nil {
			return // Context cancelled
		}

		if err := s.worker.Execute(ctx, command); err != nil {
			log.Warn().
				Err(err).
				Str("name", command.Name).
				Msg("Scheduled command failed")
		}
	}))
}

func (s *Scheduler) add(name, spec string, job cron.Job) error {
	s.Remove(name)

	entryID, err := s.cron.AddJob(spec, job)
	if err != nil {
		log.Error().
			Err(err).
			Str("name", name).
			Str("cron", spec).
			Msg("Failed to schedule job")
		return err
	}

	// Store the entry ID
	s.jobsMutex.Lock()
	s.jobs[name] = ScheduledCronJob{EntryID: entryID, Name: name, Spec: spec}
	s.jobsMutex.Unlock()

	log.Info().
		Str("name", name).
		Str("cron", spec).
		Msg("Added job schedule")
	return nil
}

// Remove removes a job from the cron scheduler
func (s *Scheduler) Remove(name string) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if sc, exists := s.jobs[name]; exists {
		s.cron.Remove(sc.EntryID)
		delete(s.jobs, name)
		log.Info().
			Str("name", name).
			Msg("Removed job schedule")
	}
}

// Entries lists the scheduled jobs by name
func (s *Scheduler) Entries() []ScheduledCronJob {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	entries := make([]ScheduledCronJob, 0, len(s.jobs))
	for _, sc := range s.jobs {
		entries = append(entries, sc)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Next returns the next time the named job is due, zero when it is unknown or the scheduler
// has not started
func (s *Scheduler) Next(name string) time.Time {
	s.jobsMutex.RLock()
	sc, exists := s.jobs[name]
	s.jobsMutex.RUnlock()
	if !exists {
		return time.Time{}
	}
	return s.cron.Entry(sc.EntryID).Next
}

// RunNow executes the named job once in the calling goroutine. It returns false for an unknown
// name.
func (s *Scheduler) RunNow(name string) bool {
	s.jobsMutex.RLock()
	sc, exists := s.jobs[name]
	s.jobsMutex.RUnlock()
	if !exists {
		return false
	}

	entry := s.cron.Entry(sc.EntryID)
	if entry.WrappedJob == nil {
		return false
	}
	entry.WrappedJob.Run()
	return true
}

func (s *Scheduler) jobContext() context.Context {
	s.contextLock.RLock()
	defer s.contextLock.RUnlock()
	if s.context == nil {
		return context.Background()
	}
	return s.context
}
