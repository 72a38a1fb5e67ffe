package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"joblog/internal/joblog"
)

const (
	ExitCodeCancelled int = 990
	ExitCodeTimeOut   int = 991
	ExitCodeUnknown   int = 999
)

// maxLineLength is the longest output line logged as one entry
const maxLineLength = 1024 * 1024

// Command is a shell command executed as a tracked job
type Command struct {
	Name       string        // job name the runs are recorded under
	Command    string        // passed to sh -c
	Timeout    time.Duration // zero means no timeout
	MaxRetries int           // attempts in total, at least 1
	Parallel   bool          // allow overlapping runs of the same name
}

// CommandError is returned when a command does not exit cleanly
type CommandError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with code %d: %v", e.Command, e.ExitCode, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Worker executes shell commands inside job sessions
type Worker struct {
	runner  *joblog.Runner
	backoff time.Duration
}

func NewWorker(runner *joblog.Runner) *Worker {
	return &Worker{runner: runner, backoff: 5 * time.Second}
}

// WithBackoff sets the base wait between attempts. The n-th retry waits n times the base.
func (w *Worker) WithBackoff(d time.Duration) *Worker {
	w.backoff = d
	return w
}

// Execute runs the command in a session named after it. The error of the last attempt is
// returned and recorded as the run's failure.
func (w *Worker) Execute(ctx context.Context, command Command) error {
	return w.runner.Run(ctx, command.Name, func(ctx context.Context, s *joblog.Session) error {
		if command.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, command.Timeout)
			defer cancel()
		}

		log.Info().
			Str("type", "shell").
			Str("run_id", s.ID()).
			Str("name", command.Name).
			Str("command", command.Command).
			Msg("Executing command")

		attempts, err := w.tryRun(ctx, command.MaxRetries, func(attempt int) error {
			if command.MaxRetries > 1 {
				s.PushContext(fmt.Sprintf("attempt %d", attempt))
				defer s.PopContext()
			}
			return RunCommand(ctx, s, command.Command)
		})
		if err != nil {
			log.Error().
				Err(err).
				Str("run_id", s.ID()).
				Int("attempts", attempts).
				Msg("Could not execute command successfully")
		}
		return err
	}, joblog.Parallel(command.Parallel))
}

// tryRun attempts to run a function maxRetries times. If any time the function f succeeds, it
// will return with no error straightaway. Otherwise, it will return the last error.
func (w *Worker) tryRun(ctx context.Context, maxRetries int, f func(attempt int) error) (numAttempts int, lastErr error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	for attempts := 1; attempts <= maxRetries; attempts++ {
		lastErr = f(attempts)
		if lastErr == nil {
			return attempts, nil
		}
		if attempts == maxRetries {
			return attempts, lastErr
		}

		select {
		case <-ctx.Done():
			return attempts, lastErr
		case <-time.After(time.Duration(attempts) * w.backoff):
		}
	}
	return maxRetries, lastErr
}

// RunCommand runs command with sh -c. Every stdout line goes to logger.Log and every stderr line
// to logger.Error as it is produced.
func RunCommand(ctx context.Context, logger joblog.Logger, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return &CommandError{Command: command, ExitCode: ExitCodeUnknown, Err: err}
	}

	// loggers are not safe for concurrent use
	var mu sync.Mutex
	pump := func(r io.Reader, write func(string)) func() error {
		return func() error {
			reader := bufio.NewReaderSize(r, maxLineLength)
			for {
				// lines longer than the buffer arrive in several chunks
				line, _, err := reader.ReadLine()
				if errors.Is(err, io.EOF) {
					return nil
				} else if err != nil {
					// keep the child from blocking on a full pipe
					_, _ = io.Copy(io.Discard, r)
					return err
				}
				mu.Lock()
				write(string(line))
				mu.Unlock()
			}
		}
	}

	var eg errgroup.Group
	eg.Go(pump(stdout, logger.Log))
	eg.Go(pump(stderr, logger.Error))
	streamErr := eg.Wait()

	if err := cmd.Wait(); err != nil {
		return commandError(ctx, command, err)
	}
	if streamErr != nil {
		return fmt.Errorf("reading output of %q: %w", command, streamErr)
	}
	return nil
}

func commandError(ctx context.Context, command string, err error) *CommandError {
	exitCode := ExitCodeUnknown
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("command timed out: %w", context.DeadlineExceeded)
		exitCode = ExitCodeTimeOut
	case errors.Is(ctx.Err(), context.Canceled):
		err = fmt.Errorf("command was canceled: %w", context.Canceled)
		exitCode = ExitCodeCancelled
	default:
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		}
	}
	return &CommandError{Command: command, ExitCode: exitCode, Err: err}
}
