package joblog

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrJobAlreadyRunning matches any JobAlreadyRunningError with errors.Is
var ErrJobAlreadyRunning = errors.New("job is already running")

// ErrJobExited finishes a run whose body stopped its goroutine without returning
var ErrJobExited = errors.New("job exited without returning")

// JobAlreadyRunningError is returned from Begin when another live run of the same name exists
// and the session does not allow parallel runs
type JobAlreadyRunningError struct {
	Name string
}

func (e *JobAlreadyRunningError) Error() string {
	return fmt.Sprintf("the job '%s' is already running and parallel runs are not allowed", e.Name)
}

func (e *JobAlreadyRunningError) Is(target error) bool {
	return target == ErrJobAlreadyRunning
}

// PanicError wraps a value recovered from a panic in a job body
type PanicError struct {
	Value any
	Stack string // innermost frame first
}

// NewPanicError captures the current goroutine's stack. Call it from the deferred function that
// recovered the panic so the panicking frames are still on the stack.
func NewPanicError(value any) *PanicError {
	return &PanicError{Value: value, Stack: callerStack(3)}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TypeName names the panic value's type, or "panic" for values that are not errors
func (e *PanicError) TypeName() string {
	if err, ok := e.Value.(error); ok {
		return fmt.Sprintf("%T", err)
	}
	return "panic"
}

// FormatFailure renders an error as "<TypeName> - <message>", followed by the stack on the next
// lines when one was captured
func FormatFailure(err error) string {
	var typeName, message, stack string
	if pe, ok := err.(*PanicError); ok {
		typeName = pe.TypeName()
		message = fmt.Sprint(pe.Value)
		stack = pe.Stack
	} else {
		typeName = fmt.Sprintf("%T", err)
		message = err.Error()
	}

	summary := typeName
	if message != "" {
		summary += " - " + message
	}
	if stack != "" {
		summary += "\n" + stack
	}
	return summary
}

func callerStack(skip int) string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			_, _ = fmt.Fprintf(&sb, "  %s\n    %s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
