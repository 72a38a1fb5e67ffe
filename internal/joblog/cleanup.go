package joblog

import (
	"context"
	"errors"

	"joblog/internal/registry"
)

// CleanupJobName is the name the cleanup sweep records its own runs under
const CleanupJobName = "joblog_cleanup"

// ErrCleanupNeedsPing is returned by Cleanup when runs carry no heartbeat to judge them by
var ErrCleanupNeedsPing = errors.New("cleanup needs ping mode to tell live runs from dead ones, enable joblog.ping or force it")

// Cleanup runs the cleanup sweep inside its own session. Without ping mode it refuses to run
// unless forced.
func (r *Runner) Cleanup(ctx context.Context, force bool) (registry.CleanupResult, error) {
	if !r.options.Ping && !force {
		return registry.CleanupResult{}, ErrCleanupNeedsPing
	}

	var result registry.CleanupResult
	err := r.Run(ctx, CleanupJobName, func(ctx context.Context, s *Session) error {
		var err error
		result, err = r.registry.Cleanup(ctx, s)
		return err
	}, Parallel(true), PrintToConsole())
	return result, err
}
