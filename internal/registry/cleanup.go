package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"joblog/internal/liveness"
	"joblog/internal/models"
	"joblog/internal/store"
)

// CleanupResult summarizes one cleanup sweep
type CleanupResult struct {
	Examined int          // runs found in running state
	Vanished []models.Run // runs reclassified as vanished, after the update
}

func (c CleanupResult) String() string {
	return fmt.Sprintf("%d running jobs examined, %d marked as vanished", c.Examined, len(c.Vanished))
}

// Cleanup scans every running run, across all names, and marks the ones whose heartbeat is stale
// as vanished. The scan and all updates happen in a single transaction. The summary line goes to
// logger, which may be nil.
func (r *Registry) Cleanup(ctx context.Context, logger Logger) (CleanupResult, error) {
	var result CleanupResult
	now := r.now()

	err := r.store.Atomic(ctx, func(tx store.Store) error {
		result = CleanupResult{}

		runs, err := tx.Query(ctx, models.RunFilter{States: []models.RunState{models.RunStateRunning}})
		if err != nil {
			return err
		}
		result.Examined = len(runs)

		for i := range runs {
			run := runs[i]
			if liveness.IsRunAlive(&run, now, r.policy.Leeway) {
				continue
			}

			endedAt := now
			if d, ok := run.Duration(); ok {
				endedAt = run.StartedAt.Add(d)
			}

			update := models.RunUpdate{State: models.RunStateVanished, EndedAt: &endedAt}
			if err := tx.Update(ctx, run.ID, update); err != nil {
				return fmt.Errorf("marking run %s as vanished: %w", run.ID, err)
			}
			update.Apply(&run)
			result.Vanished = append(result.Vanished, run)
		}
		return nil
	})
	if err != nil {
		if logger != nil {
			logger.Error(fmt.Sprintf("cleanup failed: %v", err))
		}
		return CleanupResult{}, err
	}

	for i := range result.Vanished {
		run := &result.Vanished[i]
		log.Info().
			Str("run_id", run.ID).
			Str("name", run.Name).
			Int64("count", run.Count).
			Msg("Run vanished")
		r.publish(ctx, run)
	}

	if logger != nil {
		logger.Log(result.String())
	}
	log.Info().
		Int("examined", result.Examined).
		Int("vanished", len(result.Vanished)).
		Msg("Cleanup sweep complete")

	return result, nil
}
