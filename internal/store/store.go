package store

import (
	"context"
	"errors"

	"joblog/internal/models"
)

// ErrRecordNotFound is returned when an operation addresses a run id that does not exist
var ErrRecordNotFound = errors.New("run record not found")

// Store is the storage backend for run records. Every single operation is atomic on its own,
// Atomic groups several of them into one transaction.
type Store interface {
	// Create inserts a new run and returns its id. The id on the given run is ignored.
	Create(ctx context.Context, run models.Run) (string, error)
	Get(ctx context.Context, id string) (*models.Run, error)
	Update(ctx context.Context, id string, update models.RunUpdate) error
	CountByName(ctx context.Context, name string) (int64, error)
	Query(ctx context.Context, filter models.RunFilter) ([]models.Run, error)
	// Atomic runs fn inside a single transaction. fn must only use the Store it is given.
	// Calling Atomic on that Store runs fn within the same transaction.
	Atomic(ctx context.Context, fn func(Store) error) error
}

// Backend is a Store that owns a connection
type Backend interface {
	Store
	Close() error
}
