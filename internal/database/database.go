package database

import (
	"context"
	"fmt"

	"joblog/internal/config"
	"joblog/internal/store"
)

// New opens the run store selected by the configured driver and makes sure its schema exists
func New(ctx context.Context, conf *config.JLConfig) (store.Backend, error) {
	var (
		backend *store.SQLStore
		err     error
	)
	switch conf.Database.Driver {
	case "postgres":
		backend, err = store.NewPostgres(ctx, conf.GetDatabaseURL())
	case "sqlite":
		backend, err = store.NewSQLite(ctx, conf.Database.Path)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", conf.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("could not open %s database: %w", conf.Database.Driver, err)
	}
	return backend, nil
}
