package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"joblog/internal/config"
	"joblog/internal/database"
	"joblog/internal/store"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		conf := &config.JLConfig{}
		conf.Database.Driver = "sqlite"
		conf.Database.Path = filepath.Join(t.TempDir(), "runs.db")

		backend, err := database.New(ctx, conf)
		require.NoError(t, err)
		defer backend.Close()
		assert.IsType(t, &store.SQLStore{}, backend)

		count, err := backend.CountByName(ctx, "anything")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("memory", func(t *testing.T) {
		conf := &config.JLConfig{}
		conf.Database.Driver = "memory"

		backend, err := database.New(ctx, conf)
		require.NoError(t, err)
		assert.IsType(t, &store.MemoryStore{}, backend)
	})

	t.Run("unknown driver", func(t *testing.T) {
		conf := &config.JLConfig{}
		conf.Database.Driver = "mysql"

		_, err := database.New(ctx, conf)
		assert.ErrorContains(t, err, "mysql")
	})
}
