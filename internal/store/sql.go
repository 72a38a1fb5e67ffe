package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"joblog/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres.sql
var postgresSchema string

//go:embed migrations/sqlite.sql
var sqliteSchema string

const runColumns = `id, name, count, started_at, ended_at, duration_us, state, log_text, error_text`

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore implements Store on top of sqlx. It serves both postgres (pgx driver) and sqlite
// (modernc driver); queries are written with `?` and rebound for the driver.
type SQLStore struct {
	db  *sqlx.DB         // nil when the store is bound to a transaction
	ext sqlx.ExtContext // either db or the running transaction
}

// NewPostgres connects to a postgres database and ensures the run table exists
func NewPostgres(ctx context.Context, url string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newSQLStore(ctx, db, postgresSchema)
}

// NewSQLite opens (creating if needed) a sqlite database file and ensures the run table exists.
// Use ":memory:" for a throwaway database.
func NewSQLite(ctx context.Context, path string) (*SQLStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// one writer; callers inside Atomic must only use the tx store
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, sqliteSchema)
}

func newSQLStore(ctx context.Context, db *sqlx.DB, schema string) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("applying schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLStore{db: db, ext: db}, nil
}

// DB exposes the underlying connection pool
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context, run models.Run) (string, error) {
	id := uuid.NewString()
	if run.State == "" {
		run.State = models.RunStateRunning
	}

	_, err := s.ext.ExecContext(ctx, s.ext.Rebind(`
INSERT INTO joblog_run (`+runColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, run.Name, run.Count, run.StartedAt.UTC(), run.EndedAt, run.DurationUS, string(run.State), run.LogText, run.ErrorText,
	)
	if err != nil {
		return "", fmt.Errorf("inserting run %q: %w", run.Name, err)
	}
	return id, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	err := sqlx.GetContext(ctx, s.ext, &run, s.ext.Rebind(`SELECT `+runColumns+` FROM joblog_run WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	} else if err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", id, err)
	}
	normalizeTimes(&run)
	return &run, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, update models.RunUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	var sets []string
	var args []any
	if update.LogText != nil {
		sets = append(sets, "log_text = ?")
		args = append(args, textOrNull(*update.LogText))
	}
	if update.ErrorText != nil {
		sets = append(sets, "error_text = ?")
		args = append(args, textOrNull(*update.ErrorText))
	}
	if update.Duration != nil {
		sets = append(sets, "duration_us = ?")
		args = append(args, update.Duration.Microseconds())
	}
	if update.State != "" {
		sets = append(sets, "state = ?")
		args = append(args, string(update.State))
	}
	if update.EndedAt != nil {
		sets = append(sets, "ended_at = ?")
		args = append(args, update.EndedAt.UTC())
	}
	args = append(args, id)

	query := s.ext.Rebind(`UPDATE joblog_run SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := s.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLStore) CountByName(ctx context.Context, name string) (int64, error) {
	var count int64
	if err := sqlx.GetContext(ctx, s.ext, &count, s.ext.Rebind(`SELECT COUNT(*) FROM joblog_run WHERE name = ?`), name); err != nil {
		return 0, fmt.Errorf("counting runs of %q: %w", name, err)
	}
	return count, nil
}

func (s *SQLStore) Query(ctx context.Context, filter models.RunFilter) ([]models.Run, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, state := range filter.States {
			states[i] = string(state)
		}
		where = append(where, "state IN (?)")
		args = append(args, states)
	}
	if filter.StartedSince.Valid {
		where = append(where, "started_at >= ?")
		args = append(args, filter.StartedSince.Time.UTC())
	}

	query := `SELECT ` + runColumns + ` FROM joblog_run`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.NewestFirst {
		query += ` ORDER BY started_at DESC, count DESC`
	} else {
		query += ` ORDER BY started_at, count`
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("building run query: %w", err)
	}

	runs := []models.Run{}
	if err := sqlx.SelectContext(ctx, s.ext, &runs, s.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	for i := range runs {
		normalizeTimes(&runs[i])
	}
	return runs, nil
}

func (s *SQLStore) Atomic(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		// already bound to a transaction
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Error().Err(err).Msg("Could not rollback transaction")
		}
	}()

	if err := fn(&SQLStore{ext: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func textOrNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// normalizeTimes puts scanned timestamps into UTC so both drivers return comparable values
func normalizeTimes(run *models.Run) {
	run.StartedAt = run.StartedAt.UTC()
	if run.EndedAt.Valid {
		run.EndedAt.Time = run.EndedAt.Time.UTC()
	}
}

var _ Backend = (*SQLStore)(nil)
