package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateRuns = `
        CREATE TABLE IF NOT EXISTS watchdog_runs (
            id           UUID PRIMARY KEY,
            started_at   TIMESTAMPTZ NOT NULL,
            status       TEXT NOT NULL,
            stage        TEXT NOT NULL DEFAULT '',
            reason       TEXT NOT NULL DEFAULT '',
            elapsed_ms   BIGINT NOT NULL DEFAULT 0,
            metric_value DOUBLE PRECISION NOT NULL,
            report_link  TEXT NOT NULL DEFAULT ''
        );
    `
	sqlInsertRun = `
        INSERT INTO watchdog_runs (id, started_at, status, stage, reason, elapsed_ms, metric_value, report_link)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlRecentRuns = `
        SELECT id, started_at, status, stage, reason, elapsed_ms, metric_value, report_link
        FROM watchdog_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

// RunRecord is one row of run history. MetricValue is the elapsed seconds on
// success and the configured failure time otherwise, so a single series can
// be graphed and alarmed on.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	Status      string
	Stage       string
	Reason      string
	ElapsedMS   int64
	MetricValue float64
	ReportLink  string
}

// Store persists run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Open connects a pool to url and returns a ready store with its schema in
// place. The returned func closes the pool.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the run history table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateRuns); err != nil {
		return fmt.Errorf("failed to create watchdog_runs: %w", err)
	}
	return nil
}

// RecordRun inserts one run. A missing ID is generated.
func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx, sqlInsertRun,
		r.ID, r.StartedAt.UTC(), r.Status, r.Stage, r.Reason,
		r.ElapsedMS, r.MetricValue, r.ReportLink,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("run %s: expected 1 row inserted, got %d", r.ID, tag.RowsAffected())
	}
	s.log.Debug("Recorded run.", zap.String("id", r.ID), zap.String("status", r.Status))
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Status, &r.Stage, &r.Reason, &r.ElapsedMS, &r.MetricValue, &r.ReportLink); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
