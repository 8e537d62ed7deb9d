// Package postgres persists crawl run progress in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/danfs-crawler/internal/store"
)

// pool is the subset of *pgxpool.Pool used by RunStore.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id         UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS crawl_collections (
	run_id        UUID NOT NULL REFERENCES crawl_runs (id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT,
	records       BIGINT NOT NULL DEFAULT 0,
	excluded      BIGINT NOT NULL DEFAULT 0,
	fetch_failed  BIGINT NOT NULL DEFAULT 0,
	extract_empty BIGINT NOT NULL DEFAULT 0,
	index_errors  BIGINT NOT NULL DEFAULT 0,
	duplicates    BIGINT NOT NULL DEFAULT 0,
	bytes         BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, name)
);`

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to dsn and creates the progress tables if missing.
func NewRunStore(ctx context.Context, dsn string) (*RunStore, error) {
	if dsn == "" {
		return nil, errors.New("progress postgres dsn is required")
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewRunStoreWithPool(ctx, p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool wraps an existing pool, mainly for tests.
func NewRunStoreWithPool(ctx context.Context, p pool) (*RunStore, error) {
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to create progress tables: %w", err)
	}
	return &RunStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

func (s *RunStore) ensureRun(ctx context.Context, runID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_runs (id, started_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING;`, runID, at)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	return nil
}

// StartCollection implements store.RunRepository.
func (s *RunStore) StartCollection(ctx context.Context, runID uuid.UUID, collection string, at time.Time) error {
	if err := s.ensureRun(ctx, runID, at); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_collections (run_id, name, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, name) DO UPDATE
		SET started_at = EXCLUDED.started_at,
			status = EXCLUDED.status,
			finished_at = NULL,
			error_message = NULL;`,
		runID, collection, at, string(store.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to start collection: %w", err)
	}
	return nil
}

// FinishCollection implements store.RunRepository.
func (s *RunStore) FinishCollection(
	ctx context.Context,
	runID uuid.UUID,
	collection string,
	at time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if err := s.ensureRun(ctx, runID, at); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_collections (run_id, name, started_at, finished_at, status, error_message)
		VALUES ($1, $2, $3, $3, $4, $5)
		ON CONFLICT (run_id, name) DO UPDATE
		SET finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message;`,
		runID, collection, at, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish collection: %w", err)
	}
	return nil
}

// AddCounters implements store.RunRepository.
func (s *RunStore) AddCounters(ctx context.Context, runID uuid.UUID, collection string, delta store.Counters) error {
	now := time.Now().UTC()
	if err := s.ensureRun(ctx, runID, now); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_collections (run_id, name, started_at, status,
			records, excluded, fetch_failed, extract_empty, index_errors, duplicates, bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, name) DO UPDATE
		SET records = crawl_collections.records + EXCLUDED.records,
			excluded = crawl_collections.excluded + EXCLUDED.excluded,
			fetch_failed = crawl_collections.fetch_failed + EXCLUDED.fetch_failed,
			extract_empty = crawl_collections.extract_empty + EXCLUDED.extract_empty,
			index_errors = crawl_collections.index_errors + EXCLUDED.index_errors,
			duplicates = crawl_collections.duplicates + EXCLUDED.duplicates,
			bytes = crawl_collections.bytes + EXCLUDED.bytes;`,
		runID, collection, now, string(store.RunRunning),
		delta.Records, delta.Excluded, delta.FetchFailed, delta.ExtractEmpty,
		delta.IndexErrors, delta.Duplicates, delta.Bytes)
	if err != nil {
		return fmt.Errorf("failed to add counters: %w", err)
	}
	return nil
}

// GetRun implements store.RunRepository.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	run := store.Run{ID: runID}
	err := s.pool.QueryRow(ctx, `SELECT started_at FROM crawl_runs WHERE id = $1;`, runID).
		Scan(&run.StartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT name, started_at, finished_at, status, error_message,
			records, excluded, fetch_failed, extract_empty, index_errors, duplicates, bytes
		FROM crawl_collections
		WHERE run_id = $1
		ORDER BY started_at, name;`, runID)
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to list run collections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			coll   store.CollectionRun
			status string
		)
		err := rows.Scan(
			&coll.Name,
			&coll.StartedAt,
			&coll.FinishedAt,
			&status,
			&coll.Error,
			&coll.Counters.Records,
			&coll.Counters.Excluded,
			&coll.Counters.FetchFailed,
			&coll.Counters.ExtractEmpty,
			&coll.Counters.IndexErrors,
			&coll.Counters.Duplicates,
			&coll.Counters.Bytes,
		)
		if err != nil {
			return store.Run{}, fmt.Errorf("failed to scan collection row: %w", err)
		}
		coll.Status = store.RunStatus(status)
		run.Collections = append(run.Collections, coll)
	}
	if err := rows.Err(); err != nil {
		return store.Run{}, fmt.Errorf("failed to read collection rows: %w", err)
	}
	run.Settle()
	return run, nil
}

// ListRuns implements store.RunRepository. The run status is derived in SQL
// the same way store.Run.Settle derives it.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, `
		WITH summary AS (
			SELECT r.id, r.started_at,
				CASE
					WHEN bool_or(c.status = 'running') THEN 'running'
					WHEN bool_or(c.status = 'error') THEN 'error'
					ELSE 'success'
				END AS status
			FROM crawl_runs r
			LEFT JOIN crawl_collections c ON c.run_id = r.id
			GROUP BY r.id, r.started_at
		)
		SELECT id FROM summary
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run rows: %w", err)
	}

	runs := make([]store.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
