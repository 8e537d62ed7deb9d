// Package postgres writes records into a per-collection Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and target table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Reset drops the table before recreating it.
	Reset bool
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink upserts records into Postgres keyed by id.
type Sink struct {
	pool  execCloser
	table string
}

var _ crawler.RecordSink = (*Sink)(nil)

// New connects to Postgres and prepares the table.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sink.postgres.dsn is required")
	}
	if !validTableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(ctx, pool, cfg.Table, cfg.Reset)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing)
// and prepares the table.
func NewWithPool(ctx context.Context, pool execCloser, table string, reset bool) (*Sink, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &Sink{pool: pool, table: table}
	if err := s.prepare(ctx, reset); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) prepare(ctx context.Context, reset bool) error {
	if reset {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
			return fmt.Errorf("drop table %s: %w", s.table, err)
		}
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT,
	subtitle TEXT,
	history TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write upserts record; a second write for the same id replaces the row.
func (s *Sink) Write(ctx context.Context, record crawler.EntityRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("postgres sink is not configured")
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, title, subtitle, history)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	subtitle = EXCLUDED.subtitle,
	history = EXCLUDED.history`, s.table)

	args := []any{
		record.ID,
		record.URL,
		record.Title,
		record.Subtitle,
		record.Body,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s into %s: %w", record.ID, s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
