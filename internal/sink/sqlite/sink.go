// Package sqlite writes records into a per-collection table of a local SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config names the database file and table.
type Config struct {
	Path  string
	Table string
	// Reset drops the table before recreating it.
	Reset bool
}

// Sink upserts records into SQLite keyed by id.
type Sink struct {
	db     *sql.DB
	table  string
	upsert *sql.Stmt
}

var _ crawler.RecordSink = (*Sink)(nil)

// New opens (creating if needed) the database file and prepares the table.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, errors.New("sink.sqlite.path is required")
	}
	if !validTableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// Writes are serialized through one connection.
	db.SetMaxOpenConns(1)

	s := &Sink{db: db, table: cfg.Table}
	if err := s.prepare(ctx, cfg.Reset); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) prepare(ctx context.Context, reset bool) error {
	if reset {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
			return fmt.Errorf("drop table %s: %w", s.table, err)
		}
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT,
	subtitle TEXT,
	history TEXT
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	stmt, err := s.db.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, url, title, subtitle, history)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	url = excluded.url,
	title = excluded.title,
	subtitle = excluded.subtitle,
	history = excluded.history`, s.table))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	s.upsert = stmt
	return nil
}

// Write upserts record; a second write for the same id replaces the row.
func (s *Sink) Write(ctx context.Context, record crawler.EntityRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	if _, err := s.upsert.ExecContext(ctx,
		record.ID,
		record.URL,
		record.Title,
		record.Subtitle,
		record.Body,
	); err != nil {
		return fmt.Errorf("upsert %s into %s: %w", record.ID, s.table, err)
	}
	return nil
}

// Close releases the statement and the database handle.
func (s *Sink) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	var errs []error
	if s.upsert != nil {
		errs = append(errs, s.upsert.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}
