// Package jsonfile buffers a collection's records and writes them as one JSON
// array file when the sink is closed.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

// Sink collects records in memory and writes <dir>/<collection>.json on Close.
// A repeated id replaces the earlier record in place.
type Sink struct {
	mu      sync.Mutex
	path    string
	index   map[string]int
	records []crawler.EntityRecord
	closed  bool
}

var _ crawler.RecordSink = (*Sink)(nil)

// New prepares a sink writing to <dir>/<collection>.json. The directory is
// created if missing.
func New(dir, collection string) (*Sink, error) {
	if dir == "" {
		return nil, errors.New("sink.json.dir is required")
	}
	if collection == "" {
		return nil, errors.New("collection is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create json dir: %w", err)
	}
	return &Sink{
		path:  filepath.Join(dir, collection+".json"),
		index: make(map[string]int),
	}, nil
}

// Path returns the file the sink writes on Close.
func (s *Sink) Path() string {
	return s.path
}

// Write buffers record.
func (s *Sink) Write(_ context.Context, record crawler.EntityRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("json sink is closed")
	}
	if i, ok := s.index[record.ID]; ok {
		s.records[i] = record
		return nil
	}
	s.index[record.ID] = len(s.records)
	s.records = append(s.records, record)
	return nil
}

// Close writes the buffered records through a temp file and rename, so a
// reader never observes a partial array. Closing twice is a no-op.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	records := s.records
	if records == nil {
		records = []crawler.EntityRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("write %s: %w", tmpName, err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync %s: %w", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename to %s: %w", s.path, err)
	}
	return nil
}
