// Package memory keeps written records in process memory.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

// Sink stores records keyed by id, last write wins.
type Sink struct {
	mu      sync.RWMutex
	index   map[string]int
	records []crawler.EntityRecord
	writes  int
	closed  bool
}

var _ crawler.RecordSink = (*Sink)(nil)

// New creates an empty Sink.
func New() *Sink {
	return &Sink{index: make(map[string]int)}
}

// Write stores record.
func (s *Sink) Write(_ context.Context, record crawler.EntityRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memory sink is closed")
	}
	s.writes++
	if i, ok := s.index[record.ID]; ok {
		s.records[i] = record
		return nil
	}
	s.index[record.ID] = len(s.records)
	s.records = append(s.records, record)
	return nil
}

// Close marks the sink closed.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns a copy of the stored records in first-write order.
func (s *Sink) Records() []crawler.EntityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.EntityRecord(nil), s.records...)
}

// Get returns the record stored under id.
func (s *Sink) Get(id string) (crawler.EntityRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return crawler.EntityRecord{}, false
	}
	return s.records[i], true
}

// Writes counts successful Write calls, duplicates included.
func (s *Sink) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
