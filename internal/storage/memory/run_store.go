package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/danfs-crawler/internal/store"
)

// RunStore keeps crawl run progress in memory for the lifetime of the process.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*runEntry
}

type runEntry struct {
	startedAt   time.Time
	order       []string
	collections map[string]*store.CollectionRun
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]*runEntry)}
}

// StartCollection implements store.RunRepository.
func (s *RunStore) StartCollection(_ context.Context, runID uuid.UUID, collection string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entry(runID, at)
	coll := entry.collection(collection, at)
	coll.StartedAt = at
	coll.Status = store.RunRunning
	coll.FinishedAt = nil
	coll.Error = nil
	return nil
}

// FinishCollection implements store.RunRepository.
func (s *RunStore) FinishCollection(
	_ context.Context,
	runID uuid.UUID,
	collection string,
	at time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.entry(runID, at).collection(collection, at)
	coll.Status = status
	coll.FinishedAt = pointerTime(at)
	if errMsg != nil {
		msg := *errMsg
		coll.Error = &msg
	}
	return nil
}

// AddCounters implements store.RunRepository.
func (s *RunStore) AddCounters(_ context.Context, runID uuid.UUID, collection string, delta store.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.entry(runID, now).collection(collection, now).Counters.Add(delta)
	return nil
}

// GetRun implements store.RunRepository.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return entry.snapshot(runID), nil
}

// ListRuns implements store.RunRepository.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for id, entry := range s.runs {
		run := entry.snapshot(id)
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return []store.Run{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *RunStore) entry(runID uuid.UUID, at time.Time) *runEntry {
	entry, ok := s.runs[runID]
	if !ok {
		entry = &runEntry{
			startedAt:   at,
			collections: make(map[string]*store.CollectionRun),
		}
		s.runs[runID] = entry
	}
	return entry
}

func (e *runEntry) collection(name string, at time.Time) *store.CollectionRun {
	coll, ok := e.collections[name]
	if !ok {
		coll = &store.CollectionRun{Name: name, StartedAt: at, Status: store.RunRunning}
		e.collections[name] = coll
		e.order = append(e.order, name)
	}
	return coll
}

// snapshot deep-copies the entry into a settled store.Run.
func (e *runEntry) snapshot(id uuid.UUID) store.Run {
	run := store.Run{
		ID:          id,
		StartedAt:   e.startedAt,
		Collections: make([]store.CollectionRun, 0, len(e.order)),
	}
	for _, name := range e.order {
		coll := *e.collections[name]
		if coll.FinishedAt != nil {
			coll.FinishedAt = pointerTime(*coll.FinishedAt)
		}
		if coll.Error != nil {
			msg := *coll.Error
			coll.Error = &msg
		}
		run.Collections = append(run.Collections, coll)
	}
	run.Settle()
	return run
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
