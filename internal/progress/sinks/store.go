package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/danfs-crawler/internal/progress"
	"github.com/JakeFAU/danfs-crawler/internal/store"
)

// StoreSink persists progress via a store.RunRepository. Per-record events
// are collapsed into counter deltas so each batch costs one write per
// collection.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. Pending counter deltas are flushed
// before every run lifecycle event so a finished collection carries its
// final counts.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[collectionKey]*store.Counters)

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.flush(ctx, pending); err != nil {
				return err
			}
			if err := s.handleRunEvent(ctx, evt); err != nil {
				return err
			}
		default:
			key := collectionKey{runID: evt.RunID, collection: evt.Collection}
			delta := pending[key]
			if delta == nil {
				delta = &store.Counters{}
				pending[key] = delta
			}
			delta.Add(countersFor(evt))
		}
	}
	return s.flush(ctx, pending)
}

func (s *StoreSink) handleRunEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartCollection(ctx, evt.RunID, evt.Collection, evt.TS); err != nil {
			return fmt.Errorf("start collection: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.FinishCollection(ctx, evt.RunID, evt.Collection, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("finish collection: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.FinishCollection(ctx, evt.RunID, evt.Collection, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("finish collection: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) flush(ctx context.Context, pending map[collectionKey]*store.Counters) error {
	for key, delta := range pending {
		delete(pending, key)
		if delta.IsZero() {
			continue
		}
		if err := s.repo.AddCounters(ctx, key.runID, key.collection, *delta); err != nil {
			return fmt.Errorf("add counters: %w", err)
		}
	}
	return nil
}

// countersFor maps a per-record event onto the counter it moves.
func countersFor(evt progress.Event) store.Counters {
	switch evt.Stage {
	case progress.StageRecordDone:
		return store.Counters{Records: 1}
	case progress.StageStubExcluded:
		return store.Counters{Excluded: 1}
	case progress.StageFetchDone:
		return store.Counters{Bytes: evt.Bytes}
	case progress.StageFetchFailed:
		return store.Counters{FetchFailed: 1}
	case progress.StageExtractEmpty:
		return store.Counters{ExtractEmpty: 1}
	case progress.StageIndexError:
		return store.Counters{IndexErrors: 1}
	case progress.StageDuplicateID:
		return store.Counters{Duplicates: 1}
	default:
		return store.Counters{}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type collectionKey struct {
	runID      uuid.UUID
	collection string
}
