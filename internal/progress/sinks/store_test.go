package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/danfs-crawler/internal/progress"
	"github.com/JakeFAU/danfs-crawler/internal/storage/memory"
	"github.com/JakeFAU/danfs-crawler/internal/store"
)

// TestStoreSinkPersistsEvents ensures per-record events are collapsed into counters.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	runID := uuid.New()
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, Collection: "danfs", TS: now},
		{RunID: runID, Stage: progress.StageFetchDone, Collection: "danfs", Path: "/a", Bytes: 100, TS: now},
		{RunID: runID, Stage: progress.StageRecordDone, Collection: "danfs", Path: "/a", TS: now},
		{RunID: runID, Stage: progress.StageFetchDone, Collection: "danfs", Path: "/b", Bytes: 50, TS: now},
		{RunID: runID, Stage: progress.StageExtractEmpty, Collection: "danfs", Path: "/b", TS: now},
		{RunID: runID, Stage: progress.StageRecordDone, Collection: "danfs", Path: "/b", TS: now},
		{RunID: runID, Stage: progress.StageStubExcluded, Collection: "danfs", Path: "/c", TS: now},
		{RunID: runID, Stage: progress.StageDuplicateID, Collection: "danfs", Path: "/b", TS: now},
		{RunID: runID, Stage: progress.StageRunDone, Collection: "danfs", TS: now.Add(3 * time.Second)},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	run, err := repo.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Len(t, run.Collections, 1)
	coll := run.Collections[0]
	require.Equal(t, "danfs", coll.Name)
	require.Equal(t, store.Counters{
		Records:      2,
		Excluded:     1,
		ExtractEmpty: 1,
		Duplicates:   1,
		Bytes:        150,
	}, coll.Counters)
	require.NotNil(t, coll.FinishedAt)
}

func TestStoreSinkRecordsErrors(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	runID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, Collection: "confederate", TS: now},
		{RunID: runID, Stage: progress.StageIndexError, Collection: "confederate", TS: now},
		{RunID: runID, Stage: progress.StageRunError, Collection: "confederate", TS: now, Note: "ranges: unavailable"},
	}))

	run, err := repo.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.Equal(t, int64(1), run.Collections[0].Counters.IndexErrors)
	require.NotNil(t, run.Collections[0].Error)
	require.Equal(t, "ranges: unavailable", *run.Collections[0].Error)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: uuid.New(), Stage: progress.StageRunStart, Collection: "danfs", TS: time.Now()},
	})
	require.ErrorContains(t, err, "start collection")

	err = sink.Consume(context.Background(), []progress.Event{
		{RunID: uuid.New(), Stage: progress.StageRecordDone, Collection: "danfs", Path: "/a", TS: time.Now()},
	})
	require.ErrorContains(t, err, "add counters")
}

func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	var sink *StoreSink
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunStart}}))
}

type failingRepo struct{}

func (failingRepo) StartCollection(context.Context, uuid.UUID, string, time.Time) error {
	return assertErr("start")
}

func (failingRepo) FinishCollection(context.Context, uuid.UUID, string, time.Time, store.RunStatus, *string) error {
	return assertErr("finish")
}

func (failingRepo) AddCounters(context.Context, uuid.UUID, string, store.Counters) error {
	return assertErr("counters")
}

func (failingRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, assertErr("read")
}

func (failingRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
