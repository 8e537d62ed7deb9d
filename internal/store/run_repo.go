package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a run or of one collection within it.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Counters aggregates per-collection progress.
type Counters struct {
	Records      int64
	Excluded     int64
	FetchFailed  int64
	ExtractEmpty int64
	IndexErrors  int64
	Duplicates   int64
	Bytes        int64
}

// Add accumulates delta into c.
func (c *Counters) Add(delta Counters) {
	c.Records += delta.Records
	c.Excluded += delta.Excluded
	c.FetchFailed += delta.FetchFailed
	c.ExtractEmpty += delta.ExtractEmpty
	c.IndexErrors += delta.IndexErrors
	c.Duplicates += delta.Duplicates
	c.Bytes += delta.Bytes
}

// IsZero reports whether no counter moved.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// CollectionRun is the progress of one collection inside a run.
type CollectionRun struct {
	Name       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Error      *string
	Counters   Counters
}

// Run is one invocation of the crawl command.
type Run struct {
	ID          uuid.UUID
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      RunStatus
	Collections []CollectionRun
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	// StartCollection records that collection began crawling in run runID,
	// creating the run if needed.
	StartCollection(ctx context.Context, runID uuid.UUID, collection string, at time.Time) error
	// FinishCollection marks the collection finished with status and optional error text.
	FinishCollection(
		ctx context.Context,
		runID uuid.UUID,
		collection string,
		at time.Time,
		status RunStatus,
		errMsg *string,
	) error
	// AddCounters applies counter deltas to one collection.
	AddCounters(ctx context.Context, runID uuid.UUID, collection string, delta Counters) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs, newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

// Settle derives the run status and finish time from its collections: running
// while any collection runs, error if any failed, success otherwise. A run is
// finished when its last collection finishes.
func (r *Run) Settle() {
	r.Status = RunSuccess
	r.FinishedAt = nil
	var finished time.Time
	running := false
	for _, coll := range r.Collections {
		switch coll.Status {
		case RunRunning:
			running = true
		case RunError:
			r.Status = RunError
		}
		if coll.FinishedAt != nil && coll.FinishedAt.After(finished) {
			finished = *coll.FinishedAt
		}
	}
	if running {
		r.Status = RunRunning
		return
	}
	if !finished.IsZero() {
		ts := finished
		r.FinishedAt = &ts
	}
}
