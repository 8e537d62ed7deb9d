package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"

	// StageIndexError marks an abandoned index branch (or a fatal top-level call).
	StageIndexError Stage = "INDEX_ERROR"
	// StageStubExcluded marks a stub dropped by the title filter.
	StageStubExcluded Stage = "STUB_EXCLUDED"
	// StageFetchDone is emitted for every detail-page response, whatever its status.
	StageFetchDone Stage = "FETCH_DONE"
	// StageFetchFailed marks a transport error or non-2xx detail page.
	StageFetchFailed Stage = "FETCH_FAILED"
	// StageExtractEmpty marks a fetched page without a body container.
	StageExtractEmpty Stage = "EXTRACT_EMPTY"
	// StageRecordDone is emitted once per record handed to the sink.
	StageRecordDone Stage = "RECORD_DONE"
	// StageDuplicateID marks a record whose id was already written in this run.
	StageDuplicateID Stage = "DUPLICATE_ID"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a crawl run.
type Event struct {
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS         time.Time
	Stage      Stage
	Collection string
	// Path is the stub path fragment for per-record stages.
	Path  string
	Title string
	URL   string
	// StatusCode is the HTTP status of the detail page or index call, 0 on
	// transport failure.
	StatusCode int
	Bytes      int64
	Dur        time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageIndexError:
	case StageStubExcluded, StageFetchDone, StageFetchFailed, StageExtractEmpty, StageRecordDone, StageDuplicateID:
		if e.Path == "" {
			return fmt.Errorf("%s requires path", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Class groups the event's status code.
func (e Event) Class() StatusClass {
	return ClassifyStatus(e.StatusCode)
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
