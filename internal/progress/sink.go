package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and tolerate being called from the hub goroutine only.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Emit must never block the caller.
type Emitter interface {
	Emit(evt Event)
}

// Reporter stamps events with a run id, a collection and a timestamp before
// forwarding them. A nil Reporter or one without an Emitter drops events.
type Reporter struct {
	emitter    Emitter
	runID      uuid.UUID
	collection string
	now        func() time.Time
}

// NewReporter scopes emitter to one collection of one run.
func NewReporter(emitter Emitter, runID uuid.UUID, collection string) *Reporter {
	return &Reporter{
		emitter:    emitter,
		runID:      runID,
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Emit fills in missing run id, collection and timestamp and forwards evt.
func (r *Reporter) Emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	if evt.RunID == uuid.Nil {
		evt.RunID = r.runID
	}
	if evt.Collection == "" {
		evt.Collection = r.collection
	}
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.emitter.Emit(evt)
}

// RunID returns the run the reporter is scoped to.
func (r *Reporter) RunID() uuid.UUID {
	if r == nil {
		return uuid.Nil
	}
	return r.runID
}

// Collection returns the collection the reporter is scoped to.
func (r *Reporter) Collection() string {
	if r == nil {
		return ""
	}
	return r.collection
}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
