package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleReporter demonstrates scoping a hub to one collection and counting
// the records it reports.
func ExampleReporter() {
	var records int
	counter := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageRecordDone {
				records++
			}
		}
		return nil
	})
	hub := NewHub(Config{FlushInterval: time.Second}, counter)

	reporter := NewReporter(hub, uuid.MustParse("00000000-0000-0000-0000-000000000001"), "danfs")
	reporter.Emit(Event{Stage: StageRunStart})
	reporter.Emit(Event{Stage: StageRecordDone, Path: "research/x/ship-1", Title: "Ship One"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("records: %d\n", records)
	// Output:
	// records: 1
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
