// Package pipeline runs one collection crawl: discovery streams stubs to a
// bounded pool of resolvers whose records are persisted by a single writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
	"github.com/JakeFAU/danfs-crawler/internal/progress"
)

var tracer = otel.Tracer("danfs-crawler/internal/pipeline")

const (
	defaultConcurrency = 4
	defaultQueueDepth  = 64
)

// Resolver turns a stub into a record. It must never fail; problems are
// reflected in the record and reported through progress events.
type Resolver interface {
	Resolve(ctx context.Context, coll crawler.Collection, stub crawler.EntityStub) crawler.EntityRecord
}

// Config sizes the pipeline.
type Config struct {
	// Concurrency is the number of resolver goroutines; 1 resolves stubs
	// sequentially in discovery order.
	Concurrency int
	// QueueDepth bounds both the stub and the record channels.
	QueueDepth int
	Logger     *zap.Logger
}

// Summary describes a finished collection run.
type Summary struct {
	Collection string
	Discovered int64
	Excluded   int64
	Written    int64
	Duplicates int64
	Skipped    int64
	Duration   time.Duration
	// Partial is set when some index branches were abandoned.
	Partial bool
}

// Runner executes collection runs.
type Runner struct {
	cfg Config
}

// New builds a Runner, filling in default sizes.
func New(cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{cfg: cfg}
}

type resolved struct {
	stub   crawler.EntityStub
	record crawler.EntityRecord
}

// Run crawls coll and takes ownership of sink, closing it before returning.
// Records already discovered are still resolved and written when discovery
// fails; a sink error cancels the run. The returned error joins discovery,
// sink and cancellation failures.
func (r *Runner) Run(
	ctx context.Context,
	coll crawler.Collection,
	walker crawler.Walker,
	resolver Resolver,
	sink crawler.RecordSink,
	emitter progress.Emitter,
) (Summary, error) {
	if emitter == nil {
		emitter = progress.Discard
	}
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("danfs.collection", coll.Name),
		attribute.Int("danfs.concurrency", r.cfg.Concurrency),
	)

	logger := r.cfg.Logger.With(zap.String("collection", coll.Name))
	start := time.Now()
	summary := Summary{Collection: coll.Name}
	emitter.Emit(progress.Event{Stage: progress.StageRunStart, Collection: coll.Name})
	logger.Info("collection run started", zap.Int("concurrency", r.cfg.Concurrency))

	filter := crawler.NewTitleFilter(coll.ExcludeTitles)
	stubs := make(chan crawler.EntityStub, r.cfg.QueueDepth)
	records := make(chan resolved, r.cfg.QueueDepth)

	var (
		discovered, excluded atomic.Int64
		discoverErr          error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(stubs)
		// Discovery errors do not cancel resolution of stubs already queued.
		discoverErr = walker.Discover(gctx, stubs)
		return nil
	})

	var workers errgroup.Group
	for range r.cfg.Concurrency {
		workers.Go(func() error {
			for stub := range stubs {
				discovered.Add(1)
				if filter.Excluded(stub.Title) {
					excluded.Add(1)
					logger.Debug("stub excluded", zap.String("title", stub.Title), zap.String("path", stub.Path))
					emitter.Emit(progress.Event{
						Stage:      progress.StageStubExcluded,
						Collection: coll.Name,
						Path:       stub.Path,
						Title:      stub.Title,
					})
					continue
				}
				if err := gctx.Err(); err != nil {
					return fmt.Errorf("resolve %s: %w", stub.Path, err)
				}
				rec := resolver.Resolve(gctx, coll, stub)
				if err := gctx.Err(); err != nil {
					// The fetch was cut short; its empty body is not real data.
					return fmt.Errorf("resolve %s: %w", stub.Path, err)
				}
				select {
				case records <- resolved{stub: stub, record: rec}:
				case <-gctx.Done():
					return fmt.Errorf("queue record: %w", gctx.Err())
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(records)
		return workers.Wait()
	})

	g.Go(func() error {
		seen := make(map[string]string)
		for item := range records {
			rec := item.record
			if rec.ID == "" {
				summary.Skipped++
				logger.Warn("record without id skipped", zap.String("path", item.stub.Path))
				continue
			}
			if firstPath, dup := seen[rec.ID]; dup {
				summary.Duplicates++
				logger.Warn("duplicate record id",
					zap.String("id", rec.ID),
					zap.String("path", item.stub.Path),
					zap.String("first_path", firstPath),
				)
				emitter.Emit(progress.Event{
					Stage:      progress.StageDuplicateID,
					Collection: coll.Name,
					Path:       item.stub.Path,
					Title:      item.stub.Title,
					URL:        rec.URL,
					Note:       "id " + rec.ID + " first seen at " + firstPath,
				})
			} else {
				seen[rec.ID] = item.stub.Path
			}
			if err := sink.Write(gctx, rec); err != nil {
				return fmt.Errorf("write record %s: %w", rec.ID, err)
			}
			summary.Written++
			emitter.Emit(progress.Event{
				Stage:      progress.StageRecordDone,
				Collection: coll.Name,
				Path:       item.stub.Path,
				Title:      rec.Title,
				URL:        rec.URL,
				Bytes:      int64(len(rec.Body)),
			})
		}
		return nil
	})

	runErr := g.Wait()
	if runErr != nil && errors.Is(discoverErr, context.Canceled) && ctx.Err() == nil {
		// Discovery was only cut short by the failure already in runErr.
		discoverErr = nil
	}
	if discoverErr != nil {
		summary.Partial = true
	}
	closeErr := sink.Close(context.WithoutCancel(ctx))
	if closeErr != nil {
		closeErr = fmt.Errorf("close sink: %w", closeErr)
	}
	err := errors.Join(discoverErr, runErr, closeErr)
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		// Stubs buffered before the cancel can let every goroutine finish cleanly.
		err = errors.Join(err, ctxErr)
	}

	summary.Discovered = discovered.Load()
	summary.Excluded = excluded.Load()
	summary.Duration = time.Since(start)

	fields := []zap.Field{
		zap.Int64("discovered", summary.Discovered),
		zap.Int64("excluded", summary.Excluded),
		zap.Int64("written", summary.Written),
		zap.Int64("duplicates", summary.Duplicates),
		zap.Duration("took", summary.Duration),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emitter.Emit(progress.Event{
			Stage:      progress.StageRunError,
			Collection: coll.Name,
			Dur:        summary.Duration,
			Note:       err.Error(),
		})
		logger.Error("collection run failed", append(fields, zap.Error(err))...)
		return summary, fmt.Errorf("collection %s: %w", coll.Name, err)
	}
	emitter.Emit(progress.Event{
		Stage:      progress.StageRunDone,
		Collection: coll.Name,
		Dur:        summary.Duration,
	})
	logger.Info("collection run finished", fields...)
	return summary, nil
}
