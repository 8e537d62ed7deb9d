// Package resolver turns discovered stubs into persisted records: it derives
// the detail-page URL, fetches it, extracts the body and optionally archives
// the raw page.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
	"github.com/JakeFAU/danfs-crawler/internal/extract"
	"github.com/JakeFAU/danfs-crawler/internal/progress"
)

var tracer = otel.Tracer("danfs-crawler/internal/resolver")

const defaultContentType = "text/html; charset=utf-8"

// Config controls Resolver behavior.
type Config struct {
	SiteRoot string
	// ArchivePrefix is prepended to "<collection>/<id>.html" for archived pages.
	ArchivePrefix string
	ContentType   string
}

// Resolver resolves stubs of one run. It is safe for concurrent use when
// its fetcher, archive and emitter are.
type Resolver struct {
	fetcher   crawler.Fetcher
	extractor *extract.Extractor
	archive   crawler.BlobStore
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Resolver. archive may be nil to skip archiving; emitter
// may be nil to drop progress events.
func New(
	fetcher crawler.Fetcher,
	extractor *extract.Extractor,
	archive crawler.BlobStore,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Resolver {
	if extractor == nil {
		extractor = extract.New(extract.Config{})
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	return &Resolver{
		fetcher:   fetcher,
		extractor: extractor,
		archive:   archive,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Resolve builds the record for stub. It never fails: fetch and extraction
// problems yield a record with an empty body, a warning and an event.
func (r *Resolver) Resolve(ctx context.Context, coll crawler.Collection, stub crawler.EntityStub) crawler.EntityRecord {
	ctx, span := tracer.Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("danfs.collection", coll.Name),
		attribute.String("danfs.path", stub.Path),
	)

	logger := r.logger.With(
		zap.String("collection", coll.Name),
		zap.String("path", stub.Path),
		zap.String("title", stub.Title),
	)
	logger.Info("resolving record")

	record, err := crawler.NewRecord(r.cfg.SiteRoot, stub, "")
	if err != nil {
		record = crawler.EntityRecord{
			ID:       crawler.RecordID(stub.Path),
			Title:    stub.Title,
			Subtitle: stub.Subtitle,
		}
		r.fetchFailed(coll, stub, "", 0, err, logger)
		span.SetStatus(codes.Error, err.Error())
		return record
	}
	span.SetAttributes(attribute.String("http.url", record.URL))

	page, err := r.fetcher.Fetch(ctx, record.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			logger.Debug("detail page fetch canceled", zap.Error(err))
			return record
		}
		r.fetchFailed(coll, stub, record.URL, 0, err, logger)
		return record
	}

	r.emit(coll, stub, progress.Event{
		Stage:      progress.StageFetchDone,
		URL:        record.URL,
		StatusCode: page.StatusCode,
		Bytes:      int64(len(page.Body)),
		Dur:        page.Duration,
	})
	span.SetAttributes(attribute.Int("http.status_code", page.StatusCode))

	if !page.OK() {
		r.fetchFailed(coll, stub, record.URL, page.StatusCode, fmt.Errorf("unexpected status %d", page.StatusCode), logger)
		return record
	}

	r.archivePage(ctx, coll, record, page, logger)

	body, found := r.extractor.Extract(string(page.Body))
	if !found {
		logger.Warn("body container not found", zap.String("url", record.URL))
		r.emit(coll, stub, progress.Event{
			Stage:      progress.StageExtractEmpty,
			URL:        record.URL,
			StatusCode: page.StatusCode,
		})
		return record
	}
	record.Body = body
	return record
}

func (r *Resolver) fetchFailed(
	coll crawler.Collection,
	stub crawler.EntityStub,
	url string,
	status int,
	err error,
	logger *zap.Logger,
) {
	logger.Warn("detail page fetch failed",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Error(err),
	)
	r.emit(coll, stub, progress.Event{
		Stage:      progress.StageFetchFailed,
		URL:        url,
		StatusCode: status,
		Note:       err.Error(),
	})
}

func (r *Resolver) archivePage(
	ctx context.Context,
	coll crawler.Collection,
	record crawler.EntityRecord,
	page crawler.Page,
	logger *zap.Logger,
) {
	if r.archive == nil || record.ID == "" {
		return
	}
	start := time.Now()
	uri, err := r.archive.PutObject(ctx, r.archivePath(coll.Name, record.ID), r.cfg.ContentType, bytes.NewReader(page.Body))
	if err != nil {
		logger.Warn("archive page failed", zap.Error(err))
		return
	}
	logger.Debug("archived page", zap.String("uri", uri), zap.Duration("took", time.Since(start)))
}

func (r *Resolver) archivePath(collection, id string) string {
	prefix := strings.Trim(r.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", collection, id)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, collection, id)
}

func (r *Resolver) emit(coll crawler.Collection, stub crawler.EntityStub, evt progress.Event) {
	evt.Collection = coll.Name
	evt.Path = stub.Path
	evt.Title = stub.Title
	r.emitter.Emit(evt)
}
