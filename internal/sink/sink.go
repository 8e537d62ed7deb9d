// Package sink opens the configured record sink for a collection.
package sink

import (
	"context"
	"fmt"

	"github.com/JakeFAU/danfs-crawler/internal/config"
	"github.com/JakeFAU/danfs-crawler/internal/crawler"
	"github.com/JakeFAU/danfs-crawler/internal/sink/jsonfile"
	"github.com/JakeFAU/danfs-crawler/internal/sink/memory"
	"github.com/JakeFAU/danfs-crawler/internal/sink/postgres"
	"github.com/JakeFAU/danfs-crawler/internal/sink/pubsub"
	"github.com/JakeFAU/danfs-crawler/internal/sink/sqlite"
)

// Open builds the sink selected by cfg.Kind for coll. Relational sinks write
// to coll.Table, the JSON sink to <dir>/<coll.Name>.json.
func Open(ctx context.Context, cfg config.SinkConfig, coll crawler.Collection) (crawler.RecordSink, error) {
	var (
		s   crawler.RecordSink
		err error
	)
	switch cfg.Kind {
	case config.SinkSQLite, "":
		s, err = asSink(sqlite.New(ctx, sqlite.Config{
			Path:  cfg.SQLite.Path,
			Table: coll.Table,
			Reset: cfg.Reset,
		}))
	case config.SinkPostgres:
		s, err = asSink(postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    coll.Table,
			MaxConns: cfg.Postgres.MaxConns,
			Reset:    cfg.Reset,
		}))
	case config.SinkJSON:
		s, err = asSink(jsonfile.New(cfg.JSON.Dir, coll.Name))
	case config.SinkPubSub:
		s, err = asSink(pubsub.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic, coll.Name))
	case config.SinkMemory:
		s = memory.New()
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s sink for %s: %w", cfg.Kind, coll.Name, err)
	}
	return s, nil
}

// asSink drops the concrete type so a failed constructor never yields a
// non-nil interface holding a nil pointer.
func asSink[T crawler.RecordSink](s T, err error) (crawler.RecordSink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
