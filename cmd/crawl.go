package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/danfs-crawler/internal/api"
	"github.com/JakeFAU/danfs-crawler/internal/config"
	"github.com/JakeFAU/danfs-crawler/internal/crawler"
	"github.com/JakeFAU/danfs-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/danfs-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/danfs-crawler/internal/id"
	"github.com/JakeFAU/danfs-crawler/internal/index"
	"github.com/JakeFAU/danfs-crawler/internal/pipeline"
	"github.com/JakeFAU/danfs-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/danfs-crawler/internal/progress"
	"github.com/JakeFAU/danfs-crawler/internal/progress/sinks"
	"github.com/JakeFAU/danfs-crawler/internal/resolver"
	"github.com/JakeFAU/danfs-crawler/internal/sink"
	"github.com/JakeFAU/danfs-crawler/internal/storage"
	"github.com/JakeFAU/danfs-crawler/internal/storage/memory"
	"github.com/JakeFAU/danfs-crawler/internal/storage/postgres"
	"github.com/JakeFAU/danfs-crawler/internal/store"
)

type crawlFlags struct {
	collections []string
	sink        string
	concurrency int
	reset       bool
	serve       bool
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one or more collections into the configured sink",
		Long: `Walks the index API of each selected collection, resolves every
discovered ship page and writes the records to the sink. Collections run one
after another; the command exits non-zero if any of them failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(cmd.Context()))

			cfg, err := applyCrawlFlags(a.cfg, cmd, flags)
			if err != nil {
				return err
			}
			colls, err := cfg.SelectCollections(flags.collections)
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg, colls, a.logger)
		},
	}
	cmd.Flags().StringArrayVar(&flags.collections, "collection", nil,
		"collection to crawl (repeatable; default all enabled)")
	cmd.Flags().StringVar(&flags.sink, "sink", "", "override sink.kind (sqlite, postgres, json, pubsub, memory)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "override crawler.concurrency")
	cmd.Flags().BoolVar(&flags.reset, "reset", false, "drop and recreate relational tables before crawling")
	cmd.Flags().BoolVar(&flags.serve, "serve", false, "run the ops HTTP server during the crawl")
	return cmd
}

// applyCrawlFlags layers explicitly set flags over the loaded configuration.
func applyCrawlFlags(cfg config.Config, cmd *cobra.Command, flags crawlFlags) (config.Config, error) {
	if flags.sink != "" {
		cfg.Sink.Kind = flags.sink
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Crawler.Concurrency = flags.concurrency
	}
	if cmd.Flags().Changed("reset") {
		cfg.Sink.Reset = flags.reset
	}
	if cmd.Flags().Changed("serve") {
		cfg.Server.Enabled = flags.serve
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// runCrawl crawls colls in order under a single run id. A failed collection
// does not stop the next one unless ctx is cancelled.
func runCrawl(ctx context.Context, cfg config.Config, colls []crawler.Collection, logger *zap.Logger) error {
	runID, err := id.NewRunID()
	if err != nil {
		return err
	}
	logger = logger.With(zap.Stringer("run_id", runID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	runs, closeRuns, err := openRunRepository(ctx, cfg.Progress)
	if err != nil {
		return err
	}
	defer closeRuns()
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(runs, logger.Named("progress")),
	)
	defer func() {
		if cerr := hub.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
		if dropped := hub.Dropped(); dropped > 0 {
			logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
	}()

	var started atomic.Bool
	if cfg.Server.Enabled {
		srvCtx, stopServer := context.WithCancel(ctx)
		srvDone := make(chan error, 1)
		srv := api.NewServer(api.Options{
			Runs:       runs,
			Gatherer:   reg,
			Registerer: reg,
			Ready: func() error {
				if !started.Load() {
					return errors.New("crawl not started")
				}
				return nil
			},
			Logger: logger.Named("api"),
		})
		go func() { srvDone <- srv.Serve(srvCtx, cfg.Server.Addr) }()
		defer func() {
			stopServer()
			if serr := <-srvDone; serr != nil {
				logger.Warn("ops server stopped with error", zap.Error(serr))
			}
		}()
	}

	archive, closeArchive, err := storage.Open(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeArchive(); cerr != nil {
			logger.Warn("archive close failed", zap.Error(cerr))
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		OnDelay:           promSink.ObserveRateLimitDelay,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Site.UserAgent,
		RespectRobots:  cfg.HTTP.RespectRobots,
		Timeout:        cfg.HTTP.Timeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: cfg.HTTP.BackoffInitial(),
		BackoffMax:     cfg.HTTP.BackoffMax(),
		Limiter:        limiter,
	})
	extractor := extract.New(extract.Config{
		BodyContainer: cfg.Extract.BodyContainer,
		Section:       cfg.Extract.Section,
	})
	runner := pipeline.New(pipeline.Config{
		Concurrency: cfg.Crawler.Concurrency,
		QueueDepth:  cfg.Crawler.QueueDepth,
		Logger:      logger.Named("pipeline"),
	})

	started.Store(true)
	logger.Info("crawl started", zap.Int("collections", len(colls)), zap.String("sink", cfg.Sink.Kind))

	var errs []error
	for _, coll := range colls {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("collection %s: %w", coll.Name, ctx.Err()))
			break
		}
		reporter := progress.NewReporter(hub, runID, coll.Name)
		summary, err := crawlCollection(ctx, cfg, coll, collectionDeps{
			limiter:   limiter,
			fetcher:   fetcher,
			extractor: extractor,
			archive:   archive,
			runner:    runner,
			reporter:  reporter,
			logger:    logger,
		})
		if err != nil {
			logger.Error("collection failed", zap.String("collection", coll.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Info("collection finished",
			zap.String("collection", summary.Collection),
			zap.Int64("discovered", summary.Discovered),
			zap.Int64("excluded", summary.Excluded),
			zap.Int64("written", summary.Written),
			zap.Int64("duplicates", summary.Duplicates),
			zap.Int64("skipped", summary.Skipped),
			zap.Bool("partial", summary.Partial),
			zap.Duration("duration", summary.Duration),
		)
	}
	return errors.Join(errs...)
}

// openRunRepository returns the store backing run progress and the ops API.
func openRunRepository(ctx context.Context, cfg config.ProgressConfig) (store.RunRepository, func(), error) {
	if cfg.Store != config.ProgressPostgres {
		return memory.NewRunStore(), func() {}, nil
	}
	runs, err := postgres.NewRunStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open progress store: %w", err)
	}
	return runs, runs.Close, nil
}

type collectionDeps struct {
	limiter   *ratelimit.Limiter
	fetcher   crawler.Fetcher
	extractor *extract.Extractor
	archive   crawler.BlobStore
	runner    *pipeline.Runner
	reporter  *progress.Reporter
	logger    *zap.Logger
}

func crawlCollection(
	ctx context.Context,
	cfg config.Config,
	coll crawler.Collection,
	deps collectionDeps,
) (pipeline.Summary, error) {
	logger := deps.logger.With(zap.String("collection", coll.Name))

	client, err := index.NewClient(cfg.Site.BaseURL, coll.APIPath, index.Options{
		Timeout:   cfg.HTTP.Timeout(),
		UserAgent: cfg.Site.UserAgent,
		Limiter:   deps.limiter,
	})
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("collection %s: %w", coll.Name, err)
	}
	walker, err := index.NewWalker(client, coll, index.WalkerConfig{
		FailFast: cfg.Crawler.IndexFailFast,
		Logger:   logger.Named("index"),
		Emitter:  deps.reporter,
	})
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("collection %s: %w", coll.Name, err)
	}
	res := resolver.New(deps.fetcher, deps.extractor, deps.archive, deps.reporter, resolver.Config{
		SiteRoot:      cfg.Site.BaseURL,
		ArchivePrefix: cfg.Archive.Prefix,
		ContentType:   cfg.Archive.ContentType,
	}, logger.Named("resolver"))

	out, err := sink.Open(ctx, cfg.Sink, coll)
	if err != nil {
		return pipeline.Summary{}, err
	}
	return deps.runner.Run(ctx, coll, walker, res, out, deps.reporter)
}
