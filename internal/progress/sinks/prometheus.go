package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/danfs-crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for collection runs, per-stage record counters and detail-page
// fetches.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	events        *prometheus.CounterVec
	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	rateLimitDelay *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danfs_collection_runs_started_total",
			Help: "Collection runs that have started.",
		}, []string{"collection"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danfs_collection_runs_completed_total",
			Help: "Collection runs completed partitioned by result.",
		}, []string{"collection", "result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "danfs_collection_runs_active",
			Help: "Collection runs currently crawling.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "danfs_collection_run_seconds",
			Help:    "Wall time per completed collection run.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}, []string{"collection", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danfs_progress_events_total",
			Help: "Per-record progress events partitioned by collection and stage.",
		}, []string{"collection", "stage"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danfs_fetch_requests_total",
			Help: "Detail-page fetches partitioned by collection and status class.",
		}, []string{"collection", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danfs_fetch_bytes_total",
			Help: "Detail-page bytes downloaded per collection.",
		}, []string{"collection"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "danfs_fetch_duration_seconds",
			Help:    "Detail-page fetch duration partitioned by collection and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"collection", "status_class"}),
		rateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "danfs_rate_limit_delay_seconds",
			Help:    "Time requests spent waiting on the per-host limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"host"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runRuntime,
		s.events,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.rateLimitDelay,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

// ObserveRateLimitDelay records a limiter wait. Its signature matches
// ratelimit.Config.OnDelay.
func (s *PrometheusSink) ObserveRateLimitDelay(host string, delay time.Duration) {
	s.rateLimitDelay.WithLabelValues(host).Observe(delay.Seconds())
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	collection := evt.Collection
	if collection == "" {
		collection = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt, collection)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt, collection)
	default:
		s.events.WithLabelValues(collection, string(evt.Stage)).Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event, collection string) {
	key := runKey{runID: evt.RunID, collection: collection}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(collection).Inc()
		if s.tracker.start(key) {
			s.runsActive.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(collection, "success").Inc()
		s.observeRuntime(evt, collection, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(collection, "error").Inc()
		s.observeRuntime(evt, collection, "error")
	}
	if s.tracker.complete(key) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, collection, result string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(collection, result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event, collection string) {
	statusClass := string(evt.Class())
	s.fetchRequests.WithLabelValues(collection, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(collection).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(collection, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runKey struct {
	runID      uuid.UUID
	collection string
}

type runTracker struct {
	mu     sync.Mutex
	active map[runKey]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{active: make(map[runKey]struct{})}
}

func (t *runTracker) start(key runKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[key]; ok {
		return false
	}
	t.active[key] = struct{}{}
	return true
}

func (t *runTracker) complete(key runKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[key]; !ok {
		return false
	}
	delete(t.active, key)
	return true
}
