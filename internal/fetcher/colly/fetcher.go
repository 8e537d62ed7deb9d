// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
	"github.com/JakeFAU/danfs-crawler/internal/policy/ratelimit"
)

var tracer = otel.Tracer("danfs-crawler/internal/fetcher/colly")

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxRetries is the number of extra attempts after a network error or a
	// 5xx/429 response. Zero disables retries.
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Limiter paces requests per host; nil disables pacing.
	Limiter *ratelimit.Limiter
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Non-2xx responses are returned as pages, so callers
// decide what a 404 means.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.ParseHTTPErrorResponse = true
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch performs a GET of rawURL, retrying transient failures when
// configured. The returned page carries whatever status the server sent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	ctx, span := tracer.Start(ctx, "fetcher.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("http.url", rawURL))

	page, err := f.fetchWithRetry(ctx, rawURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return crawler.Page{}, err
	}
	span.SetAttributes(
		attribute.Int("http.status_code", page.StatusCode),
		attribute.Int("http.response_size", len(page.Body)),
	)
	return page, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (crawler.Page, error) {
	if err := f.cfg.Limiter.Wait(ctx, rawURL); err != nil {
		return crawler.Page{}, fmt.Errorf("rate limit wait: %w", err)
	}
	var (
		result   crawler.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	// Bind the request to ctx so a cancel aborts the in-flight GET.
	collector.Context = ctx
	configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	return result, nil
}

func configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.Page,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		page := crawler.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Headers != nil {
			page.Headers = r.Headers.Clone()
		}
		*result = page
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
