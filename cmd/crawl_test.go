package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/danfs-crawler/internal/config"
	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

const rollupPath = "/research/histories/ship-histories/confederate_ships/jcr:content.rollup.json"

// rollupSite serves a secondary collection with one non-empty range of two
// ships and one empty range.
func rollupSite() http.Handler {
	page := func(text string) string {
		return `<html><body><div class="bodyContainer"><div class="text parbase section"><p>` +
			text + `</p></div></div></body></html>`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == rollupPath && r.URL.Query().Get("offset") == "":
			_, _ = w.Write([]byte(`{"ranges":[{"offset":0,"limit":2},{"offset":2,"limit":2,"isEmpty":"true"}]}`))
		case r.URL.Path == rollupPath:
			_, _ = w.Write([]byte(`{"pages":[` +
				`{"path":"/research/histories/ship-histories/confederate_ships/alabama","title":"Alabama"},` +
				`{"path":"/research/histories/ship-histories/confederate_ships/florida","title":"Florida","subtitle":"Cruiser"}` +
				`]}`))
		case strings.HasSuffix(r.URL.Path, "/alabama.html"):
			_, _ = w.Write([]byte(page("Commerce raider.")))
		case strings.HasSuffix(r.URL.Path, "/florida.html"):
			_, _ = w.Write([]byte(page("Built at Liverpool.")))
		default:
			http.NotFound(w, r)
		}
	})
}

func testConfig(t *testing.T, siteURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Site.BaseURL = siteURL
	cfg.Sink.Kind = config.SinkJSON
	cfg.Sink.JSON.Dir = t.TempDir()
	cfg.Crawler.Concurrency = 2
	return cfg
}

func readRecords(t *testing.T, path string) []crawler.EntityRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []crawler.EntityRecord
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestRunCrawlWritesJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(rollupSite())
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	cfg.Server.Enabled = true
	cfg.Server.Addr = "127.0.0.1:0"

	colls, err := cfg.SelectCollections([]string{"confederate"})
	require.NoError(t, err)
	require.NoError(t, runCrawl(context.Background(), cfg, colls, zap.NewNop()))

	records := readRecords(t, filepath.Join(cfg.Sink.JSON.Dir, "confederate.json"))
	require.Len(t, records, 2)
	byID := map[string]crawler.EntityRecord{}
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	require.Equal(t, `<div class="text parbase section"><p>Commerce raider.</p></div>`, byID["alabama"].Body)
	require.Equal(t, "Cruiser", byID["florida"].Subtitle)
	require.Equal(t, srv.URL+"/research/histories/ship-histories/confederate_ships/florida.html", byID["florida"].URL)
}

func TestRunCrawlReportsSinkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(rollupSite())
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Sink.JSON.Dir = blocker

	colls, err := cfg.SelectCollections([]string{"confederate"})
	require.NoError(t, err)
	err = runCrawl(context.Background(), cfg, colls, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "open json sink for confederate")
}

func TestRunCrawlStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(rollupSite())
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	colls, err := cfg.SelectCollections(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = runCrawl(ctx, cfg, colls, zap.NewNop())
	require.ErrorIs(t, err, context.Canceled)
}

func TestApplyCrawlFlags(t *testing.T) {
	t.Parallel()

	cmd := newCrawlCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--concurrency", "1", "--reset"}))
	cfg := testConfig(t, "http://example.test")

	got, err := applyCrawlFlags(cfg, cmd, crawlFlags{sink: config.SinkMemory, concurrency: 1, reset: true})
	require.NoError(t, err)
	require.Equal(t, config.SinkMemory, got.Sink.Kind)
	require.Equal(t, 1, got.Crawler.Concurrency)
	require.True(t, got.Sink.Reset)
	require.False(t, got.Server.Enabled)

	_, err = applyCrawlFlags(cfg, cmd, crawlFlags{sink: "carrier-pigeon"})
	require.Error(t, err)
}

func TestRootCommandRunsCrawl(t *testing.T) {
	srv := httptest.NewServer(rollupSite())
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	original := loadApp
	t.Cleanup(func() { loadApp = original })
	loadApp = func(context.Context, string) (*app, error) {
		return &app{cfg: cfg, logger: zap.NewNop()}, nil
	}

	root := newRootCmd()
	root.SetArgs([]string{"crawl", "--collection", "confederate", "--sink", "json"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Len(t, readRecords(t, filepath.Join(cfg.Sink.JSON.Dir, "confederate.json")), 2)

	root = newRootCmd()
	root.SetArgs([]string{"crawl", "--collection", "atlantis"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown collection")
}
