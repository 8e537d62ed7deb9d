package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

func TestNewConfiguresCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true})
	assert.Equal(t, "coverage-agent", f.baseCollector.UserAgent)
	assert.False(t, f.baseCollector.IgnoreRobotsTxt)
	assert.True(t, f.baseCollector.ParseHTTPErrorResponse)
	assert.True(t, f.baseCollector.AllowURLRevisit)
	assert.Equal(t, defaultTimeout, f.cfg.Timeout)

	f = New(Config{})
	assert.True(t, f.baseCollector.IgnoreRobotsTxt)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var result crawler.Page
	var fetchErr error
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, time.Now(), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotFound,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/a.html")},
	})
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))
	assert.Equal(t, "https://example.com/a.html", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestFetchReturnsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "danfs-test", r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "danfs-test", Timeout: 5 * time.Second})
	page, err := f.Fetch(context.Background(), srv.URL+"/a.html")
	require.NoError(t, err)
	assert.True(t, page.OK())
	assert.Equal(t, srv.URL+"/a.html", page.URL)
	assert.Contains(t, string(page.Body), "ok")
	assert.Equal(t, "text/html", page.Headers.Get("Content-Type"))

	// The same URL can be fetched again.
	_, err = f.Fetch(context.Background(), srv.URL+"/a.html")
	require.NoError(t, err)
}

func TestFetchNotFoundIsAPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	f := New(Config{MaxRetries: 2, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	page, err := f.Fetch(context.Background(), srv.URL+"/missing.html")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, page.StatusCode)
	assert.False(t, page.OK())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "recovered")
	}))
	t.Cleanup(srv.Close)

	f := New(Config{MaxRetries: 3, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "recovered", string(page.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchReturnsLastRetryableStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{MaxRetries: 2, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, page.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchWithoutRetriesMakesOneAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	page, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, page.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), target)
	require.Error(t, err)
}

func TestFetchHonoursRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		_, _ = fmt.Fprint(w, "ok")
	}))
	t.Cleanup(srv.Close)

	f := New(Config{RespectRobots: true})
	_, err := f.Fetch(context.Background(), srv.URL+"/private/a.html")
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)

	page, err := f.Fetch(context.Background(), srv.URL+"/public/a.html")
	require.NoError(t, err)
	assert.True(t, page.OK())
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchCancelAbortsRequest(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(10 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: time.Minute}).Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("request was not aborted after cancel")
	}
}

func TestRetryableStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, retryableStatus(http.StatusTooManyRequests))
	assert.True(t, retryableStatus(http.StatusServiceUnavailable))
	assert.False(t, retryableStatus(http.StatusNotFound))
	assert.False(t, retryableStatus(http.StatusOK))
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
