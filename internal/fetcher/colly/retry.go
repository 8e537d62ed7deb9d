package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

const (
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 10 * time.Second
)

// retryableStatus reports whether a response status is worth another attempt.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (f *Fetcher) backoffPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.BackoffInitial
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultBackoffInitial
	}
	b.MaxInterval = f.cfg.BackoffMax
	if b.MaxInterval <= 0 {
		b.MaxInterval = defaultBackoffMax
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.cfg.MaxRetries)), ctx)
}

// fetchWithRetry retries network errors and retryable statuses. When every
// attempt ends in a retryable status, the last page is returned without error.
func (f *Fetcher) fetchWithRetry(ctx context.Context, rawURL string) (crawler.Page, error) {
	if f.cfg.MaxRetries <= 0 {
		return f.fetchOnce(ctx, rawURL)
	}

	var last crawler.Page
	op := func() error {
		last = crawler.Page{}
		page, err := f.fetchOnce(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		last = page
		if retryableStatus(page.StatusCode) {
			return fmt.Errorf("retryable status %d", page.StatusCode)
		}
		return nil
	}

	err := backoff.Retry(op, f.backoffPolicy(ctx))
	if err == nil {
		return last, nil
	}
	if last.StatusCode != 0 && ctx.Err() == nil {
		return last, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return crawler.Page{}, fmt.Errorf("fetch %s: %w", rawURL, errors.Join(err, ctxErr))
	}
	return crawler.Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
}
