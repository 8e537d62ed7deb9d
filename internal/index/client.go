// Package index talks to the site's paginated JSON index API and walks it to
// discover the entity stubs of a collection.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
	"github.com/JakeFAU/danfs-crawler/internal/policy/ratelimit"
)

var tracer = otel.Tracer("danfs-crawler/internal/index")

// Index call names, also used as the Op of a crawler.IndexError.
const (
	OpGroupsList       = "groupsList"
	OpSubGroupsList    = "subGroupsList"
	OpSubGroupShipList = "subGroupShipList"
	OpRanges           = "ranges"
	OpPages            = "pages"
)

// Options tunes the underlying HTTP client.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// Limiter paces calls per host; nil disables pacing.
	Limiter *ratelimit.Limiter
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client issues typed calls against one collection's index endpoint. Every
// response is validated before it is returned; failures are
// *crawler.IndexError values.
type Client struct {
	http    *resty.Client
	apiURL  string
	limiter *ratelimit.Limiter
}

// NewClient builds a Client for the index endpoint at apiPath below siteRoot.
func NewClient(siteRoot, apiPath string, opts Options) (*Client, error) {
	apiURL, err := crawler.ResolveURL(siteRoot, apiPath)
	if err != nil {
		return nil, fmt.Errorf("index url: %w", err)
	}
	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	if opts.Timeout > 0 {
		rc.SetTimeout(opts.Timeout)
	}
	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}
	rc.SetHeader("Accept", "application/json")
	return &Client{http: rc, apiURL: apiURL, limiter: opts.Limiter}, nil
}

// URL returns the absolute index endpoint.
func (c *Client) URL() string {
	return c.apiURL
}

// Groups fetches the top-level groups list of a primary collection.
func (c *Client) Groups(ctx context.Context) ([]crawler.IndexGroup, error) {
	var payload groupsPayload
	reqURL, err := c.get(ctx, OpGroupsList, map[string]string{"get": OpGroupsList}, &payload)
	if err != nil {
		return nil, err
	}
	groups, err := payload.groups()
	if err != nil {
		return nil, crawler.SchemaMismatch(OpGroupsList, reqURL, err)
	}
	return groups, nil
}

// SubGroups fetches the character ranges of one group.
func (c *Client) SubGroups(ctx context.Context, group crawler.IndexGroup) ([]crawler.IndexSubgroup, error) {
	var payload subGroupsPayload
	params := map[string]string{"get": OpSubGroupsList, "first": group.Key}
	reqURL, err := c.get(ctx, OpSubGroupsList, params, &payload)
	if err != nil {
		return nil, err
	}
	subs, err := payload.subgroups(group)
	if err != nil {
		return nil, crawler.SchemaMismatch(OpSubGroupsList, reqURL, err)
	}
	return subs, nil
}

// SubGroupShips fetches the stubs of one subgroup. Callers must not invoke
// it for an empty subgroup.
func (c *Client) SubGroupShips(ctx context.Context, sub crawler.IndexSubgroup) ([]crawler.EntityStub, error) {
	var payload shipListPayload
	params := map[string]string{
		"get":    OpSubGroupShipList,
		"first":  sub.GroupKey,
		"second": sub.Range(),
	}
	reqURL, err := c.get(ctx, OpSubGroupShipList, params, &payload)
	if err != nil {
		return nil, err
	}
	out, err := stubs("DANFs", payload.DANFs)
	if err != nil {
		return nil, crawler.SchemaMismatch(OpSubGroupShipList, reqURL, err)
	}
	return out, nil
}

// Ranges fetches the letter ranges of a secondary collection.
func (c *Client) Ranges(ctx context.Context) ([]crawler.LetterRange, error) {
	var payload rangesPayload
	reqURL, err := c.get(ctx, OpRanges, nil, &payload)
	if err != nil {
		return nil, err
	}
	ranges, err := payload.ranges()
	if err != nil {
		return nil, crawler.SchemaMismatch(OpRanges, reqURL, err)
	}
	return ranges, nil
}

// Pages fetches the stubs of one letter range.
func (c *Client) Pages(ctx context.Context, r crawler.LetterRange) ([]crawler.EntityStub, error) {
	var payload pagesPayload
	params := map[string]string{
		"offset": strconv.Itoa(r.Offset),
		"limit":  strconv.Itoa(r.Limit),
	}
	reqURL, err := c.get(ctx, OpPages, params, &payload)
	if err != nil {
		return nil, err
	}
	out, err := stubs("pages", payload.Pages)
	if err != nil {
		return nil, crawler.SchemaMismatch(OpPages, reqURL, err)
	}
	return out, nil
}

// get performs one GET and decodes the body into dst. It returns the full
// request URL for diagnostics.
func (c *Client) get(ctx context.Context, op string, params map[string]string, dst any) (string, error) {
	ctx, span := tracer.Start(ctx, "index."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("index.op", op), attribute.String("index.url", c.apiURL))

	reqURL := c.apiURL
	fail := func(err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reqURL, err
	}

	if err := c.limiter.Wait(ctx, c.apiURL); err != nil {
		return fail(crawler.Unavailable(op, reqURL, 0, err))
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.apiURL)
	if resp != nil && resp.Request != nil && resp.Request.RawRequest != nil {
		reqURL = resp.Request.RawRequest.URL.String()
	}
	if err != nil {
		return fail(crawler.Unavailable(op, reqURL, 0, err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if !resp.IsSuccess() {
		return fail(crawler.Unavailable(op, reqURL, resp.StatusCode(), nil))
	}
	if err := json.Unmarshal(resp.Body(), dst); err != nil {
		return fail(crawler.SchemaMismatch(op, reqURL, err))
	}
	return reqURL, nil
}
