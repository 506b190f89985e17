// Package upstream provides the HTTP client and per-ecosystem registry
// clients the facades fetch through. All responses flow through the tiered
// cache with single-flight coalescing.
package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/semaphore"

	"github.com/xregistry/xrbridge/internal/api/common"
	"github.com/xregistry/xrbridge/internal/cache"
)

const (
	// MaxResponseSize caps an upstream response body (50MB); npm packuments
	// for heavyweight packages run to tens of megabytes.
	MaxResponseSize = 50 * 1024 * 1024

	userAgent = "xrbridge/1.0"
)

// DefaultTTL is used for upstream responses unless the caller overrides it.
const DefaultTTL = 5 * time.Minute

// Client fetches upstream JSON with a hard per-call timeout, bounded
// concurrency, and the tiered cache in front.
type Client struct {
	http    *http.Client
	cache   *cache.Manager
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewClient builds a client. timeout caps each upstream call; concurrency
// caps calls in flight across the owning facade.
func NewClient(mgr *cache.Manager, timeout time.Duration, concurrency int) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Client{
		// The per-request context carries the timeout so that coalesced
		// waiters observe cancellation correctly; no Client.Timeout here.
		http:    &http.Client{},
		cache:   mgr,
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(concurrency)),
	}
}

// FetchJSON returns the parsed JSON document at url, from cache when fresh.
func (c *Client) FetchJSON(ctx context.Context, url string, ttl time.Duration) (any, error) {
	return c.FetchJSONAccept(ctx, url, ttl, "application/json")
}

// FetchJSONAccept is FetchJSON with an explicit Accept header, for
// upstreams that negotiate JSON variants (the PyPI simple index).
func (c *Client) FetchJSONAccept(ctx context.Context, url string, ttl time.Duration, accept string) (any, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return c.cache.GetOrCompute(ctx, url, ttl, func(fctx context.Context) (any, error) {
		return c.fetch(fctx, url, accept)
	})
}

// fetch performs the outbound call. It runs under the flight context, so it
// is cancelled only when every coalesced waiter has gone away.
func (c *Client) fetch(ctx context.Context, url, accept string) (any, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	// Propagate trace metadata so upstream calls are attributable.
	meta := common.MetaFromContext(ctx)
	if meta.CorrelationID != "" {
		req.Header.Set(common.HeaderCorrelationID, meta.CorrelationID)
	}
	if meta.TraceID != "" {
		req.Header.Set(common.HeaderTraceID, meta.TraceID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewError(KindTimeout, url, 0, err)
		}
		return nil, NewError(KindUnavailable, url, 0, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, NewError(KindNotFound, url, resp.StatusCode, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewError(KindRateLimited, url, resp.StatusCode, nil)
	case resp.StatusCode >= 500:
		return nil, NewError(KindUnavailable, url, resp.StatusCode, nil)
	case resp.StatusCode != http.StatusOK:
		return nil, NewError(KindUnavailable, url, resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewError(KindTimeout, url, 0, err)
		}
		return nil, NewError(KindUnavailable, url, 0, err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, NewError(KindMalformed, url, resp.StatusCode, errors.Errorf("response exceeds %d bytes", MaxResponseSize))
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, NewError(KindMalformed, url, resp.StatusCode, err)
	}
	return v, nil
}

// Stats exposes the underlying cache statistics.
func (c *Client) Stats() cache.Stats {
	return c.cache.Stats()
}
