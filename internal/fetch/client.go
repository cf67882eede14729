// Package fetch provides the rate-limited HTTP request executor shared by
// both platform clients. Every upstream call flows through Client.Do, which
// paces requests through a RateLimiter and retries transient upstream faults
// with exponential backoff.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/polylab/collector/internal/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultBackoff  = 1 * time.Second
	maxBackoff      = 30 * time.Second
	defaultAttempts = 5
)

// Request describes one upstream HTTP call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
}

// Client executes HTTP requests against a single upstream platform, pacing
// them through a rate limiter and classifying failures into the transient /
// permanent taxonomy. It is safe for concurrent use.
type Client struct {
	platform    domain.Platform
	limiter     domain.RateLimiter
	httpClient  *http.Client
	maxAttempts int
	baseBackoff time.Duration
}

// NewClient creates a Client for the given platform. limiter gates every
// outbound request; the per-platform ceiling lives inside it.
func NewClient(platform domain.Platform, limiter domain.RateLimiter) *Client {
	return &Client{
		platform: platform,
		limiter:  limiter,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxAttempts: defaultAttempts,
		baseBackoff: defaultBackoff,
	}
}

// Do executes the request and returns the response body. HTTP 429 and 5xx
// are retried with exponential backoff up to the attempt cap and surface as
// *domain.TransientFetchError on exhaustion; other 4xx fail immediately with
// *domain.PermanentFetchError.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var lastStatus int
	var lastBody string
	var lastErr error

	backoff := c.baseBackoff
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = min(backoff*2, maxBackoff)
		}

		if err := c.limiter.Wait(ctx, string(c.platform)); err != nil {
			return nil, fmt.Errorf("fetch: rate limit wait: %w", err)
		}

		body, status, err := c.once(ctx, req.Method, target)
		if err != nil {
			// Network-level failure: retryable unless the context is done.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastStatus, lastBody, lastErr = 0, "", err
			continue
		}

		switch {
		case status >= 200 && status < 300:
			return body, nil
		case status == http.StatusTooManyRequests || status >= 500:
			lastStatus, lastBody, lastErr = status, truncate(string(body)), nil
		default:
			return nil, &domain.PermanentFetchError{
				Platform:   c.platform,
				StatusCode: status,
				Body:       truncate(string(body)),
			}
		}
	}

	return nil, &domain.TransientFetchError{
		Platform:   c.platform,
		StatusCode: lastStatus,
		Body:       lastBody,
		Err:        lastErr,
	}
}

// once performs a single HTTP round trip.
func (c *Client) once(ctx context.Context, method, target string) ([]byte, int, error) {
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// sleep waits for d, honouring ctx cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncate caps error bodies so a misbehaving upstream can't flood the logs.
func truncate(s string) string {
	const limit = 512
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
