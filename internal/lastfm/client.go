// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package lastfm implements the Last.fm API client used by the ingest and
// candidate-generation stages.
//
// Resilience mechanisms:
//   - Rate limiting: client-side token bucket (default 5 req/s, the
//     documented Last.fm courtesy limit)
//   - Retries: capped exponential backoff with jitter on transport errors,
//     HTTP 429 and 5xx responses
//   - Circuit breaker: see Breaker, which wraps every call
//
// API errors arrive as JSON bodies with an error code; code 6 ("not found")
// is normalized to an empty result by the operations that look up entities
// by name, since user libraries routinely contain misspelled artists.
package lastfm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/metrics"
)

// maxErrorBodySize limits how much of a response body is read for error
// reporting.
const maxErrorBodySize = 64 * 1024

// maxRetryDelay caps the exponential backoff between attempts.
const maxRetryDelay = 60 * time.Second

// codeNotFound is the Last.fm API error code for an unknown entity.
const codeNotFound = 6

// APIError is a structured error returned by the Last.fm API body.
type APIError struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lastfm api error %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is the API's "entity not found" error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeNotFound
}

// Client is the low-level Last.fm API client. Use NewBreaker to add circuit
// breaker protection; pipeline code should depend on the API interface, not
// on this type.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	limiter        *rate.Limiter
	retryAttempts  int
	retryBaseDelay time.Duration
}

// NewClient creates a Last.fm client from configuration.
func NewClient(cfg *config.LastFMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		retryAttempts:  attempts,
		retryBaseDelay: baseDelay,
	}
}

// get performs one API method call with rate limiting and retries, decoding
// the JSON body into target.
func (c *Client) get(ctx context.Context, method string, params url.Values, target any) error {
	start := time.Now()
	err := c.getWithRetry(ctx, method, params, target)
	metrics.UpstreamRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.UpstreamRequests.WithLabelValues(method, "success").Inc()
	case IsNotFound(err):
		metrics.UpstreamRequests.WithLabelValues(method, "not_found").Inc()
	default:
		metrics.UpstreamRequests.WithLabelValues(method, "error").Inc()
	}
	return err
}

func (c *Client) getWithRetry(ctx context.Context, method string, params url.Values, target any) error {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			metrics.UpstreamRetries.WithLabelValues(method).Inc()
			if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
				return err
			}
		}

		retryable, err := c.doOnce(ctx, method, params, target)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		logging.Warn().Err(err).Str("method", method).Int("attempt", attempt+1).
			Msg("Last.fm request failed, will retry")
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, c.retryAttempts, lastErr)
}

// doOnce performs a single HTTP round trip. The bool reports whether the
// failure is worth retrying.
func (c *Client) doOnce(ctx context.Context, method string, params url.Values, target any) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("method", method)
	q.Set("api_key", c.apiKey)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return true, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("failed to read response: %w", err)
	}

	// Error bodies can arrive with any HTTP status, including 200.
	var probe APIError
	if err := json.Unmarshal(body, &probe); err == nil && probe.Code != 0 {
		return false, &probe
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body[:min(len(body), maxErrorBodySize)]))
	}

	if err := json.Unmarshal(body, target); err != nil {
		return false, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return false, nil
}

// backoff returns the delay before the given attempt: base * 2^(attempt-1),
// capped, with up to 25% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryBaseDelay << (attempt - 1)
	if d > maxRetryDelay || d <= 0 {
		d = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
