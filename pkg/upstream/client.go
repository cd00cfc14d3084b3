// Package upstream implements the authenticated, retrying HTTP clients for
// the source-of-truth systems the catalog aggregates: the LMS courses API,
// the e-commerce products API, and the discovery programs/organizations
// APIs. All endpoints paginate with next-URL cursors.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig controls GET retry behavior. Transport errors, 5xx, and 429
// are retried with exponential backoff and jitter; other 4xx fail fast.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the ingestion pipeline defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Client is an authenticated JSON GET client shared by all upstream
// endpoints. A rate limiter caps the aggregate request rate so parallel
// loaders do not trip upstream throttling.
type Client struct {
	http    *http.Client
	tokens  *TokenSource
	retry   RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a client. tokens may be nil for unauthenticated
// upstreams (tests). requestsPerSecond <= 0 disables rate limiting.
func NewClient(httpClient *http.Client, tokens *TokenSource, retry RetryConfig, requestsPerSecond float64, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 200 * time.Millisecond
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 10 * time.Second
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, tokens: tokens, retry: retry, limiter: limiter, logger: logger}
}

// GetJSON fetches url with retries and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// GetBytes fetches url with retries and returns the raw body. Used for
// image downloads.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	retriedAuth := false
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, retryAfter, err := c.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		// A 401 invalidates the cached token; retry once with a fresh one
		// before giving up, since the token may simply have expired.
		if c.tokens != nil && !retriedAuth && isUnauthorized(err) {
			retriedAuth = true
			lastErr = err
			c.logger.Warn("upstream rejected token, retrying with a fresh one", "url", url)
			attempt--
			continue
		}
		if !IsTransient(err) {
			return nil, err
		}

		lastErr = err
		if attempt == c.retry.MaxAttempts {
			break
		}
		delay := c.backoff(attempt, retryAfter)
		c.logger.Warn("upstream request failed, retrying",
			"url", url, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("upstream: %s failed after %d attempts: %w", url, c.retry.MaxAttempts, lastErr)
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	// Drain fully so the transport can reuse the connection.
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, 0, readErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, 0, nil
	}
	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		c.tokens.Invalidate()
	}
	herr := &HTTPError{
		Method:     http.MethodGet,
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
	return nil, parseRetryAfter(resp), herr
}

func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := c.retry.BaseDelay << uint(attempt-1)
	if delay > c.retry.MaxDelay {
		delay = c.retry.MaxDelay
	}
	// Full jitter keeps synchronized loaders from hammering in lockstep.
	return time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
}
