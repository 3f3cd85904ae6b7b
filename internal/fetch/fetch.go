// Package fetch is the HTTP side of the pipeline: building the per-city
// dataset URLs and downloading them with retries, pacing, and an optional
// in-process response cache.
//
// The open-data endpoints throttle aggressively, so requests pace through a
// shared rate limiter (one request per second by default) and retries back
// off exponentially, honoring Retry-After. Client errors other than 429 fail
// fast: a 404 here means a misconfigured fragment, not a transient fault.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"presale/internal/config"
	"presale/internal/metrics"
)

// Target is one resolved dataset URL with its display name.
type Target struct {
	Name string
	URL  string
}

// BuildURLs combines the base URL with each fragment suffix, keeping the
// configured order. Suffixes append verbatim.
func BuildURLs(baseURL string, fragments []config.Fragment) []Target {
	targets := make([]Target, 0, len(fragments))
	for _, f := range fragments {
		targets = append(targets, Target{Name: f.Name, URL: baseURL + f.Suffix})
	}
	return targets
}

// Client defaults, applied for zero-valued config fields.
const (
	DefaultTimeout     = 60 * time.Second
	DefaultAttempts    = 5
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 60 * time.Second
	DefaultRate        = 1.0
	DefaultUserAgent   = "presale-pipeline/1.0"
)

// StatusError reports a response with a non-success status. The body
// snippet is capped so error logs stay readable.
type StatusError struct {
	URL     string
	Status  int
	Snippet string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d: %s", e.URL, e.Status, e.Snippet)
}

// Client downloads dataset payloads.
//
// All fetches share one rate limiter, so retries and successive fragments
// pace uniformly. When a cache TTL is configured, successful payloads are
// returned from memory on repeat fetches of the same URL within the TTL;
// callers must treat returned slices as read-only.
type Client struct {
	httpClient *http.Client
	userAgent  string
	attempts   int
	base       time.Duration
	max        time.Duration
	limiter    *rate.Limiter
	cache      *gocache.Cache
	job        string
}

// New builds a Client for the given metrics job name. Zero values in cfg
// take the package defaults; a zero cache TTL disables caching.
func New(job string, cfg config.Fetch) *Client {
	timeout := DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	attempts := DefaultAttempts
	if cfg.Attempts > 0 {
		attempts = cfg.Attempts
	}
	base := DefaultBaseBackoff
	if cfg.BackoffMillis > 0 {
		base = time.Duration(cfg.BackoffMillis) * time.Millisecond
	}
	maxBackoff := DefaultMaxBackoff
	if cfg.MaxBackoffMS > 0 {
		maxBackoff = time.Duration(cfg.MaxBackoffMS) * time.Millisecond
	}
	rps := DefaultRate
	if cfg.RatePerSecond > 0 {
		rps = cfg.RatePerSecond
	}
	burst := 1
	if cfg.Burst > 0 {
		burst = cfg.Burst
	}
	ua := DefaultUserAgent
	if cfg.UserAgent != "" {
		ua = cfg.UserAgent
	}

	var cache *gocache.Cache
	if cfg.CacheTTLSecs > 0 {
		ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
		cache = gocache.New(ttl, ttl)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 64,
			},
		},
		userAgent: ua,
		attempts:  attempts,
		base:      base,
		max:       maxBackoff,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		cache:     cache,
		job:       job,
	}
}

// Fetch downloads url and returns the response body.
//
// Transient failures (transport errors, 429, 5xx) retry up to the attempt
// budget with exponential backoff; other 4xx statuses return a *StatusError
// immediately. Every attempt records an HTTP metric.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(url); ok {
			return v.([]byte), nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, res, err := c.do(ctx, url)
		metrics.RecordHTTP(c.job, res.status, err, res.reqDur, res.respDur, res.bytes)

		if err == nil {
			if c.cache != nil {
				c.cache.SetDefault(url, body)
			}
			return body, nil
		}
		lastErr = err

		if !retryable(res.status) || attempt == c.attempts {
			return nil, lastErr
		}
		if !sleepContext(ctx, retryDelay(res.status, res.retryAfter, attempt, c.base, c.max)) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// attemptResult carries the measurements of one attempt. Durations and
// bytes are -1 when the request never got that far.
type attemptResult struct {
	status     int
	reqDur     time.Duration
	respDur    time.Duration
	bytes      int64
	retryAfter time.Duration
}

func (c *Client) do(ctx context.Context, url string) ([]byte, attemptResult, error) {
	res := attemptResult{reqDur: -1, respDur: -1, bytes: -1}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, res, fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, res, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	res.reqDur = time.Since(start)
	res.status = resp.StatusCode

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		res.respDur = time.Since(start)
		res.bytes = int64(len(body))
		if err != nil {
			return nil, res, fmt.Errorf("fetch %s: read body: %w", url, err)
		}
		return body, res, nil
	}

	// Non-2xx: keep a snippet for the error, drain the rest so the
	// connection can be reused.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	n, _ := io.Copy(io.Discard, resp.Body)
	res.respDur = time.Since(start)
	res.bytes = int64(len(snippet)) + n
	res.retryAfter = parseRetryAfter(resp.Header)

	return nil, res, &StatusError{
		URL:     url,
		Status:  resp.StatusCode,
		Snippet: strings.TrimSpace(string(snippet)),
	}
}

// retryable reports whether an attempt outcome is worth another try:
// transport errors (status 0), throttling, and server errors.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// retryDelay computes the wait before the next attempt: Retry-After when
// the server supplied one, otherwise exponential backoff clamped to max.
// Transport errors enforce a 10s floor to avoid tight reconnect loops.
func retryDelay(status int, retryAfter time.Duration, attempt int, base, max time.Duration) time.Duration {
	if status == http.StatusTooManyRequests && retryAfter > 0 {
		return retryAfter
	}
	d := base << uint(attempt-1)
	if d > max {
		d = max
	}
	if status == 0 && d < 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// IsNotFound reports whether err is a StatusError for 404, which in this
// pipeline means the fragment path is stale.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
