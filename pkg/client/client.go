// Package client provides a resilient HTTP client for the facilitator
// API: bounded retries with Retry-After handling and a TTL cache for
// idempotent reads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agoramesh/facilitator/pkg/fault"
)

const (
	defaultMaxRetries     = 2
	defaultRetryDelay     = time.Second
	defaultAttemptTimeout = 15 * time.Second
	defaultCacheTTL       = 30 * time.Second
	defaultSweepInterval  = time.Minute

	// maxRetryAfter caps how long a Retry-After header can make us wait.
	maxRetryAfter = 30 * time.Second
)

// Config configures the client.
type Config struct {
	// BaseURL is the facilitator's base URL, without a trailing slash.
	BaseURL string

	// APIKey is sent as a Bearer credential when set.
	APIKey string

	// HTTPClient overrides the underlying transport. Defaults to a
	// plain http.Client; per-attempt timeouts come from AttemptTimeout.
	HTTPClient *http.Client

	// MaxRetries is the number of retries after the first attempt.
	// Defaults to 2.
	MaxRetries int

	// RetryDelay is the backoff base; attempt n waits RetryDelay * n.
	// Defaults to 1s.
	RetryDelay time.Duration

	// AttemptTimeout bounds each attempt. Exceeding it counts as a
	// retryable failure. Defaults to 15s.
	AttemptTimeout time.Duration

	// CacheTTL is how long GET responses stay cached. Defaults to 30s.
	CacheTTL time.Duration

	// CacheSweepInterval is how often expired entries are swept.
	// Defaults to 1m.
	CacheSweepInterval time.Duration

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a facilitator API client with retry and read caching.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	maxRetries     int
	retryDelay     time.Duration
	attemptTimeout time.Duration

	cache *responseCache
	log   *slog.Logger
}

// New creates a client and starts its cache sweep routine. Call Close
// when done.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheSweepInterval <= 0 {
		cfg.CacheSweepInterval = defaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache := newResponseCache(cfg.CacheTTL)
	cache.startSweepRoutine(cfg.CacheSweepInterval)

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		httpClient:     cfg.HTTPClient,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		attemptTimeout: cfg.AttemptTimeout,
		cache:          cache,
		log:            cfg.Logger,
	}
}

// Close stops the cache sweep routine.
func (c *Client) Close() {
	c.cache.close()
}

// do performs one API call with the retry policy and decodes the success
// body into out. GETs are served from the cache when possible; writes
// bypass the cache and invalidate the mutated resource prefix.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	url := c.baseURL + path

	if method == http.MethodGet {
		if entry, ok := c.cache.get(url); ok {
			return decodeInto(entry.body, out)
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, c.backoff(lastErr, attempt)); err != nil {
				return err
			}
		}

		status, respBody, retryAfter, err := c.attempt(ctx, method, url, payload)
		if err != nil {
			// Network failures and attempt timeouts are retryable.
			lastErr = fmt.Errorf("%w: %v", fault.ErrNetwork, err)
			continue
		}

		switch {
		case status >= 200 && status < 300:
			if method == http.MethodGet {
				c.cache.put(url, status, respBody)
			} else {
				c.cache.invalidatePrefix(c.baseURL + resourcePrefix(path))
			}
			return decodeInto(respBody, out)

		case status == http.StatusTooManyRequests:
			lastErr = &retryAfterError{delay: retryAfter}

		case status >= 500:
			if method == http.MethodGet {
				// A failing GET means the service is likely
				// unreachable; retrying reads adds load without
				// information.
				return fmt.Errorf("%w: status %d", fault.ErrNetwork, status)
			}
			lastErr = fmt.Errorf("%w: status %d", fault.ErrNetwork, status)

		default:
			return decodeFault(status, respBody)
		}
	}

	return fmt.Errorf("%w after %d attempts: %v",
		fault.ErrMaxRetriesExceeded, c.maxRetries+1, lastErr)
}

// attempt performs one bounded HTTP attempt. The returned duration is the
// parsed Retry-After header, zero when absent.
func (c *Client) attempt(ctx context.Context, method, url string, payload []byte) (int, []byte, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reqBody)
	if err != nil {
		return 0, nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, err
	}
	return resp.StatusCode, respBody, retryAfterDelay(resp.Header.Get("Retry-After")), nil
}

// retryAfterError carries a server-directed backoff through the retry loop.
type retryAfterError struct {
	delay time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.delay)
}

// backoff picks the wait before retry attempt n: the server-directed
// Retry-After when present, else delay * attempt.
func (c *Client) backoff(lastErr error, attempt int) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.delay > 0 {
		return ra.delay
	}
	return c.retryDelay * time.Duration(attempt)
}

// wait blocks for d, aborting on context cancellation.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfterDelay parses a Retry-After value, either integer seconds or
// an HTTP-date, capped at maxRetryAfter.
func retryAfterDelay(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	var d time.Duration
	if seconds, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(raw); err == nil {
		d = time.Until(t)
	}

	if d <= 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

// resourcePrefix maps a request path to the collection prefix a write
// invalidates: "/api/v1/sessions/abc/pause" -> "/api/v1/sessions".
func resourcePrefix(path string) string {
	segments := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 4)
	if len(segments) < 3 {
		return path
	}
	return "/" + strings.Join(segments[:3], "/")
}

// decodeInto decodes a JSON body into out, skipping nil targets.
func decodeInto(body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeFault turns a 4xx error body into a kinded error so callers can
// branch on the failure class rather than the status text.
func decodeFault(status int, body []byte) error {
	var eb struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		kind := fault.Kind(eb.Kind)
		switch kind {
		case fault.KindValidation, fault.KindConflict, fault.KindNotFound, fault.KindTransient:
			return fault.New(kind, eb.Error)
		}
		return fault.New(fault.KindUnknown, eb.Error)
	}
	return fault.New(fault.KindUnknown, fmt.Sprintf("unexpected status %d", status))
}
