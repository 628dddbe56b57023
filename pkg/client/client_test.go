package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramesh/facilitator/pkg/fault"
)

func newTestClient(t *testing.T, handler http.Handler, cfg Config) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	c := New(cfg)
	t.Cleanup(c.Close)
	return c
}

func TestRetryOn429HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"session":{"session_id":"s-1"}}`))
	})
	c := newTestClient(t, handler, Config{})

	start := time.Now()
	s, err := c.GetSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", s.ID)
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := newTestClient(t, handler, Config{MaxRetries: 2})

	_, err := c.GetSession(context.Background(), "s-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrMaxRetriesExceeded)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet500ReturnsImmediately(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, handler, Config{})

	_, err := c.GetSession(context.Background(), "s-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrNetwork)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPost500Retries(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	c := newTestClient(t, handler, Config{MaxRetries: 2})

	require.NoError(t, c.PauseSession(context.Background(), "s-1"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDomainErrorsDecodeToFaults(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"session budget exceeded","kind":"conflict"}`))
	})
	c := newTestClient(t, handler, Config{})

	_, _, err := c.AdmitRequest(context.Background(), "s-1", 100, "")
	require.Error(t, err)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
	assert.Contains(t, err.Error(), "budget exceeded")
}

func TestGetCache(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"session":{"session_id":"s-1"}}`))
	})
	c := newTestClient(t, handler, Config{CacheTTL: time.Minute})

	for range 3 {
		s, err := c.GetSession(context.Background(), "s-1")
		require.NoError(t, err)
		assert.Equal(t, "s-1", s.ID)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestWriteInvalidatesCachedReads(t *testing.T) {
	var gets atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"session":{"session_id":"s-1"}}`))
	})
	c := newTestClient(t, handler, Config{CacheTTL: time.Minute})

	_, err := c.GetSession(context.Background(), "s-1")
	require.NoError(t, err)
	_, err = c.GetSession(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, int32(1), gets.Load())

	// A write to the sessions collection drops the cached read.
	require.NoError(t, c.PauseSession(context.Background(), "s-1"))

	_, err = c.GetSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), gets.Load())
}

func TestRetriesAbortOnCancellation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := newTestClient(t, handler, Config{RetryDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.GetSession(ctx, "s-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAttemptTimeoutIsRetryable(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	c := newTestClient(t, handler, Config{AttemptTimeout: 50 * time.Millisecond})

	require.NoError(t, c.PauseSession(context.Background(), "s-1"))
	assert.Equal(t, int32(2), calls.Load())
}
