package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerStateTransitions(t *testing.T) {
	c := NewChecker()
	assert.Equal(t, "starting", c.State())
	assert.False(t, c.IsReady())

	c.SetReady()
	assert.Equal(t, "ready", c.State())
	assert.True(t, c.IsReady())

	c.SetDraining()
	assert.Equal(t, "draining", c.State())
	assert.False(t, c.IsReady())

	c.SetReady()
	assert.True(t, c.IsReady())
}

func TestLivenessAlwaysOK(t *testing.T) {
	c := NewChecker()

	for _, setup := range []func(){func() {}, c.SetReady, c.SetDraining} {
		setup()
		rec := httptest.NewRecorder()
		c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestReadinessFollowsState(t *testing.T) {
	c := NewChecker()
	handler := c.ReadinessHandler()

	probe := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
		return rec
	}

	assert.Equal(t, http.StatusServiceUnavailable, probe().Code)

	c.SetReady()
	rec := probe()
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)

	c.SetDraining()
	assert.Equal(t, http.StatusServiceUnavailable, probe().Code)
}

func TestReadinessRunsProbes(t *testing.T) {
	c := NewChecker()
	c.SetReady()

	var dbUp bool
	c.RegisterProbe("database", func(context.Context) error {
		if !dbUp {
			return errors.New("connection refused")
		}
		return nil
	})

	handler := c.ReadinessHandler()
	probe := func() (*httptest.ResponseRecorder, healthResponse) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
		var resp healthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return rec, resp
	}

	rec, resp := probe()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Failures["database"], "connection refused")

	dbUp = true
	rec, resp = probe()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Failures)
}

func TestCheckerConcurrentAccess(t *testing.T) {
	c := NewChecker()
	c.RegisterProbe("noop", func(context.Context) error { return nil })
	handler := c.ReadinessHandler()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				c.SetReady()
			} else {
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
			}
		}()
	}
	wg.Wait()

	assert.True(t, c.IsReady())
}
