package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCache_LazyEviction(t *testing.T) {
	cache := newResponseCache(20 * time.Millisecond)
	cache.put("http://x/a", 200, []byte(`{}`))

	_, ok := cache.get("http://x/a")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	_, ok = cache.get("http://x/a")
	assert.False(t, ok)
	assert.Zero(t, cache.len())
}

func TestResponseCache_Sweep(t *testing.T) {
	cache := newResponseCache(20 * time.Millisecond)
	cache.put("http://x/a", 200, []byte(`{}`))
	cache.put("http://x/b", 200, []byte(`{}`))
	require.Equal(t, 2, cache.len())

	time.Sleep(30 * time.Millisecond)
	cache.sweep()
	assert.Zero(t, cache.len())
}

func TestResponseCache_SweepRoutine(t *testing.T) {
	cache := newResponseCache(10 * time.Millisecond)
	cache.startSweepRoutine(20 * time.Millisecond)
	defer cache.close()

	cache.put("http://x/a", 200, []byte(`{}`))

	assert.Eventually(t, func() bool {
		return cache.len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestResponseCache_InvalidatePrefix(t *testing.T) {
	cache := newResponseCache(time.Minute)
	cache.put("http://x/api/v1/sessions/a", 200, []byte(`{}`))
	cache.put("http://x/api/v1/sessions/b", 200, []byte(`{}`))
	cache.put("http://x/api/v1/escrows/multisig/c", 200, []byte(`{}`))

	cache.invalidatePrefix("http://x/api/v1/sessions")

	_, ok := cache.get("http://x/api/v1/sessions/a")
	assert.False(t, ok)
	_, ok = cache.get("http://x/api/v1/escrows/multisig/c")
	assert.True(t, ok)
}

func TestResourcePrefix(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/sessions/abc/pause", "/api/v1/sessions"},
		{"/api/v1/sessions", "/api/v1/sessions"},
		{"/api/v1/escrows/multisig/j1/approve", "/api/v1/escrows"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resourcePrefix(tt.path), tt.path)
	}
}
