package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	cfg.CleanupInterval = 0
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg)
	l.now = clock.Now
	t.Cleanup(l.Stop)
	return l, clock
}

func TestTokenBucket_BurstAndRefill(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket := newTokenBucket(3, 1.0, start)

	for i := 0; i < 3; i++ {
		assert.True(t, bucket.take(start), "request %d", i+1)
	}
	assert.False(t, bucket.take(start))
	assert.Equal(t, time.Second, bucket.retryAfter())

	assert.True(t, bucket.take(start.Add(time.Second)))
	assert.False(t, bucket.take(start.Add(time.Second)))

	remaining, reset := bucket.status(start.Add(time.Second))
	assert.Equal(t, 0, remaining)
	assert.Equal(t, start.Add(4*time.Second), reset)
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket := newTokenBucket(2, 10.0, start)

	remaining, reset := bucket.status(start.Add(time.Hour))
	assert.Equal(t, 2, remaining)
	assert.Equal(t, start.Add(time.Hour), reset)
}

func TestLimiter_GenerationRoutesShareBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndpointConfigs = []EndpointConfig{
		{Path: "/sessions/*/run", Method: "POST", Limit: 2, Window: time.Hour, Burst: 2},
	}
	l, _ := newTestLimiter(t, cfg)

	ok, info := l.Allow("10.0.0.1", "/sessions/aaa/run", "POST")
	require.True(t, ok)
	assert.Equal(t, 2, info.Limit)
	assert.Equal(t, 1, info.Remaining)

	ok, _ = l.Allow("10.0.0.1", "/sessions/bbb/run", "POST")
	require.True(t, ok)

	ok, info = l.Allow("10.0.0.1", "/sessions/ccc/run", "POST")
	assert.False(t, ok, "a new session id must not reset the budget")
	assert.Greater(t, info.RetryAfter, time.Duration(0))

	ok, _ = l.Allow("10.0.0.2", "/sessions/aaa/run", "POST")
	assert.True(t, ok, "clients are metered separately")
}

func TestLimiter_Refills(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndpointConfigs = []EndpointConfig{{Path: "/captions", Method: "POST", Limit: 60, Window: time.Minute, Burst: 1}}
	l, clock := newTestLimiter(t, cfg)

	ok, _ := l.Allow("c", "/captions", "POST")
	require.True(t, ok)
	ok, _ = l.Allow("c", "/captions", "POST")
	require.False(t, ok)

	clock.Advance(time.Second)
	ok, _ = l.Allow("c", "/captions", "POST")
	assert.True(t, ok)
}

func TestLimiter_DefaultLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimit = 3
	cfg.EndpointConfigs = nil
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("c", fmt.Sprintf("/stages?i=%d", i), "GET")
		require.True(t, ok)
	}
	ok, _ := l.Allow("c", "/artifacts/mem/x/y", "GET")
	assert.False(t, ok)
}

func TestLimiter_HealthIsUnlimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimit = 1
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 10; i++ {
		ok, _ := l.Allow("c", "/health", "GET")
		require.True(t, ok)
	}
}

func TestLimiter_Lists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimit = 1
	cfg.Whitelist = map[string]bool{"trusted": true}
	cfg.Blacklist = map[string]bool{"banned": true}
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("trusted", "/stages", "GET")
		assert.True(t, ok)
	}
	ok, _ := l.Allow("banned", "/health", "GET")
	assert.False(t, ok)
}

func TestLimiter_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.DefaultLimit = 1
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("c", "/batches", "POST")
		assert.True(t, ok)
	}
}

func TestLimiter_SweepRemovesIdleBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Minute
	l, clock := newTestLimiter(t, cfg)

	l.Allow("a", "/stages", "GET")
	clock.Advance(30 * time.Second)
	l.Allow("b", "/stages", "GET")
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, l.sweep())
	assert.Len(t, l.entries, 1)
}

func TestLimiter_Concurrent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimit = 50
	l, _ := newTestLimiter(t, cfg)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("c", "/stages", "GET"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"POST", "/batches", "/batches"},
		{"POST", "/batches/123/jobs/2/retry", "/batches/*/jobs/*/retry"},
		{"POST", "/batches/123/cancel", "/batches/"},
		{"GET", "/batches/123", "/batches/"},
		{"POST", "/sessions", "/sessions"},
		{"POST", "/sessions/abc/run", "/sessions/*/run"},
		{"POST", "/sessions/abc/skip", "/sessions/"},
		{"DELETE", "/sessions/abc", "/sessions/"},
		{"POST", "/captions", "/captions"},
		{"GET", "/health", "/health"},
		{"GET", "/stages", ""},
		{"GET", "/sessions", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Path)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "42")
	t.Setenv("RATE_LIMIT_DEFAULT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, ,10.0.0.2")
	t.Setenv("RATE_LIMIT_BLACKLIST", "")
	t.Setenv("RATE_LIMIT_GENERATION_LIMIT", "7")

	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 42, cfg.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultWindow)
	assert.Equal(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true}, cfg.Whitelist)
	assert.Empty(t, cfg.Blacklist)

	rule := MatchEndpoint("/batches", "POST", cfg.EndpointConfigs)
	require.NotNil(t, rule)
	assert.Equal(t, 7, rule.Limit)
}

func TestLoadConfig_Disabled(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	assert.False(t, LoadConfig().Enabled)
}
