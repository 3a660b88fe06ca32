package politeness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memorycache "github.com/akerley/webrank/internal/cache/memory"
	"github.com/akerley/webrank/internal/metrics"
)

func init() {
	metrics.Init()
}

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
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGate(cfg Config) (*Gate, *memorycache.Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := memorycache.New()
	if cfg.UserAgent == "" {
		cfg.UserAgent = "webrank-bot/0.1"
	}
	return New(cache, clock, cfg, zap.NewNop()), cache, clock
}

func TestAllowedEvaluatesCachedRules(t *testing.T) {
	t.Parallel()

	gate, cache, _ := newTestGate(Config{MinInterval: time.Second})
	ctx := context.Background()
	rules := "User-agent: *\nDisallow: /private"
	require.NoError(t, cache.Set(ctx, "robots:example.com", rules, time.Hour))

	allowed, err := gate.Allowed(ctx, "http://example.com/private/page")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = gate.Allowed(ctx, "http://example.com/public")
	require.NoError(t, err)
	require.True(t, allowed)

	// Empty sentinel means no robots.txt was found: allow everything.
	require.NoError(t, cache.Set(ctx, "robots:open.example", "", time.Hour))
	allowed, err = gate.Allowed(ctx, "http://open.example/anything")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestAllowedFetchesRobotsOnce(t *testing.T) {
	t.Parallel()

	var fetches int
	var mu sync.Mutex
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetches++
		mu.Unlock()
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /blocked"))
	}))
	defer srv.Close()

	gate, _, _ := newTestGate(Config{MinInterval: time.Second})
	gate.client = srv.Client()
	host := mustHost(t, srv.URL)
	ctx := context.Background()

	allowed, err := gate.Allowed(ctx, srv.URL+"/blocked/page")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = gate.Allowed(ctx, srv.URL+"/fine")
	require.NoError(t, err)
	require.True(t, allowed)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, fetches, "second check for %s must hit the cache", host)
}

func TestAllowedFailureCachesAllowAll(t *testing.T) {
	t.Parallel()

	gate, cache, _ := newTestGate(Config{
		MinInterval:   time.Second,
		RobotsTimeout: 200 * time.Millisecond,
	})
	ctx := context.Background()

	// No server listening on this host; the fetch fails and the empty
	// sentinel is cached with the full TTL.
	allowed, err := gate.Allowed(ctx, "http://127.0.0.1:1/page")
	require.NoError(t, err)
	require.True(t, allowed)

	body, err := cache.Get(ctx, "robots:127.0.0.1:1")
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestThrottleEnforcesInterval(t *testing.T) {
	t.Parallel()

	gate, _, clock := newTestGate(Config{MinInterval: time.Second})
	ctx := context.Background()

	ok, err := gate.Throttle(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gate.Throttle(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, ok)

	// Other hosts are not affected.
	ok, err = gate.Throttle(ctx, "other.org")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(1100 * time.Millisecond)
	ok, err = gate.Throttle(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestThrottleConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	gate, _, _ := newTestGate(Config{MinInterval: time.Minute})
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := gate.Throttle(ctx, "example.com")
			require.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent caller may pass within the interval")
}

func mustHost(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Host
}
