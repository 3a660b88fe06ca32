// Package politeness enforces robots.txt rules and per-host fetch intervals.
package politeness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/search"
)

const (
	robotsKeyPrefix    = "robots:"
	lastFetchKeyPrefix = "lastfetch:"
	maxRobotsBody      = 1 << 20
)

// Config controls the gate.
type Config struct {
	UserAgent     string
	MinInterval   time.Duration
	RobotsTTL     time.Duration
	RobotsTimeout time.Duration
}

// Gate keeps all its state in the shared Cache so that crawl workers in
// separate processes see the same robots rules and fetch timestamps.
type Gate struct {
	cache  search.Cache
	clock  search.Clock
	client *http.Client
	cfg    Config
	group  singleflight.Group
	hostMu sync.Map
	logger *zap.Logger
}

// New builds a Gate.
func New(cache search.Cache, clock search.Clock, cfg Config, logger *zap.Logger) *Gate {
	if cfg.RobotsTimeout <= 0 {
		cfg.RobotsTimeout = 5 * time.Second
	}
	if cfg.RobotsTTL <= 0 {
		cfg.RobotsTTL = time.Hour
	}
	return &Gate{
		cache:  cache,
		clock:  clock,
		client: &http.Client{Timeout: cfg.RobotsTimeout},
		cfg:    cfg,
		logger: logger,
	}
}

// Allowed reports whether the crawler's user agent may fetch rawURL according
// to the host's robots.txt. Missing or unfetchable robots files allow
// everything and are cached for the full TTL so unreachable hosts are not
// probed on every URL.
func (g *Gate) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url for robots check: %w", err)
	}
	host := strings.ToLower(parsed.Host)

	body, err := g.robotsBody(ctx, host)
	if err != nil {
		return false, err
	}
	data, err := robotstxt.FromBytes([]byte(body))
	if err != nil {
		g.logger.Warn("robots parse failed; allowing", zap.String("host", host), zap.Error(err))
		return true, nil
	}
	group := data.FindGroup(g.cfg.UserAgent)
	if group == nil {
		return true, nil
	}
	p := parsed.Path
	if p == "" {
		p = "/"
	}
	return group.Test(p), nil
}

func (g *Gate) robotsBody(ctx context.Context, host string) (string, error) {
	key := robotsKeyPrefix + host
	if body, err := g.cache.Get(ctx, key); err == nil {
		return body, nil
	} else if !errors.Is(err, search.ErrCacheMiss) {
		return "", fmt.Errorf("robots cache get: %w", err)
	}

	// Collapse concurrent misses for the same host into one fetch.
	v, err, _ := g.group.Do(host, func() (any, error) {
		body := g.fetchRobots(ctx, host)
		if err := g.cache.Set(ctx, key, body, g.cfg.RobotsTTL); err != nil {
			return "", fmt.Errorf("robots cache set: %w", err)
		}
		return body, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetchRobots returns the robots.txt body, or the empty allow-all sentinel on
// any failure or non-2xx status.
func (g *Gate) fetchRobots(ctx context.Context, host string) string {
	robotsURL := "https://" + host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		metrics.ObserveRobotsFailure()
		return ""
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("robots fetch failed; caching allow-all", zap.String("host", host), zap.Error(err))
		metrics.ObserveRobotsFailure()
		return ""
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		metrics.ObserveRobotsFailure()
		return ""
	}
	return string(body)
}

// Throttle returns true and records the fetch timestamp when enough time has
// passed since the last fetch from host; otherwise false and the caller must
// skip. The read-compare-write runs under a per-host mutex so two concurrent
// workers cannot both pass inside one interval.
func (g *Gate) Throttle(ctx context.Context, host string) (bool, error) {
	host = strings.ToLower(host)
	muAny, _ := g.hostMu.LoadOrStore(host, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	key := lastFetchKeyPrefix + host
	now := g.clock.Now()
	last, err := g.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, search.ErrCacheMiss) {
		return false, fmt.Errorf("last-fetch cache get: %w", err)
	}
	if err == nil {
		nanos, perr := strconv.ParseInt(last, 10, 64)
		if perr == nil && now.Sub(time.Unix(0, nanos)) < g.cfg.MinInterval {
			return false, nil
		}
	}
	ttl := 2 * g.cfg.MinInterval
	if err := g.cache.Set(ctx, key, strconv.FormatInt(now.UnixNano(), 10), ttl); err != nil {
		return false, fmt.Errorf("last-fetch cache set: %w", err)
	}
	return true, nil
}
