package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/search"
)

// Config carries the ranking and caching knobs.
type Config struct {
	AuthorityScale      float64
	RecencyHalfLifeDays float64
	CacheTTL            time.Duration
	SnippetLength       int
	PageSize            int
}

// Processor answers search requests: parse, cache lookup, lexical search,
// signal fusion, snippets, cache store. Stateless per request apart from the
// shared cache and the suggestion counters.
type Processor struct {
	index  search.TextIndex
	cache  search.Cache
	clock  search.Clock
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	queryLog map[string]int64
}

// New constructs a Processor.
func New(index search.TextIndex, cache search.Cache, clock search.Clock, cfg Config, logger *zap.Logger) *Processor {
	if cfg.AuthorityScale <= 0 {
		cfg.AuthorityScale = 1000
	}
	if cfg.RecencyHalfLifeDays <= 0 {
		cfg.RecencyHalfLifeDays = 30
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = 200
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &Processor{
		index:    index,
		cache:    cache,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		queryLog: make(map[string]int64),
	}
}

// Search runs one query page. A backend failure surfaces as
// search.ErrSearchBackend and is never written to the cache.
func (p *Processor) Search(ctx context.Context, rawQuery string, page int) (search.SearchResponse, error) {
	start := p.clock.Now()
	defer func() { metrics.ObserveQuery(p.clock.Now().Sub(start)) }()

	if page < 1 {
		page = 1
	}
	normalized := strings.ToLower(strings.TrimSpace(rawQuery))
	parsed := Parse(normalized)
	if parsed.Empty() {
		return search.SearchResponse{Query: normalized, Page: page, Results: []search.SearchResult{}}, nil
	}

	key := cacheKey(normalized, page)
	if cached, err := p.cache.Get(ctx, key); err == nil {
		var resp search.SearchResponse
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			metrics.ObserveCacheLookup(true)
			resp.Cached = true
			return resp, nil
		}
		p.logger.Warn("discarding malformed cached response", zap.String("key", key), zap.Error(err))
	}
	metrics.ObserveCacheLookup(false)

	raw, err := p.index.Search(ctx, LexicalQuery(parsed), page, p.cfg.PageSize)
	if err != nil {
		return search.SearchResponse{}, fmt.Errorf("%w: %v", search.ErrSearchBackend, err)
	}

	now := p.clock.Now()
	results := make([]search.SearchResult, 0, len(raw.Hits))
	for _, hit := range raw.Hits {
		if !p.matchesFilters(hit, parsed) {
			continue
		}
		results = append(results, search.SearchResult{
			URL:       hit.URL,
			Title:     hit.Title,
			Snippet:   p.snippet(hit),
			Domain:    hit.Domain,
			Score:     p.fuse(hit, now),
			Authority: hit.PageRank,
			Inlinks:   hit.InlinkCount,
			FetchedAt: hit.FetchTime,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	resp := search.SearchResponse{
		Query:   normalized,
		Page:    page,
		Total:   raw.Total,
		Results: results,
		TookMs:  p.clock.Now().Sub(start).Milliseconds(),
	}
	if payload, err := json.Marshal(resp); err == nil {
		if err := p.cache.Set(ctx, key, string(payload), p.cfg.CacheTTL); err != nil {
			p.logger.Warn("cache search response failed", zap.String("key", key), zap.Error(err))
		}
	}

	p.recordQuery(ctx, normalized, len(results), p.clock.Now().Sub(start))
	return resp, nil
}

// Suggest returns up to n previously seen queries starting with prefix,
// most frequent first.
func (p *Processor) Suggest(ctx context.Context, prefix string, n int) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || n <= 0 {
		return nil
	}
	type entry struct {
		query string
		count int64
	}
	p.mu.Lock()
	candidates := make([]entry, 0, 8)
	for q, c := range p.queryLog {
		if strings.HasPrefix(q, prefix) {
			candidates = append(candidates, entry{q, c})
		}
	}
	p.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].query < candidates[j].query
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.query
	}
	return out
}

// fuse multiplies the lexical score by log-scaled authority and inlink
// boosts and a half-life recency factor. Multiplication keeps documents
// with zero lexical relevance at zero no matter how authoritative.
func (p *Processor) fuse(hit search.IndexHit, now time.Time) float64 {
	authorityBoost := 1 + math.Log1p(hit.PageRank*p.cfg.AuthorityScale)
	inlinkBoost := 1 + math.Log1p(float64(hit.InlinkCount))
	return hit.Score * authorityBoost * inlinkBoost * p.recencyBoost(hit.FetchTime, now)
}

// recencyBoost decays from 2 toward 1 with the configured half-life, so old
// pages are down-weighted relative to fresh ones but never eliminated.
func (p *Processor) recencyBoost(fetched time.Time, now time.Time) float64 {
	if fetched.IsZero() {
		return 1
	}
	ageDays := now.Sub(fetched).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1 + math.Pow(0.5, ageDays/p.cfg.RecencyHalfLifeDays)
}

func (p *Processor) matchesFilters(hit search.IndexHit, q search.ParsedQuery) bool {
	if len(q.Sites) > 0 {
		domain := strings.ToLower(hit.Domain)
		ok := false
		for _, site := range q.Sites {
			if strings.Contains(domain, site) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(q.Excluded) > 0 {
		haystack := strings.ToLower(hit.Title + " " + hit.Description)
		for _, term := range q.Excluded {
			if strings.Contains(haystack, term) {
				return false
			}
		}
	}
	return true
}

// snippet prefers the backend's highlighted fragment, falling back to a
// truncated description.
func (p *Processor) snippet(hit search.IndexHit) string {
	if hit.Highlight != "" {
		return hit.Highlight
	}
	desc := hit.Description
	if desc == "" {
		desc = hit.Content
	}
	if len(desc) <= p.cfg.SnippetLength {
		return desc
	}
	cut := p.cfg.SnippetLength
	for cut > 0 && desc[cut]&0xC0 == 0x80 {
		cut--
	}
	return desc[:cut] + "…"
}

func (p *Processor) recordQuery(ctx context.Context, normalized string, resultCount int, elapsed time.Duration) {
	p.mu.Lock()
	p.queryLog[normalized]++
	p.mu.Unlock()
	if _, err := p.cache.Incr(ctx, "suggest:"+normalized); err != nil {
		p.logger.Debug("suggestion counter increment failed", zap.Error(err))
	}
	p.logger.Info("query",
		zap.String("query", normalized),
		zap.Int("results", resultCount),
		zap.Duration("elapsed", elapsed),
	)
}

func cacheKey(normalized string, page int) string {
	return "search:" + normalized + ":" + strconv.Itoa(page)
}
