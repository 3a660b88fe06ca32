package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memorycache "github.com/akerley/webrank/internal/cache/memory"
	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/search"
)

func init() {
	metrics.Init()
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// stubIndex returns canned hits and records calls.
type stubIndex struct {
	result search.IndexResult
	err    error
	calls  int
}

func (s *stubIndex) Index(context.Context, search.IndexDoc) error      { return nil }
func (s *stubIndex) BulkIndex(context.Context, []search.IndexDoc) error { return nil }

func (s *stubIndex) Search(context.Context, string, int, int) (search.IndexResult, error) {
	s.calls++
	if s.err != nil {
		return search.IndexResult{}, s.err
	}
	return s.result, nil
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newProcessor(index search.TextIndex) (*Processor, *memorycache.Cache) {
	cache := memorycache.New()
	p := New(index, cache, fixedClock{t: testNow}, Config{
		AuthorityScale:      1000,
		RecencyHalfLifeDays: 30,
		CacheTTL:            5 * time.Minute,
		SnippetLength:       50,
		PageSize:            10,
	}, zap.NewNop())
	return p, cache
}

func hit(url string, lexical, rank float64, inlinks int, age time.Duration) search.IndexHit {
	return search.IndexHit{
		IndexDoc: search.IndexDoc{
			URL:         url,
			Title:       "title " + url,
			Description: "description for " + url,
			Domain:      search.HostOf(url),
			PageRank:    rank,
			InlinkCount: inlinks,
			FetchTime:   testNow.Add(-age),
		},
		Score: lexical,
	}
}

func TestSearchFusionPrefersAuthority(t *testing.T) {
	t.Parallel()

	index := &stubIndex{result: search.IndexResult{Total: 2, Hits: []search.IndexHit{
		hit("http://low.example/page", 2.0, 0.01, 1, time.Hour),
		hit("http://high.example/page", 2.0, 0.30, 50, time.Hour),
	}}}
	p, _ := newProcessor(index)

	resp, err := p.Search(context.Background(), "anything", 1)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	require.Equal(t, "http://high.example/page", resp.Results[0].URL,
		"equal lexical score resolves by authority and inlinks")
}

func TestSearchFusionPrefersFreshness(t *testing.T) {
	t.Parallel()

	index := &stubIndex{result: search.IndexResult{Total: 2, Hits: []search.IndexHit{
		hit("http://old.example/page", 2.0, 0.1, 5, 365*24*time.Hour),
		hit("http://new.example/page", 2.0, 0.1, 5, time.Hour),
	}}}
	p, _ := newProcessor(index)

	resp, err := p.Search(context.Background(), "anything", 1)
	require.NoError(t, err)
	require.Equal(t, "http://new.example/page", resp.Results[0].URL)
	require.Greater(t, resp.Results[1].Score, 0.0, "old pages are down-weighted, never eliminated")
}

func TestSearchZeroLexicalNeverSurfaces(t *testing.T) {
	t.Parallel()

	index := &stubIndex{result: search.IndexResult{Total: 2, Hits: []search.IndexHit{
		hit("http://match.example/page", 0.1, 0.0, 0, time.Hour),
		hit("http://famous.example/page", 0.0, 0.9, 10000, time.Hour),
	}}}
	p, _ := newProcessor(index)

	resp, err := p.Search(context.Background(), "anything", 1)
	require.NoError(t, err)
	require.Equal(t, "http://match.example/page", resp.Results[0].URL)
	require.Zero(t, resp.Results[1].Score)
}

func TestSearchCacheRoundTrip(t *testing.T) {
	t.Parallel()

	index := &stubIndex{result: search.IndexResult{Total: 1, Hits: []search.IndexHit{
		hit("http://example.com/a", 1.0, 0.5, 3, time.Hour),
	}}}
	p, _ := newProcessor(index)
	ctx := context.Background()

	first, err := p.Search(ctx, "Some Query", 1)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := p.Search(ctx, "some query", 1)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, 1, index.calls, "second request must not reach the backend")

	// Identical except the cache-hit flag.
	second.Cached = false
	require.Equal(t, first, second)
}

func TestSearchSiteFilterAndExclusions(t *testing.T) {
	t.Parallel()

	spamHit := hit("http://spam.example/page", 5.0, 0.5, 10, time.Hour)
	spamHit.Title = "buy spam now"
	index := &stubIndex{result: search.IndexResult{Total: 3, Hits: []search.IndexHit{
		hit("http://docs.example.com/page", 1.0, 0.1, 1, time.Hour),
		hit("http://other.org/page", 1.0, 0.1, 1, time.Hour),
		spamHit,
	}}}
	p, _ := newProcessor(index)

	resp, err := p.Search(context.Background(), "page site:example.com -spam", 1)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "http://docs.example.com/page", resp.Results[0].URL)
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	t.Parallel()

	index := &stubIndex{}
	p, _ := newProcessor(index)

	for _, raw := range []string{"", "   ", "site:example.com"} {
		resp, err := p.Search(context.Background(), raw, 1)
		require.NoError(t, err)
		require.Empty(t, resp.Results)
	}
	require.Zero(t, index.calls, "empty-term queries never reach the backend")
}

func TestSearchBackendFailureNotCached(t *testing.T) {
	t.Parallel()

	index := &stubIndex{err: errors.New("connection refused")}
	p, cache := newProcessor(index)
	ctx := context.Background()

	_, err := p.Search(ctx, "failing query", 1)
	require.ErrorIs(t, err, search.ErrSearchBackend)

	_, err = cache.Get(ctx, "search:failing query:1")
	require.ErrorIs(t, err, search.ErrCacheMiss, "errors must never populate the cache")

	// The backend recovers; the next request goes through.
	index.err = nil
	index.result = search.IndexResult{Total: 0, Hits: nil}
	resp, err := p.Search(ctx, "failing query", 1)
	require.NoError(t, err)
	require.False(t, resp.Cached)
	require.Equal(t, 2, index.calls)
}

func TestSearchSnippetFallsBackToDescription(t *testing.T) {
	t.Parallel()

	plain := hit("http://example.com/a", 1.0, 0.1, 1, time.Hour)
	plain.Description = "short description"
	highlighted := hit("http://example.com/b", 1.0, 0.1, 1, time.Hour)
	highlighted.Highlight = "a <em>highlighted</em> fragment"
	long := hit("http://example.com/c", 1.0, 0.1, 1, time.Hour)
	long.Description = "this description is much longer than the configured snippet bound and will be truncated"

	index := &stubIndex{result: search.IndexResult{Total: 3, Hits: []search.IndexHit{plain, highlighted, long}}}
	p, _ := newProcessor(index)

	resp, err := p.Search(context.Background(), "anything", 1)
	require.NoError(t, err)
	byURL := make(map[string]string, 3)
	for _, r := range resp.Results {
		byURL[r.URL] = r.Snippet
	}
	require.Equal(t, "short description", byURL["http://example.com/a"])
	require.Equal(t, "a <em>highlighted</em> fragment", byURL["http://example.com/b"])
	require.LessOrEqual(t, len(byURL["http://example.com/c"]), 50+len("…"))
	require.Contains(t, byURL["http://example.com/c"], "…")
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	index := &stubIndex{result: search.IndexResult{}}
	p, _ := newProcessor(index)
	ctx := context.Background()

	// Distinct pages so repeats reach the backend instead of the cache.
	for page := 1; page <= 3; page++ {
		_, err := p.Search(ctx, "golang concurrency", page)
		require.NoError(t, err)
	}
	_, err := p.Search(ctx, "golang channels", 1)
	require.NoError(t, err)
	_, err = p.Search(ctx, "rust ownership", 1)
	require.NoError(t, err)

	require.Equal(t, []string{"golang concurrency", "golang channels"}, p.Suggest(ctx, "golang", 5))
	require.Equal(t, []string{"golang concurrency"}, p.Suggest(ctx, "golang", 1))
	require.Empty(t, p.Suggest(ctx, "python", 5))
	require.Empty(t, p.Suggest(ctx, "", 5))
}
