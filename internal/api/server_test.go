package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memoryarchive "github.com/akerley/webrank/internal/archive/memory"
	memorycache "github.com/akerley/webrank/internal/cache/memory"
	"github.com/akerley/webrank/internal/clock/system"
	"github.com/akerley/webrank/internal/crawl"
	collyfetcher "github.com/akerley/webrank/internal/fetch/colly"
	"github.com/akerley/webrank/internal/frontier"
	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/pagerank"
	"github.com/akerley/webrank/internal/parse"
	"github.com/akerley/webrank/internal/politeness"
	memorypublisher "github.com/akerley/webrank/internal/publisher/memory"
	"github.com/akerley/webrank/internal/query"
	memorystore "github.com/akerley/webrank/internal/storage/memory"
	memoryindex "github.com/akerley/webrank/internal/textindex/memory"
)

func init() {
	metrics.Init()
}

func newTestServer(t *testing.T) (*Server, *memorystore.Store) {
	t.Helper()

	store := memorystore.New()
	cache := memorycache.New()
	index := memoryindex.New()
	clock := system.New()
	logger := zap.NewNop()

	gate := politeness.New(cache, clock, politeness.Config{
		UserAgent:   "webrank-test/1.0",
		MinInterval: 0,
	}, logger)
	fr := frontier.New(store, gate, logger)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: "webrank-test/1.0",
		Timeout:   2 * time.Second,
	})
	crawler := crawl.New(fr, gate, fetcher, parse.New(50_000), store, index, clock,
		memorypublisher.New(), memoryarchive.New(), crawl.Config{
			Concurrency: 2,
			BatchSize:   4,
			IdleWait:    5 * time.Millisecond,
			EventTopic:  "crawl-events",
		}, logger)
	engine := pagerank.New(store, index, clock, pagerank.Config{}, logger)
	processor := query.New(index, cache, clock, query.Config{}, logger)

	return NewServer(fr, crawler, engine, processor, store, Config{}, logger), store
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSeed(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/seed", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/seed", `{"urls": []}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/seed",
		`{"urls": ["http://example.com/a", "http://example.com/b", "ftp://example.com/file"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	require.Len(t, body["accepted"], 2)
	require.Equal(t, []any{"ftp://example.com/file"}, body["dropped"])
}

func TestStats(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/seed", `{"urls": ["http://example.com/a"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	urls, ok := body["urls"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(1), urls["pending"])
	require.Equal(t, float64(0), body["documents"])
	require.Equal(t, float64(0), body["links"])
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/search", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/search?q=anything&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "anything", body["query"])
	require.Equal(t, float64(2), body["page"])
	require.Empty(t, body["results"])
}

func TestSuggestEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/suggest?q=go", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Contains(t, body, "suggestions")
}

func TestPageRankEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/pagerank", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTopPagesEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/seed", `{"urls": ["http://example.com/a"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/top?n=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	pages, ok := body["pages"].([]any)
	require.True(t, ok)
	require.Len(t, pages, 1)
}

func TestCrawlEndpointExhaustsEmptyFrontier(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/crawl", `{"max_pages": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(0), body["crawled"])
}

func TestUnknownRouteReturns404(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
