package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akerley/webrank/internal/search"
)

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "webrank-test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "webrank-test/1.0", Timeout: 5 * time.Second})
	result, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Contains(t, result.ContentType, "text/html")
	require.Contains(t, string(result.Body), "hello")
	require.Greater(t, result.Duration, time.Duration(0))
}

func TestFetchHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	var ferr *search.FetchError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, http.StatusNotFound, ferr.Code)
}

func TestFetchNonHTMLContentPassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"not":"html"}`))
	}))
	defer srv.Close()

	// Content-type classification is the crawl loop's job, not the fetcher's.
	f := New(Config{Timeout: 5 * time.Second})
	result, err := f.Fetch(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	require.Equal(t, "application/json", result.ContentType)
}

func TestFetchConnectionFailure(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	var ferr *search.FetchError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, 0, ferr.Code)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(ctx, "http://example.com/")
	require.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusRequestTimeout, classifyError(nil, context.DeadlineExceeded))
	require.Equal(t, 0, classifyError(nil, nil))
}
