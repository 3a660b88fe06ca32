// Package metrics exposes Prometheus collectors for the search pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal        *prometheus.CounterVec
	crawlerFetchSeconds      *prometheus.HistogramVec
	frontierBatchSize        prometheus.Histogram
	pagerankIterationsTotal  prometheus.Counter
	pagerankDurationSeconds  prometheus.Histogram
	queryDurationSeconds     prometheus.Histogram
	queryCacheLookupsTotal   *prometheus.CounterVec
	robotsFetchFailuresTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webrank_crawler_pages_total",
				Help: "Pages processed by the crawl loop, labeled by host and terminal state.",
			},
			[]string{"host", "state"},
		)

		crawlerFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webrank_crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by host.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"host"},
		)

		frontierBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webrank_frontier_batch_size",
				Help:    "Histogram of batch sizes yielded by the frontier.",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
		)

		pagerankIterationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webrank_pagerank_iterations_total",
				Help: "Total PageRank iterations across all runs.",
			},
		)

		pagerankDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webrank_pagerank_duration_seconds",
				Help:    "Histogram of full PageRank run durations.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		)

		queryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webrank_query_duration_seconds",
				Help:    "Histogram of end-to-end search request durations.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		)

		queryCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webrank_query_cache_lookups_total",
				Help: "Search cache lookups, labeled hit or miss.",
			},
			[]string{"outcome"},
		)

		robotsFetchFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webrank_robots_fetch_failures_total",
				Help: "robots.txt fetches that failed and were cached as allow-all.",
			},
		)
	})
}

// SanitizeHost extracts a lowercase hostname for use as a label value.
// Returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter for a terminal state.
func ObservePage(host, state string) {
	crawlerPagesTotal.WithLabelValues(SanitizeHost(host), state).Inc()
}

// ObserveFetch records one fetch duration.
func ObserveFetch(host string, d time.Duration) {
	crawlerFetchSeconds.WithLabelValues(SanitizeHost(host)).Observe(d.Seconds())
}

// ObserveBatch records the size of a frontier batch.
func ObserveBatch(n int) {
	frontierBatchSize.Observe(float64(n))
}

// ObservePageRank records a completed run.
func ObservePageRank(iterations int, d time.Duration) {
	pagerankIterationsTotal.Add(float64(iterations))
	pagerankDurationSeconds.Observe(d.Seconds())
}

// ObserveQuery records one search request duration.
func ObserveQuery(d time.Duration) {
	queryDurationSeconds.Observe(d.Seconds())
}

// ObserveCacheLookup increments the hit or miss counter.
func ObserveCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	queryCacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRobotsFailure counts a robots.txt fetch failure.
func ObserveRobotsFailure() {
	robotsFetchFailuresTotal.Inc()
}
