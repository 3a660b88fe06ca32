// Package collyfetcher implements the page fetcher on the Colly collector.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/akerley/webrank/internal/search"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
}

// Fetcher implements search.Fetcher using a Colly collector cloned per
// request. Robots handling is deliberately disabled here: the politeness
// gate decides admission before a URL ever reaches the fetcher.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Non-2xx statuses and transport failures
// come back as *search.FetchError; the caller maps them to terminal states.
func (f *Fetcher) Fetch(ctx context.Context, url string) (search.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return search.FetchResult{}, fmt.Errorf("fetch canceled: %w", err)
	}

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	maxRedirects := f.cfg.MaxRedirects
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	})

	var (
		result   search.FetchResult
		fetchErr *search.FetchError
	)
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		result = search.FetchResult{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        r.Body,
			Duration:    time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = &search.FetchError{URL: url, Code: classifyError(r, err), Err: err}
	})

	if err := collector.Visit(url); err != nil && fetchErr == nil {
		fetchErr = &search.FetchError{URL: url, Code: classifyError(nil, err), Err: err}
	}
	collector.Wait()

	if fetchErr != nil {
		return search.FetchResult{}, fetchErr
	}
	if result.StatusCode == 0 {
		return search.FetchResult{}, &search.FetchError{URL: url, Code: 0, Err: errors.New("no response")}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// classifyError maps a failed request to the code recorded in the URL state.
// HTTP statuses pass through; timeouts become 408; other transport failures
// are code 0.
func classifyError(r *colly.Response, err error) int {
	if r != nil && r.StatusCode > 0 {
		return r.StatusCode
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusRequestTimeout
	}
	if err != nil && strings.Contains(err.Error(), "timeout") {
		return http.StatusRequestTimeout
	}
	return 0
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
