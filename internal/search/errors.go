package search

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound is returned by store lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrPageRankRunning is returned when a computation is already in flight.
	ErrPageRankRunning = errors.New("pagerank computation already running")

	// ErrSearchBackend is returned when the text-search service is
	// unavailable. Distinct from an empty result set and never cached.
	ErrSearchBackend = errors.New("search backend unavailable")
)

// NormalizationError reports a URL that cannot be queued. Callers drop the
// URL; it never reaches the frontier.
type NormalizationError struct {
	Raw    string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %q: %s", e.Raw, e.Reason)
}

// FetchError reports a failed page fetch. Code carries the HTTP status, or a
// synthetic code for transport failures (0 for network errors, 408 for
// timeouts).
type FetchError struct {
	URL  string
	Code int
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Code, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

func (e *FetchError) Unwrap() error { return e.Err }
