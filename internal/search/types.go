// Package search defines core types shared across the crawl-to-rank pipeline.
package search

import (
	"fmt"
	"strings"
	"time"
)

// CrawlState represents the lifecycle state of a URL record.
type CrawlState string

// URL states persisted in the store. Error states are produced by
// ErrorState and carry the HTTP or network code after the colon.
const (
	StatePending   CrawlState = "pending"
	StateCrawling  CrawlState = "crawling"
	StateCrawled   CrawlState = "crawled"
	StateBlocked   CrawlState = "blocked"
	StateSkipped   CrawlState = "skipped"
	StateDuplicate CrawlState = "duplicate"
)

// ErrorState builds the terminal state for a failed fetch, e.g. "error:504".
func ErrorState(code int) CrawlState {
	return CrawlState(fmt.Sprintf("error:%d", code))
}

// IsError reports whether the state is a fetch-failure terminal state.
func (s CrawlState) IsError() bool {
	return strings.HasPrefix(string(s), "error:")
}

// IsTerminal reports whether a URL in this state is done for the run.
func (s CrawlState) IsTerminal() bool {
	switch s {
	case StateCrawled, StateBlocked, StateSkipped, StateDuplicate:
		return true
	}
	return s.IsError()
}

// CanTransition enforces the forward-only state machine. A crawled URL never
// returns to pending through this path; explicit re-queueing is a separate
// store operation.
func CanTransition(from, to CrawlState) bool {
	switch from {
	case StatePending:
		return to == StateCrawling
	case StateCrawling:
		return to.IsTerminal()
	}
	return false
}

// URLRecord is the per-URL row managed by the frontier.
type URLRecord struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Host        string     `json:"host"`
	Fingerprint uint64     `json:"fingerprint"`
	State       CrawlState `json:"state"`
	Priority    float64    `json:"priority"`
	Authority   float64    `json:"authority"`
	InlinkCount int        `json:"inlink_count"`
	ContentHash *uint64    `json:"content_hash,omitempty"`
	LastCrawled *time.Time `json:"last_crawled,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Document holds the extracted content for a crawled URL, 1:1 with the URL
// row and overwritten on re-crawl.
type Document struct {
	URLID         int64     `json:"url_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Text          string    `json:"text"`
	ContentLength int       `json:"content_length"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// LinkEdge is a directed edge in the link graph, unique per (source, target).
type LinkEdge struct {
	SourceID int64 `json:"source_id"`
	TargetID int64 `json:"target_id"`
}

// FetchResult is what the fetcher hands to the crawl loop.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// ParsedPage is the parser output for one HTML document.
type ParsedPage struct {
	Title       string
	Description string
	Text        string
	Links       []string
}

// ParsedQuery is the structured form of a user query string.
type ParsedQuery struct {
	Terms    []string `json:"terms"`
	Phrases  []string `json:"phrases"`
	Excluded []string `json:"excluded"`
	Sites    []string `json:"sites"`
}

// Empty reports whether the query carries no searchable text.
func (q ParsedQuery) Empty() bool {
	return len(q.Terms) == 0 && len(q.Phrases) == 0
}

// IndexDoc is the document shape handed to the external text-search service.
type IndexDoc struct {
	URL           string    `json:"url"`
	URLID         int64     `json:"url_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Content       string    `json:"content"`
	Domain        string    `json:"domain"`
	PageRank      float64   `json:"page_rank"`
	InlinkCount   int       `json:"inlink_count"`
	FetchTime     time.Time `json:"fetch_time"`
	ContentLength int       `json:"content_length"`
}

// IndexHit is a scored lexical match from the text-search service.
type IndexHit struct {
	IndexDoc
	Score     float64 `json:"score"`
	Highlight string  `json:"highlight,omitempty"`
}

// IndexResult is the raw response from the text-search service.
type IndexResult struct {
	Total int        `json:"total"`
	Hits  []IndexHit `json:"hits"`
}

// SearchResult is one ranked row returned to callers.
type SearchResult struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Domain    string    `json:"domain"`
	Score     float64   `json:"score"`
	Authority float64   `json:"authority"`
	Inlinks   int       `json:"inlinks"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SearchResponse is the full payload for one query page.
type SearchResponse struct {
	Query   string         `json:"query"`
	Page    int            `json:"page"`
	Total   int            `json:"total"`
	Results []SearchResult `json:"results"`
	Cached  bool           `json:"cached"`
	TookMs  int64          `json:"took_ms"`
}

// RunReport aggregates the outcome of one crawl run.
type RunReport struct {
	Crawled    int `json:"crawled"`
	Errored    int `json:"errored"`
	Blocked    int `json:"blocked"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

// Processed is the number of URLs the run resolved to a terminal state.
func (r RunReport) Processed() int {
	return r.Crawled + r.Errored + r.Blocked + r.Skipped + r.Duplicates
}

// Stats is the admin surface summary.
type Stats struct {
	URLs      map[CrawlState]int `json:"urls"`
	Documents int                `json:"documents"`
	Links     int                `json:"links"`
}

// RankStats summarizes the authority score table after a PageRank run.
type RankStats struct {
	Count      int     `json:"count"`
	Mean       float64 `json:"mean"`
	Max        float64 `json:"max"`
	Min        float64 `json:"min"`
	Iterations int     `json:"iterations"`
	Delta      float64 `json:"delta"`
}
