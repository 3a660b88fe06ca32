package search

import (
	"context"
	"time"
)

// Store is the durable relational store behind the frontier, the link graph
// and the score table. Implementations live under internal/storage.
type Store interface {
	// AddURL inserts the record or, when the fingerprint already exists,
	// raises the stored priority to max(existing, new). Returns the row id.
	AddURL(ctx context.Context, rec URLRecord) (int64, error)

	// GetURL fetches one record by id.
	GetURL(ctx context.Context, id int64) (URLRecord, error)

	// GetURLByFingerprint fetches one record by its URL fingerprint.
	GetURLByFingerprint(ctx context.Context, fp uint64) (URLRecord, error)

	// PendingByHost returns the best pending URL per host, at most one row
	// per host, ordered by (priority desc, id asc), for up to maxHosts hosts.
	PendingByHost(ctx context.Context, maxHosts int) ([]URLRecord, error)

	// HasPending reports whether any pending rows remain.
	HasPending(ctx context.Context) (bool, error)

	// UpdateURLState moves a URL along the forward-only state machine. The
	// transition is rejected unless CanTransition(from, to) holds for the
	// current row state.
	UpdateURLState(ctx context.Context, id int64, from, to CrawlState) error

	// MarkCrawled finalizes a successful crawl: state, content hash and
	// last-crawl timestamp in one write.
	MarkCrawled(ctx context.Context, id int64, contentHash uint64, at time.Time) error

	// RequeueURL is the one sanctioned path back to pending, used for
	// explicit re-seeding with a higher priority.
	RequeueURL(ctx context.Context, id int64, priority float64) error

	// FindByContentHash returns a crawled URL carrying this content hash,
	// or nil when the content is new.
	FindByContentHash(ctx context.Context, hash uint64) (*URLRecord, error)

	// SaveDocument upserts the extracted document for a URL.
	SaveDocument(ctx context.Context, doc Document) error

	// InsertLinkEdge records a directed edge, insert-or-ignore on the
	// unique (source, target) pair.
	InsertLinkEdge(ctx context.Context, e LinkEdge) error

	// RecountInlinks re-derives inbound-link counts from the edge table.
	RecountInlinks(ctx context.Context) error

	// AllLinkEdges returns the full edge table for PageRank.
	AllLinkEdges(ctx context.Context) ([]LinkEdge, error)

	// AllURLIDs lists every URL id, crawled or not.
	AllURLIDs(ctx context.Context) ([]int64, error)

	// BulkSetAuthority overwrites the whole score table atomically.
	BulkSetAuthority(ctx context.Context, scores map[int64]float64) error

	// TopByAuthority returns the n highest-authority URLs. n <= 0 returns
	// every row.
	TopByAuthority(ctx context.Context, n int) ([]URLRecord, error)

	// StatsByState counts URL rows grouped by crawl state.
	StatsByState(ctx context.Context) (map[CrawlState]int, error)

	// DocumentCount counts stored documents.
	DocumentCount(ctx context.Context) (int, error)

	// LinkCount counts stored edges.
	LinkCount(ctx context.Context) (int, error)

	// Close releases underlying resources.
	Close()
}

// Cache is the short-TTL key-value store used for query memoization, robots
// bodies, per-host fetch timestamps and suggestion counters. Get returns
// ErrCacheMiss for absent or expired keys.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// TextIndex is the external full-text engine. It applies its own lexical
// scoring; this pipeline supplies documents with numeric boost fields and a
// query string.
type TextIndex interface {
	Index(ctx context.Context, doc IndexDoc) error
	BulkIndex(ctx context.Context, docs []IndexDoc) error
	Search(ctx context.Context, query string, page, limit int) (IndexResult, error)
}

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Publisher notifies downstream consumers about crawl events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any) (string, error)
}

// Archive stores raw fetched bodies, keyed by content hash.
type Archive interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}
