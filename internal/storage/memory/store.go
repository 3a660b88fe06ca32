// Package memory provides a Store implementation for local development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akerley/webrank/internal/search"
)

// Store keeps URL, document and link tables in process memory. It mirrors
// the Postgres implementation's semantics, including forward-only state
// transitions and insert-or-ignore edges.
type Store struct {
	mu     sync.Mutex
	nextID int64
	urls   map[int64]*search.URLRecord
	byFP   map[uint64]int64
	docs   map[int64]search.Document
	edges  map[search.LinkEdge]struct{}
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		nextID: 1,
		urls:   make(map[int64]*search.URLRecord),
		byFP:   make(map[uint64]int64),
		docs:   make(map[int64]search.Document),
		edges:  make(map[search.LinkEdge]struct{}),
	}
}

// AddURL inserts or raises the priority of an existing row.
func (s *Store) AddURL(_ context.Context, rec search.URLRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byFP[rec.Fingerprint]; ok {
		existing := s.urls[id]
		if rec.Priority > existing.Priority {
			existing.Priority = rec.Priority
		}
		return id, nil
	}
	id := s.nextID
	s.nextID++
	stored := rec
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.urls[id] = &stored
	s.byFP[rec.Fingerprint] = id
	return id, nil
}

// GetURL fetches one record by id.
func (s *Store) GetURL(_ context.Context, id int64) (search.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[id]
	if !ok {
		return search.URLRecord{}, search.ErrNotFound
	}
	return *rec, nil
}

// GetURLByFingerprint fetches one record by fingerprint.
func (s *Store) GetURLByFingerprint(_ context.Context, fp uint64) (search.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byFP[fp]
	if !ok {
		return search.URLRecord{}, search.ErrNotFound
	}
	return *s.urls[id], nil
}

// PendingByHost returns the best pending URL for each of up to maxHosts
// hosts, ordered by (priority desc, id asc).
func (s *Store) PendingByHost(_ context.Context, maxHosts int) ([]search.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := make(map[string]*search.URLRecord)
	for _, rec := range s.urls {
		if rec.State != search.StatePending {
			continue
		}
		cur, ok := best[rec.Host]
		if !ok || rec.Priority > cur.Priority || (rec.Priority == cur.Priority && rec.ID < cur.ID) {
			best[rec.Host] = rec
		}
	}
	out := make([]search.URLRecord, 0, len(best))
	for _, rec := range best {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	if maxHosts > 0 && len(out) > maxHosts {
		out = out[:maxHosts]
	}
	return out, nil
}

// HasPending reports whether any pending rows remain.
func (s *Store) HasPending(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.urls {
		if rec.State == search.StatePending {
			return true, nil
		}
	}
	return false, nil
}

// UpdateURLState applies a forward-only transition.
func (s *Store) UpdateURLState(_ context.Context, id int64, from, to search.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[id]
	if !ok {
		return search.ErrNotFound
	}
	if rec.State != from {
		return fmt.Errorf("url %d is %q, not %q", id, rec.State, from)
	}
	if !search.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %q -> %q for url %d", from, to, id)
	}
	rec.State = to
	return nil
}

// MarkCrawled finalizes a successful crawl.
func (s *Store) MarkCrawled(_ context.Context, id int64, contentHash uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[id]
	if !ok {
		return search.ErrNotFound
	}
	if rec.State != search.StateCrawling {
		return fmt.Errorf("url %d is %q, not crawling", id, rec.State)
	}
	rec.State = search.StateCrawled
	rec.ContentHash = &contentHash
	t := at
	rec.LastCrawled = &t
	return nil
}

// RequeueURL moves a terminal URL back to pending with a new priority.
func (s *Store) RequeueURL(_ context.Context, id int64, priority float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[id]
	if !ok {
		return search.ErrNotFound
	}
	if !rec.State.IsTerminal() {
		return fmt.Errorf("url %d is %q, not terminal", id, rec.State)
	}
	rec.State = search.StatePending
	if priority > rec.Priority {
		rec.Priority = priority
	}
	return nil
}

// FindByContentHash returns a URL already carrying this content hash.
func (s *Store) FindByContentHash(_ context.Context, hash uint64) (*search.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.urls {
		if rec.ContentHash != nil && *rec.ContentHash == hash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

// SaveDocument upserts the document for a URL.
func (s *Store) SaveDocument(_ context.Context, doc search.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[doc.URLID]; !ok {
		return search.ErrNotFound
	}
	s.docs[doc.URLID] = doc
	return nil
}

// GetDocument is a test helper not part of the Store interface.
func (s *Store) GetDocument(id int64) (search.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// InsertLinkEdge records an edge, ignoring duplicates and self-loops.
func (s *Store) InsertLinkEdge(_ context.Context, e search.LinkEdge) error {
	if e.SourceID == e.TargetID {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[e] = struct{}{}
	return nil
}

// RecountInlinks re-derives inbound counts from the edge table.
func (s *Store) RecountInlinks(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[int64]int)
	for e := range s.edges {
		counts[e.TargetID]++
	}
	for id, rec := range s.urls {
		rec.InlinkCount = counts[id]
	}
	return nil
}

// AllLinkEdges returns every stored edge.
func (s *Store) AllLinkEdges(_ context.Context) ([]search.LinkEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]search.LinkEdge, 0, len(s.edges))
	for e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}

// AllURLIDs lists every URL id.
func (s *Store) AllURLIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.urls))
	for id := range s.urls {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// BulkSetAuthority overwrites every score in one step.
func (s *Store) BulkSetAuthority(_ context.Context, scores map[int64]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, score := range scores {
		if rec, ok := s.urls[id]; ok {
			rec.Authority = score
		}
	}
	return nil
}

// TopByAuthority returns the n highest-authority URLs.
func (s *Store) TopByAuthority(_ context.Context, n int) ([]search.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]search.URLRecord, 0, len(s.urls))
	for _, rec := range s.urls {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Authority > out[j].Authority })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// StatsByState counts URLs per crawl state.
func (s *Store) StatsByState(_ context.Context) (map[search.CrawlState]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[search.CrawlState]int)
	for _, rec := range s.urls {
		out[rec.State]++
	}
	return out, nil
}

// DocumentCount counts stored documents.
func (s *Store) DocumentCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs), nil
}

// LinkCount counts stored edges.
func (s *Store) LinkCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges), nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() {}
