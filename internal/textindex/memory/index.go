// Package memory provides an in-process TextIndex for development and tests.
// Scoring is naive weighted term frequency; production deployments point the
// pipeline at a real full-text engine through the remote client instead.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/akerley/webrank/internal/search"
)

// Index stores documents in memory, keyed by url id.
type Index struct {
	mu   sync.RWMutex
	docs map[int64]search.IndexDoc
}

// New returns an empty Index.
func New() *Index {
	return &Index{docs: make(map[int64]search.IndexDoc)}
}

// Index upserts one document. A document with no text fields only refreshes
// the numeric boost fields of an existing entry.
func (ix *Index) Index(_ context.Context, doc search.IndexDoc) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if existing, ok := ix.docs[doc.URLID]; ok && doc.Title == "" && doc.Content == "" {
		existing.PageRank = doc.PageRank
		existing.InlinkCount = doc.InlinkCount
		ix.docs[doc.URLID] = existing
		return nil
	}
	ix.docs[doc.URLID] = doc
	return nil
}

// BulkIndex upserts a batch of documents.
func (ix *Index) BulkIndex(ctx context.Context, docs []search.IndexDoc) error {
	for _, doc := range docs {
		if err := ix.Index(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Search scores every stored document against the query terms: occurrences
// in the title weigh 3, description 2, content 1. Quoted phrases must match
// as a whole. Results are pure lexical order; callers fuse in their own
// ranking signals.
func (ix *Index) Search(_ context.Context, query string, page, limit int) (search.IndexResult, error) {
	terms, phrases := splitQuery(query)
	if len(terms) == 0 && len(phrases) == 0 {
		return search.IndexResult{Hits: []search.IndexHit{}}, nil
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	ix.mu.RLock()
	hits := make([]search.IndexHit, 0, 8)
	for _, doc := range ix.docs {
		score, fragment := scoreDoc(doc, terms, phrases)
		if score == 0 {
			continue
		}
		hits = append(hits, search.IndexHit{IndexDoc: doc, Score: score, Highlight: fragment})
	}
	ix.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].URLID < hits[j].URLID
	})

	total := len(hits)
	lo := (page - 1) * limit
	if lo > total {
		lo = total
	}
	hi := lo + limit
	if hi > total {
		hi = total
	}
	return search.IndexResult{Total: total, Hits: hits[lo:hi]}, nil
}

// Len reports the number of stored documents. Test helper.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

func splitQuery(query string) (terms, phrases []string) {
	rest := strings.ToLower(query)
	for {
		start := strings.IndexByte(rest, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start+1:], '"')
		if end < 0 {
			break
		}
		phrase := strings.TrimSpace(rest[start+1 : start+1+end])
		if phrase != "" {
			phrases = append(phrases, phrase)
		}
		rest = rest[:start] + " " + rest[start+2+end:]
	}
	terms = strings.Fields(rest)
	return terms, phrases
}

func scoreDoc(doc search.IndexDoc, terms, phrases []string) (float64, string) {
	title := strings.ToLower(doc.Title)
	desc := strings.ToLower(doc.Description)
	content := strings.ToLower(doc.Content)

	var score float64
	var firstHit int = -1
	count := func(needle string, weight float64) {
		score += 3 * weight * float64(strings.Count(title, needle))
		score += 2 * weight * float64(strings.Count(desc, needle))
		score += weight * float64(strings.Count(content, needle))
		if idx := strings.Index(content, needle); idx >= 0 && (firstHit < 0 || idx < firstHit) {
			firstHit = idx
		}
	}
	for _, p := range phrases {
		if !strings.Contains(title, p) && !strings.Contains(desc, p) && !strings.Contains(content, p) {
			return 0, ""
		}
		count(p, 2)
	}
	for _, t := range terms {
		count(t, 1)
	}
	if score == 0 {
		return 0, ""
	}
	return score, highlight(doc.Content, firstHit)
}

// highlight returns a short fragment of the content around the first match.
func highlight(content string, idx int) string {
	if idx < 0 || content == "" {
		return ""
	}
	const window = 80
	lo := idx - window/2
	if lo < 0 {
		lo = 0
	}
	hi := lo + window
	if hi > len(content) {
		hi = len(content)
	}
	for lo > 0 && content[lo]&0xC0 == 0x80 {
		lo--
	}
	for hi < len(content) && content[hi]&0xC0 == 0x80 {
		hi++
	}
	frag := strings.TrimSpace(content[lo:hi])
	if lo > 0 {
		frag = "… " + frag
	}
	if hi < len(content) {
		frag += " …"
	}
	return frag
}
