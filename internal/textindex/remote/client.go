// Package remote implements the TextIndex interface against an external
// full-text search service speaking a small JSON HTTP protocol.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/akerley/webrank/internal/search"
)

// Config carries the connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the text-search service. Documents go to POST /documents
// and POST /documents/bulk; queries go to GET /search.
type Client struct {
	base   string
	client *http.Client
}

// New constructs a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		base:   cfg.BaseURL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Index upserts one document.
func (c *Client) Index(ctx context.Context, doc search.IndexDoc) error {
	return c.post(ctx, "/documents", doc)
}

// BulkIndex upserts a batch of documents in one call.
func (c *Client) BulkIndex(ctx context.Context, docs []search.IndexDoc) error {
	if len(docs) == 0 {
		return nil
	}
	return c.post(ctx, "/documents/bulk", docs)
}

// Search runs a lexical query. The service applies its own relevance scoring
// over title, description and content plus the numeric boost fields supplied
// at index time.
func (c *Client) Search(ctx context.Context, query string, page, limit int) (search.IndexResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/search?"+q.Encode(), nil)
	if err != nil {
		return search.IndexResult{}, fmt.Errorf("build search request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return search.IndexResult{}, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return search.IndexResult{}, fmt.Errorf("search request: status %d: %s", resp.StatusCode, body)
	}

	var result search.IndexResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return search.IndexResult{}, fmt.Errorf("decode search response: %w", err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s request: status %d: %s", path, resp.StatusCode, msg)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
