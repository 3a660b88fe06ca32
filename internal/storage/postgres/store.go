// Package postgres provides the Postgres-backed Store implementation.
//
// Expected schema:
//
//	CREATE TABLE urls (
//	    id           BIGSERIAL PRIMARY KEY,
//	    url          TEXT NOT NULL,
//	    host         TEXT NOT NULL,
//	    fingerprint  BIGINT NOT NULL UNIQUE,
//	    state        TEXT NOT NULL DEFAULT 'pending',
//	    priority     DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    authority    DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    inlink_count INTEGER NOT NULL DEFAULT 0,
//	    content_hash BIGINT,
//	    last_crawled TIMESTAMPTZ,
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE TABLE documents (
//	    url_id         BIGINT PRIMARY KEY REFERENCES urls(id),
//	    title          TEXT NOT NULL DEFAULT '',
//	    description    TEXT NOT NULL DEFAULT '',
//	    body_text      TEXT NOT NULL DEFAULT '',
//	    content_length INTEGER NOT NULL DEFAULT 0,
//	    fetched_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE links (
//	    source_id BIGINT NOT NULL REFERENCES urls(id),
//	    target_id BIGINT NOT NULL REFERENCES urls(id),
//	    PRIMARY KEY (source_id, target_id)
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akerley/webrank/internal/fingerprint"
	"github.com/akerley/webrank/internal/search"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements search.Store on Postgres.
type Store struct {
	pool pool
}

// New creates a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const urlColumns = "id, url, host, fingerprint, state, priority, authority, inlink_count, content_hash, last_crawled, created_at"

func scanURL(row pgx.Row) (search.URLRecord, error) {
	var (
		rec         search.URLRecord
		fp          int64
		state       string
		contentHash *int64
	)
	err := row.Scan(
		&rec.ID, &rec.URL, &rec.Host, &fp, &state, &rec.Priority,
		&rec.Authority, &rec.InlinkCount, &contentHash, &rec.LastCrawled, &rec.CreatedAt,
	)
	if err != nil {
		return search.URLRecord{}, err
	}
	rec.Fingerprint = fingerprint.Unsigned(fp)
	rec.State = search.CrawlState(state)
	if contentHash != nil {
		h := fingerprint.Unsigned(*contentHash)
		rec.ContentHash = &h
	}
	return rec, nil
}

// AddURL inserts or raises the priority of an existing row, returning its id.
func (s *Store) AddURL(ctx context.Context, rec search.URLRecord) (int64, error) {
	const q = `
INSERT INTO urls (url, host, fingerprint, state, priority)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (fingerprint)
DO UPDATE SET priority = GREATEST(urls.priority, EXCLUDED.priority)
RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, q,
		rec.URL, rec.Host, fingerprint.Signed(rec.Fingerprint), string(rec.State), rec.Priority,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert url: %w", err)
	}
	return id, nil
}

// GetURL fetches one record by id.
func (s *Store) GetURL(ctx context.Context, id int64) (search.URLRecord, error) {
	rec, err := scanURL(s.pool.QueryRow(ctx, "SELECT "+urlColumns+" FROM urls WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return search.URLRecord{}, search.ErrNotFound
	}
	if err != nil {
		return search.URLRecord{}, fmt.Errorf("get url %d: %w", id, err)
	}
	return rec, nil
}

// GetURLByFingerprint fetches one record by fingerprint.
func (s *Store) GetURLByFingerprint(ctx context.Context, fp uint64) (search.URLRecord, error) {
	rec, err := scanURL(s.pool.QueryRow(ctx,
		"SELECT "+urlColumns+" FROM urls WHERE fingerprint = $1", fingerprint.Signed(fp)))
	if errors.Is(err, pgx.ErrNoRows) {
		return search.URLRecord{}, search.ErrNotFound
	}
	if err != nil {
		return search.URLRecord{}, fmt.Errorf("get url by fingerprint: %w", err)
	}
	return rec, nil
}

// PendingByHost returns the best pending URL per host for up to maxHosts
// hosts, ordered by (priority desc, id asc).
func (s *Store) PendingByHost(ctx context.Context, maxHosts int) ([]search.URLRecord, error) {
	const q = `
SELECT ` + urlColumns + ` FROM (
    SELECT DISTINCT ON (host) ` + urlColumns + `
    FROM urls
    WHERE state = 'pending'
    ORDER BY host, priority DESC, id ASC
) candidates
ORDER BY priority DESC, id ASC
LIMIT $1`
	rows, err := s.pool.Query(ctx, q, maxHosts)
	if err != nil {
		return nil, fmt.Errorf("select pending by host: %w", err)
	}
	defer rows.Close()

	var out []search.URLRecord
	for rows.Next() {
		rec, err := scanURL(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rows: %w", err)
	}
	return out, nil
}

// HasPending reports whether any pending rows remain.
func (s *Store) HasPending(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM urls WHERE state = 'pending')").Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	return exists, nil
}

// UpdateURLState applies a forward-only transition, guarded both in Go and by
// the conditional WHERE clause.
func (s *Store) UpdateURLState(ctx context.Context, id int64, from, to search.CrawlState) error {
	if !search.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %q -> %q for url %d", from, to, id)
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE urls SET state = $1 WHERE id = $2 AND state = $3",
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("update url state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("url %d not in state %q: %w", id, from, search.ErrNotFound)
	}
	return nil
}

// MarkCrawled finalizes a successful crawl in one write.
func (s *Store) MarkCrawled(ctx context.Context, id int64, contentHash uint64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE urls SET state = 'crawled', content_hash = $1, last_crawled = $2
WHERE id = $3 AND state = 'crawling'`,
		fingerprint.Signed(contentHash), at, id)
	if err != nil {
		return fmt.Errorf("mark crawled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("url %d not crawling: %w", id, search.ErrNotFound)
	}
	return nil
}

// RequeueURL moves a terminal URL back to pending with a raised priority.
func (s *Store) RequeueURL(ctx context.Context, id int64, priority float64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE urls SET state = 'pending', priority = GREATEST(priority, $1)
WHERE id = $2 AND state NOT IN ('pending', 'crawling')`,
		priority, id)
	if err != nil {
		return fmt.Errorf("requeue url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("url %d not requeueable: %w", id, search.ErrNotFound)
	}
	return nil
}

// FindByContentHash returns a URL already carrying this content hash, or nil.
func (s *Store) FindByContentHash(ctx context.Context, hash uint64) (*search.URLRecord, error) {
	rec, err := scanURL(s.pool.QueryRow(ctx,
		"SELECT "+urlColumns+" FROM urls WHERE content_hash = $1 LIMIT 1",
		fingerprint.Signed(hash)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by content hash: %w", err)
	}
	return &rec, nil
}

// SaveDocument upserts the extracted document for a URL.
func (s *Store) SaveDocument(ctx context.Context, doc search.Document) error {
	const q = `
INSERT INTO documents (url_id, title, description, body_text, content_length, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url_id) DO UPDATE SET
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    body_text = EXCLUDED.body_text,
    content_length = EXCLUDED.content_length,
    fetched_at = EXCLUDED.fetched_at`
	if _, err := s.pool.Exec(ctx, q,
		doc.URLID, doc.Title, doc.Description, doc.Text, doc.ContentLength, doc.FetchedAt); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// InsertLinkEdge records an edge, ignoring duplicates and self-loops.
func (s *Store) InsertLinkEdge(ctx context.Context, e search.LinkEdge) error {
	if e.SourceID == e.TargetID {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		"INSERT INTO links (source_id, target_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		e.SourceID, e.TargetID); err != nil {
		return fmt.Errorf("insert link edge: %w", err)
	}
	return nil
}

// RecountInlinks re-derives inbound counts from the edge table.
func (s *Store) RecountInlinks(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin inlink recount: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "UPDATE urls SET inlink_count = 0"); err != nil {
		return fmt.Errorf("reset inlink counts: %w", err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE urls SET inlink_count = l.cnt
FROM (SELECT target_id, COUNT(*) AS cnt FROM links GROUP BY target_id) l
WHERE urls.id = l.target_id`); err != nil {
		return fmt.Errorf("recount inlinks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit inlink recount: %w", err)
	}
	return nil
}

// AllLinkEdges returns the full edge table for PageRank.
func (s *Store) AllLinkEdges(ctx context.Context) ([]search.LinkEdge, error) {
	rows, err := s.pool.Query(ctx, "SELECT source_id, target_id FROM links")
	if err != nil {
		return nil, fmt.Errorf("select link edges: %w", err)
	}
	defer rows.Close()

	var out []search.LinkEdge
	for rows.Next() {
		var e search.LinkEdge
		if err := rows.Scan(&e.SourceID, &e.TargetID); err != nil {
			return nil, fmt.Errorf("scan link edge: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link edges: %w", err)
	}
	return out, nil
}

// AllURLIDs lists every URL id.
func (s *Store) AllURLIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM urls ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("select url ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan url id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate url ids: %w", err)
	}
	return out, nil
}

// BulkSetAuthority overwrites the full score table using a staging table
// inside one transaction, so a mid-write failure leaves old scores intact.
func (s *Store) BulkSetAuthority(ctx context.Context, scores map[int64]float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin score commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
CREATE TEMP TABLE url_scores_staging (
    id BIGINT PRIMARY KEY,
    score DOUBLE PRECISION NOT NULL
) ON COMMIT DROP`); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	rows := make([][]any, 0, len(scores))
	for id, score := range scores {
		rows = append(rows, []any{id, score})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"url_scores_staging"},
		[]string{"id", "score"},
		pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy scores into staging: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE urls SET authority = s.score
FROM url_scores_staging s
WHERE urls.id = s.id`); err != nil {
		return fmt.Errorf("swap staged scores: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit score table: %w", err)
	}
	return nil
}

// TopByAuthority returns the n highest-authority URLs.
func (s *Store) TopByAuthority(ctx context.Context, n int) ([]search.URLRecord, error) {
	if n < 0 {
		n = 0
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+urlColumns+" FROM urls ORDER BY authority DESC LIMIT NULLIF($1, 0)", n)
	if err != nil {
		return nil, fmt.Errorf("select top by authority: %w", err)
	}
	defer rows.Close()

	var out []search.URLRecord
	for rows.Next() {
		rec, err := scanURL(rows)
		if err != nil {
			return nil, fmt.Errorf("scan authority row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authority rows: %w", err)
	}
	return out, nil
}

// StatsByState counts URLs per crawl state.
func (s *Store) StatsByState(ctx context.Context) (map[search.CrawlState]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT state, COUNT(*) FROM urls GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("select state counts: %w", err)
	}
	defer rows.Close()

	out := make(map[search.CrawlState]int)
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		out[search.CrawlState(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}
	return out, nil
}

// DocumentCount counts stored documents.
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// LinkCount counts stored edges.
func (s *Store) LinkCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM links").Scan(&n); err != nil {
		return 0, fmt.Errorf("count links: %w", err)
	}
	return n, nil
}
