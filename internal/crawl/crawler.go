// Package crawl implements the crawl run loop and per-URL orchestration.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akerley/webrank/internal/fingerprint"
	"github.com/akerley/webrank/internal/frontier"
	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/parse"
	"github.com/akerley/webrank/internal/search"
)

// RobotsPolicy is the admission check run before every fetch.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) (bool, error)
}

// Config controls a crawl run.
type Config struct {
	Concurrency         int
	BatchSize           int
	SameDomainPriority  float64
	CrossDomainPriority float64
	IdleWait            time.Duration
	EventTopic          string
	ArchiveContentType  string
}

// Crawler pulls batches from the frontier and resolves every URL to a
// terminal state. Individual URL failures never abort the run.
type Crawler struct {
	frontier  *frontier.Frontier
	robots    RobotsPolicy
	fetcher   search.Fetcher
	parser    *parse.Parser
	store     search.Store
	index     search.TextIndex
	clock     search.Clock
	publisher search.Publisher
	archive   search.Archive
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Crawler. publisher and archive may be nil.
func New(
	fr *frontier.Frontier,
	robots RobotsPolicy,
	fetcher search.Fetcher,
	parser *parse.Parser,
	store search.Store,
	index search.TextIndex,
	clock search.Clock,
	publisher search.Publisher,
	archive search.Archive,
	cfg Config,
	logger *zap.Logger,
) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}
	return &Crawler{
		frontier:  fr,
		robots:    robots,
		fetcher:   fetcher,
		parser:    parser,
		store:     store,
		index:     index,
		clock:     clock,
		publisher: publisher,
		archive:   archive,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run crawls until maxPages URLs reach a terminal state or the frontier is
// exhausted. An empty batch with pending rows left means every eligible host
// is throttled; the run waits briefly and retries instead of giving up.
func (c *Crawler) Run(ctx context.Context, maxPages int) (search.RunReport, error) {
	var (
		mu     sync.Mutex
		report search.RunReport
	)
	for {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("crawl run canceled: %w", err)
		}
		mu.Lock()
		remaining := maxPages - report.Processed()
		mu.Unlock()
		if remaining <= 0 {
			break
		}
		batchSize := c.cfg.BatchSize
		if remaining < batchSize {
			batchSize = remaining
		}

		batch, err := c.frontier.NextBatch(ctx, batchSize)
		if err != nil {
			return report, fmt.Errorf("next batch: %w", err)
		}
		if len(batch) == 0 {
			exhausted, err := c.frontier.Exhausted(ctx)
			if err != nil {
				return report, err
			}
			if exhausted {
				break
			}
			// All eligible hosts throttled right now.
			select {
			case <-ctx.Done():
				return report, fmt.Errorf("crawl run canceled: %w", ctx.Err())
			case <-time.After(c.cfg.IdleWait):
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Concurrency)
		for _, rec := range batch {
			g.Go(func() error {
				state := c.processURL(gctx, rec)
				metrics.ObservePage(rec.Host, string(state))
				mu.Lock()
				switch {
				case state == search.StateCrawled:
					report.Crawled++
				case state == search.StateBlocked:
					report.Blocked++
				case state == search.StateSkipped:
					report.Skipped++
				case state == search.StateDuplicate:
					report.Duplicates++
				default:
					report.Errored++
				}
				mu.Unlock()
				return nil
			})
		}
		// Workers swallow per-URL failures; only context errors surface.
		if err := g.Wait(); err != nil {
			return report, fmt.Errorf("crawl batch: %w", err)
		}
	}

	if err := c.store.RecountInlinks(ctx); err != nil {
		return report, fmt.Errorf("recount inlinks: %w", err)
	}
	c.publishEvent(ctx, map[string]any{
		"event":      "run_finished",
		"crawled":    report.Crawled,
		"errored":    report.Errored,
		"blocked":    report.Blocked,
		"skipped":    report.Skipped,
		"duplicates": report.Duplicates,
		"timestamp":  c.clock.Now().Format(time.RFC3339),
	})
	c.logger.Info("crawl run finished",
		zap.Int("crawled", report.Crawled),
		zap.Int("errored", report.Errored),
		zap.Int("blocked", report.Blocked),
		zap.Int("skipped", report.Skipped),
		zap.Int("duplicates", report.Duplicates),
	)
	return report, nil
}

// processURL drives one URL from crawling to a terminal state. Every exit
// path records the state in the store; store write failures are logged and
// the computed state still reported so one bad row cannot stall the run.
func (c *Crawler) processURL(ctx context.Context, rec search.URLRecord) search.CrawlState {
	allowed, err := c.robots.Allowed(ctx, rec.URL)
	if err != nil {
		c.logger.Warn("robots check failed; allowing", zap.String("url", rec.URL), zap.Error(err))
		allowed = true
	}
	if !allowed {
		return c.finish(ctx, rec, search.StateBlocked)
	}

	result, err := c.fetcher.Fetch(ctx, rec.URL)
	if err != nil {
		var ferr *search.FetchError
		code := 0
		if errors.As(err, &ferr) {
			code = ferr.Code
		}
		c.logger.Debug("fetch failed", zap.String("url", rec.URL), zap.Int("code", code), zap.Error(err))
		return c.finish(ctx, rec, search.ErrorState(code))
	}
	metrics.ObserveFetch(rec.Host, result.Duration)

	if !isHTML(result.ContentType) {
		return c.finish(ctx, rec, search.StateSkipped)
	}

	contentHash := fingerprint.Hash64Bytes(result.Body)
	dup, err := c.store.FindByContentHash(ctx, contentHash)
	if err != nil {
		c.logger.Error("duplicate lookup failed", zap.String("url", rec.URL), zap.Error(err))
		return c.finish(ctx, rec, search.ErrorState(0))
	}
	if dup != nil && dup.ID != rec.ID {
		return c.finish(ctx, rec, search.StateDuplicate)
	}

	page, err := c.parser.Parse(result.Body, result.URL)
	if err != nil {
		c.logger.Warn("parse failed", zap.String("url", rec.URL), zap.Error(err))
		return c.finish(ctx, rec, search.ErrorState(0))
	}

	now := c.clock.Now()
	doc := search.Document{
		URLID:         rec.ID,
		Title:         page.Title,
		Description:   page.Description,
		Text:          page.Text,
		ContentLength: len(result.Body),
		FetchedAt:     now,
	}
	if err := c.store.SaveDocument(ctx, doc); err != nil {
		c.logger.Error("save document failed", zap.String("url", rec.URL), zap.Error(err))
		return c.finish(ctx, rec, search.ErrorState(0))
	}
	c.archiveBody(ctx, contentHash, result.Body)

	for _, link := range page.Links {
		priority := c.cfg.CrossDomainPriority
		if search.HostOf(link) == rec.Host {
			priority = c.cfg.SameDomainPriority
		}
		if _, err := c.frontier.AddURL(ctx, link, priority, &rec.ID); err != nil {
			c.logger.Warn("queue outbound link failed",
				zap.String("source", rec.URL), zap.String("link", link), zap.Error(err))
		}
	}

	if err := c.store.MarkCrawled(ctx, rec.ID, contentHash, now); err != nil {
		c.logger.Error("mark crawled failed", zap.String("url", rec.URL), zap.Error(err))
		return search.ErrorState(0)
	}

	if err := c.index.Index(ctx, search.IndexDoc{
		URL:           rec.URL,
		URLID:         rec.ID,
		Title:         doc.Title,
		Description:   doc.Description,
		Content:       doc.Text,
		Domain:        rec.Host,
		PageRank:      rec.Authority,
		InlinkCount:   rec.InlinkCount,
		FetchTime:     now,
		ContentLength: doc.ContentLength,
	}); err != nil {
		// The document is persisted; a failed index write is recoverable by
		// the next bulk refresh.
		c.logger.Warn("index document failed", zap.String("url", rec.URL), zap.Error(err))
	}

	c.publishEvent(ctx, map[string]any{
		"event":        "page_crawled",
		"url":          rec.URL,
		"url_id":       rec.ID,
		"content_hash": fingerprint.String(contentHash),
		"timestamp":    now.Format(time.RFC3339),
	})
	return search.StateCrawled
}

func (c *Crawler) finish(ctx context.Context, rec search.URLRecord, state search.CrawlState) search.CrawlState {
	if err := c.store.UpdateURLState(ctx, rec.ID, search.StateCrawling, state); err != nil {
		c.logger.Error("record terminal state failed",
			zap.String("url", rec.URL), zap.String("state", string(state)), zap.Error(err))
	}
	return state
}

func (c *Crawler) archiveBody(ctx context.Context, contentHash uint64, body []byte) {
	if c.archive == nil {
		return
	}
	key := fingerprint.String(contentHash) + ".html"
	if _, err := c.archive.Put(ctx, key, c.cfg.ArchiveContentType, body); err != nil {
		c.logger.Warn("archive page failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Crawler) publishEvent(ctx context.Context, payload map[string]any) {
	if c.publisher == nil || c.cfg.EventTopic == "" {
		return
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.EventTopic, payload); err != nil {
		c.logger.Warn("publish crawl event failed", zap.Error(err))
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
