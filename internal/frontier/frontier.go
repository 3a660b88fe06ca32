// Package frontier manages the durable queue of URLs awaiting a fetch.
package frontier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/search"
)

// Throttler is the politeness check consulted during batch selection.
type Throttler interface {
	Throttle(ctx context.Context, host string) (bool, error)
}

// Frontier wraps the store with normalization, dedup and per-host fairness.
// All durable state lives in the store; the frontier itself is stateless and
// safe to run in many processes at once.
type Frontier struct {
	store    search.Store
	throttle Throttler
	logger   *zap.Logger

	// candidate hosts examined per requested batch slot; throttled hosts
	// consume candidates without filling slots
	hostOversample int
}

// New builds a Frontier.
func New(store search.Store, throttle Throttler, logger *zap.Logger) *Frontier {
	return &Frontier{
		store:          store,
		throttle:       throttle,
		logger:         logger,
		hostOversample: 4,
	}
}

// AddURL normalizes and queues a URL. Invalid URLs return (nil, nil) and are
// dropped. Re-adding a known URL raises its priority to the max of old and
// new and returns the existing id. When sourceID is set, a link edge from the
// source to this URL is recorded whether or not the target is new.
func (f *Frontier) AddURL(ctx context.Context, rawURL string, priority float64, sourceID *int64) (*int64, error) {
	normalized, err := search.Normalize(rawURL)
	if err != nil {
		var nerr *search.NormalizationError
		if errors.As(err, &nerr) {
			f.logger.Debug("dropping unqueueable url",
				zap.String("url", rawURL), zap.String("reason", nerr.Reason))
			return nil, nil
		}
		return nil, err
	}

	rec := search.NewURLRecord(normalized, priority)
	id, err := f.store.AddURL(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("add url: %w", err)
	}

	if sourceID != nil && *sourceID != id {
		edge := search.LinkEdge{SourceID: *sourceID, TargetID: id}
		if err := f.store.InsertLinkEdge(ctx, edge); err != nil {
			return nil, fmt.Errorf("record link edge: %w", err)
		}
	}
	return &id, nil
}

// NextBatch selects up to limit pending URLs, one per host, ordered by
// (priority desc, insertion order asc), skipping hosts the throttler
// rejects, and transitions the selected rows to crawling. A short or empty
// batch is a normal outcome when hosts are throttled; callers distinguish
// idleness from exhaustion with Exhausted.
func (f *Frontier) NextBatch(ctx context.Context, limit int) ([]search.URLRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	candidates, err := f.store.PendingByHost(ctx, limit*f.hostOversample)
	if err != nil {
		return nil, fmt.Errorf("select batch candidates: %w", err)
	}

	batch := make([]search.URLRecord, 0, limit)
	for _, rec := range candidates {
		if len(batch) == limit {
			break
		}
		ok, err := f.throttle.Throttle(ctx, rec.Host)
		if err != nil {
			return nil, fmt.Errorf("throttle %s: %w", rec.Host, err)
		}
		if !ok {
			continue
		}
		if err := f.store.UpdateURLState(ctx, rec.ID, search.StatePending, search.StateCrawling); err != nil {
			// Another worker claimed the row between select and update.
			if errors.Is(err, search.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("claim url %d: %w", rec.ID, err)
		}
		rec.State = search.StateCrawling
		batch = append(batch, rec)
	}
	metrics.ObserveBatch(len(batch))
	return batch, nil
}

// Exhausted reports whether no pending URLs remain at all, as opposed to a
// temporarily empty batch caused by throttling.
func (f *Frontier) Exhausted(ctx context.Context) (bool, error) {
	pending, err := f.store.HasPending(ctx)
	if err != nil {
		return false, fmt.Errorf("check frontier exhaustion: %w", err)
	}
	return !pending, nil
}
