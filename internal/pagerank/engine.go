// Package pagerank computes authority scores over the stored link graph.
package pagerank

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/search"
)

// Config carries the iteration parameters.
type Config struct {
	Damping       float64
	Threshold     float64
	MaxIterations int
}

// Engine loads the link graph, iterates to convergence and writes the
// resulting scores back in one atomic commit. At most one computation runs
// at a time per process.
type Engine struct {
	store   search.Store
	index   search.TextIndex
	clock   search.Clock
	cfg     Config
	logger  *zap.Logger
	running atomic.Bool
}

// New constructs an Engine. index may be nil when no text backend is wired.
func New(store search.Store, index search.TextIndex, clock search.Clock, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Damping <= 0 || cfg.Damping >= 1 {
		cfg.Damping = 0.85
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1e-6
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100
	}
	return &Engine{store: store, index: index, clock: clock, cfg: cfg, logger: logger}
}

// Run recomputes authority for every known URL. Returns
// search.ErrPageRankRunning when a computation is already in flight.
func (e *Engine) Run(ctx context.Context) (search.RankStats, error) {
	if !e.running.CompareAndSwap(false, true) {
		return search.RankStats{}, search.ErrPageRankRunning
	}
	defer e.running.Store(false)

	start := e.clock.Now()

	ids, err := e.store.AllURLIDs(ctx)
	if err != nil {
		return search.RankStats{}, fmt.Errorf("load url ids: %w", err)
	}
	if len(ids) == 0 {
		return search.RankStats{}, nil
	}
	edges, err := e.store.AllLinkEdges(ctx)
	if err != nil {
		return search.RankStats{}, fmt.Errorf("load link edges: %w", err)
	}

	scores, iterations, delta := compute(ids, edges, e.cfg)

	if err := e.store.RecountInlinks(ctx); err != nil {
		return search.RankStats{}, fmt.Errorf("recount inlinks: %w", err)
	}
	if err := e.store.BulkSetAuthority(ctx, scores); err != nil {
		return search.RankStats{}, fmt.Errorf("commit scores: %w", err)
	}
	if err := e.refreshIndex(ctx); err != nil {
		e.logger.Warn("refresh index boost fields failed", zap.Error(err))
	}

	elapsed := e.clock.Now().Sub(start)
	metrics.ObservePageRank(iterations, elapsed)

	stats := summarize(scores)
	stats.Iterations = iterations
	stats.Delta = delta
	e.logger.Info("pagerank run finished",
		zap.Int("urls", stats.Count),
		zap.Int("iterations", iterations),
		zap.Float64("delta", delta),
		zap.Duration("elapsed", elapsed),
	)
	return stats, nil
}

// TopPages returns the n highest-authority URLs.
func (e *Engine) TopPages(ctx context.Context, n int) ([]search.URLRecord, error) {
	return e.store.TopByAuthority(ctx, n)
}

// compute runs the power iteration. Sink mass, the score held by nodes with
// no outbound edges, is redistributed uniformly each round so the total
// stays a probability distribution.
func compute(ids []int64, edges []search.LinkEdge, cfg Config) (map[int64]float64, int, float64) {
	n := len(ids)
	known := make(map[int64]struct{}, n)
	for _, id := range ids {
		known[id] = struct{}{}
	}

	outDegree := make(map[int64]int, n)
	inbound := make(map[int64][]int64, n)
	for _, e := range edges {
		if _, ok := known[e.SourceID]; !ok {
			continue
		}
		if _, ok := known[e.TargetID]; !ok {
			continue
		}
		outDegree[e.SourceID]++
		inbound[e.TargetID] = append(inbound[e.TargetID], e.SourceID)
	}

	scores := make(map[int64]float64, n)
	for _, id := range ids {
		scores[id] = 1.0 / float64(n)
	}

	base := (1 - cfg.Damping) / float64(n)
	var (
		iterations int
		delta      float64
	)
	for iterations = 1; iterations <= cfg.MaxIterations; iterations++ {
		var sinkMass float64
		for _, id := range ids {
			if outDegree[id] == 0 {
				sinkMass += scores[id]
			}
		}
		sinkShare := cfg.Damping * sinkMass / float64(n)

		next := make(map[int64]float64, n)
		delta = 0
		for _, id := range ids {
			sum := 0.0
			for _, src := range inbound[id] {
				sum += scores[src] / float64(outDegree[src])
			}
			v := base + sinkShare + cfg.Damping*sum
			next[id] = v
			delta += math.Abs(v - scores[id])
		}
		scores = next
		if delta < cfg.Threshold {
			break
		}
	}
	if iterations > cfg.MaxIterations {
		iterations = cfg.MaxIterations
	}
	return scores, iterations, delta
}

// refreshIndex pushes the new authority and inlink values to the text
// backend so its boost fields track the score table.
func (e *Engine) refreshIndex(ctx context.Context) error {
	if e.index == nil {
		return nil
	}
	top, err := e.store.TopByAuthority(ctx, 0)
	if err != nil {
		return err
	}
	docs := make([]search.IndexDoc, 0, len(top))
	for _, rec := range top {
		docs = append(docs, search.IndexDoc{
			URL:         rec.URL,
			URLID:       rec.ID,
			Domain:      rec.Host,
			PageRank:    rec.Authority,
			InlinkCount: rec.InlinkCount,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	return e.index.BulkIndex(ctx, docs)
}

func summarize(scores map[int64]float64) search.RankStats {
	stats := search.RankStats{Count: len(scores)}
	if stats.Count == 0 {
		return stats
	}
	stats.Min = math.Inf(1)
	sum := 0.0
	for _, v := range scores {
		sum += v
		if v > stats.Max {
			stats.Max = v
		}
		if v < stats.Min {
			stats.Min = v
		}
	}
	stats.Mean = sum / float64(stats.Count)
	return stats
}
