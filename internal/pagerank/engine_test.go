package pagerank

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akerley/webrank/internal/clock/system"
	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/search"
	memorystore "github.com/akerley/webrank/internal/storage/memory"
	memoryindex "github.com/akerley/webrank/internal/textindex/memory"
)

func init() {
	metrics.Init()
}

func testConfig() Config {
	return Config{Damping: 0.85, Threshold: 1e-6, MaxIterations: 100}
}

func sumScores(scores map[int64]float64) float64 {
	total := 0.0
	for _, v := range scores {
		total += v
	}
	return total
}

func TestComputeConservesMassWithSinks(t *testing.T) {
	t.Parallel()

	// Node 3 is a sink; without redistribution its mass would leak.
	ids := []int64{1, 2, 3}
	edges := []search.LinkEdge{
		{SourceID: 1, TargetID: 2},
		{SourceID: 2, TargetID: 3},
	}
	scores, iterations, delta := compute(ids, edges, testConfig())

	require.InDelta(t, 1.0, sumScores(scores), 1e-6)
	require.Greater(t, iterations, 1)
	require.Less(t, delta, 1e-6)
}

func TestComputeConvergesOnKnownGraph(t *testing.T) {
	t.Parallel()

	// Four nodes, edges 1->2, 1->3, 2->3, 3->4, 4->1.
	ids := []int64{1, 2, 3, 4}
	edges := []search.LinkEdge{
		{SourceID: 1, TargetID: 2},
		{SourceID: 1, TargetID: 3},
		{SourceID: 2, TargetID: 3},
		{SourceID: 3, TargetID: 4},
		{SourceID: 4, TargetID: 1},
	}
	cfg := testConfig()
	scores, _, _ := compute(ids, edges, cfg)
	require.InDelta(t, 1.0, sumScores(scores), 1e-6)

	// One more iteration moves every score by less than the threshold.
	again := testConfig()
	again.MaxIterations = 1
	next, _, _ := computeFrom(scores, ids, edges, again)
	for id := range scores {
		require.InDelta(t, scores[id], next[id], cfg.Threshold)
	}
}

// computeFrom runs further iterations starting at a given score vector.
func computeFrom(start map[int64]float64, ids []int64, edges []search.LinkEdge, cfg Config) (map[int64]float64, int, float64) {
	outDegree := make(map[int64]int)
	inbound := make(map[int64][]int64)
	for _, e := range edges {
		outDegree[e.SourceID]++
		inbound[e.TargetID] = append(inbound[e.TargetID], e.SourceID)
	}
	n := len(ids)
	base := (1 - cfg.Damping) / float64(n)
	scores := start
	var delta float64
	for i := 0; i < cfg.MaxIterations; i++ {
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
	}
	return scores, cfg.MaxIterations, delta
}

func TestComputeAuthorityOrdering(t *testing.T) {
	t.Parallel()

	// A links to B and C, B links to C: C collects the most authority.
	ids := []int64{1, 2, 3}
	edges := []search.LinkEdge{
		{SourceID: 1, TargetID: 2},
		{SourceID: 1, TargetID: 3},
		{SourceID: 2, TargetID: 3},
	}
	scores, _, _ := compute(ids, edges, testConfig())
	require.Greater(t, scores[3], scores[2])
	require.Greater(t, scores[2], scores[1])
}

func TestComputeIgnoresEdgesToUnknownNodes(t *testing.T) {
	t.Parallel()

	ids := []int64{1, 2}
	edges := []search.LinkEdge{
		{SourceID: 1, TargetID: 2},
		{SourceID: 1, TargetID: 99},
		{SourceID: 98, TargetID: 2},
	}
	scores, _, _ := compute(ids, edges, testConfig())
	require.InDelta(t, 1.0, sumScores(scores), 1e-6)
	require.NotContains(t, scores, int64(99))
}

func newEngineFixture(t *testing.T) (*Engine, *memorystore.Store) {
	t.Helper()
	store := memorystore.New()
	return New(store, memoryindex.New(), system.New(), testConfig(), zap.NewNop()), store
}

func addURL(t *testing.T, store *memorystore.Store, rawURL string) int64 {
	t.Helper()
	normalized, err := search.Normalize(rawURL)
	require.NoError(t, err)
	id, err := store.AddURL(context.Background(), search.NewURLRecord(normalized, 0.5))
	require.NoError(t, err)
	return id
}

func TestEngineRunPersistsScores(t *testing.T) {
	t.Parallel()

	engine, store := newEngineFixture(t)
	ctx := context.Background()
	a := addURL(t, store, "http://example.com/a")
	b := addURL(t, store, "http://example.com/b")
	c := addURL(t, store, "http://example.com/c")
	require.NoError(t, store.InsertLinkEdge(ctx, search.LinkEdge{SourceID: a, TargetID: b}))
	require.NoError(t, store.InsertLinkEdge(ctx, search.LinkEdge{SourceID: a, TargetID: c}))
	require.NoError(t, store.InsertLinkEdge(ctx, search.LinkEdge{SourceID: b, TargetID: c}))

	stats, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Count)
	require.Greater(t, stats.Iterations, 1)
	require.InDelta(t, 1.0/3.0, stats.Mean, 1e-6)
	require.Greater(t, stats.Max, stats.Min)

	top, err := engine.TopPages(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	require.Equal(t, c, top[0].ID)
	require.Equal(t, b, top[1].ID)
	require.Equal(t, a, top[2].ID)

	// Inlink counts were re-derived alongside the scores.
	recB, err := store.GetURL(ctx, b)
	require.NoError(t, err)
	require.Equal(t, 1, recB.InlinkCount)
}

func TestEngineRunEmptyGraph(t *testing.T) {
	t.Parallel()

	engine, _ := newEngineFixture(t)
	stats, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Count)
}

func TestEngineSingleFlight(t *testing.T) {
	t.Parallel()

	engine, store := newEngineFixture(t)
	addURL(t, store, "http://example.com/a")

	engine.running.Store(true)
	_, err := engine.Run(context.Background())
	require.ErrorIs(t, err, search.ErrPageRankRunning)

	engine.running.Store(false)
	_, err = engine.Run(context.Background())
	require.NoError(t, err)
}
