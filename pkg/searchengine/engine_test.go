package searchengine

import (
	"context"
	"testing"

	"github.com/orneryd/noteindex/pkg/embedclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 16

func newTestEngine() *Engine {
	cfg := DefaultConfig()
	return New(testDim, cfg, embedclient.NewStaticClient(testDim))
}

func vecFor(t *testing.T, e *Engine, text string) []float32 {
	t.Helper()
	result, err := embedclient.NewStaticClient(testDim).Embed(context.Background(), []string{text})
	require.NoError(t, err)
	return result.Vector
}

func TestAddPointAndSearchReturnsSelf(t *testing.T) {
	e := newTestEngine()
	vec := vecFor(t, e, "alpha note body")

	require.NoError(t, e.AddPoint("note:alpha", vec, Meta{Title: "Alpha"}))

	results, err := e.Search(context.Background(), "alpha note body", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "note:alpha", results[0].Key)
	assert.Equal(t, "Alpha", results[0].Title)
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	e := newTestEngine()
	results, err := e.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddPointDimensionMismatch(t *testing.T) {
	e := newTestEngine()
	err := e.AddPoint("bad", make([]float32, testDim+1), Meta{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAddPointUpsertTombstonesOld(t *testing.T) {
	e := newTestEngine()
	vec1 := vecFor(t, e, "first version")
	vec2 := vecFor(t, e, "second version")

	require.NoError(t, e.AddPoint("note:x", vec1, Meta{Title: "v1"}))
	require.NoError(t, e.AddPoint("note:x", vec2, Meta{Title: "v2"}))

	assert.Equal(t, 1, e.KnownCount())

	results, err := e.Search(context.Background(), "second version", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "v2", results[0].Title)
}

func TestRemovePointIsNoOpForMissingKey(t *testing.T) {
	e := newTestEngine()
	e.RemovePoint("does-not-exist")
	assert.Equal(t, 0, e.KnownCount())
}

func TestRemovePointExcludesFromSearch(t *testing.T) {
	e := newTestEngine()
	vec := vecFor(t, e, "removable content")
	require.NoError(t, e.AddPoint("note:gone", vec, Meta{Title: "Gone"}))
	require.Equal(t, 1, e.KnownCount())

	e.RemovePoint("note:gone")
	assert.Equal(t, 0, e.KnownCount())

	results, err := e.Search(context.Background(), "removable content", 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "note:gone", r.Key)
	}
}

func TestClearResetsState(t *testing.T) {
	e := newTestEngine()
	vec := vecFor(t, e, "something")
	require.NoError(t, e.AddPoint("note:a", vec, Meta{}))
	require.Equal(t, 1, e.KnownCount())

	e.Clear()
	assert.Equal(t, 0, e.KnownCount())

	_, hasEP := e.Graph().EntryPoint()
	assert.False(t, hasEP)
}

func TestDedupeChunksToParentKeepsMaxScore(t *testing.T) {
	in := []SearchResult{
		{Key: "doc:0", Score: 0.5},
		{Key: "doc:1", Score: 0.9},
		{Key: "doc:2", Score: 0.1},
		{Key: "other", Score: 0.7},
	}
	out := dedupeChunksToParent(in)

	byKey := map[string]SearchResult{}
	for _, r := range out {
		byKey[r.Key] = r
	}
	require.Contains(t, byKey, "doc")
	require.Contains(t, byKey, "other")
	assert.Equal(t, 0.9, byKey["doc"].Score)
	assert.Equal(t, 0.7, byKey["other"].Score)
}

func TestParentOfNonChunkKeyIsUnchanged(t *testing.T) {
	assert.Equal(t, "note:alpha", parentOf("note:alpha"))
	assert.Equal(t, "note", parentOf("note:3"))
}

type fakeSparseScorer struct {
	scores map[string]float64
}

func (f fakeSparseScorer) Score(key string) (float64, bool) {
	v, ok := f.scores[key]
	return v, ok
}

func TestSearchFusesSparseScoreWhenInstalled(t *testing.T) {
	e := newTestEngine()
	// Search embeds the query with SearchQueryPrefix, so store exactly that
	// vector to make the dense cosine 1.0.
	vec := vecFor(t, e, embedclient.SearchQueryPrefix+"fusion candidate")
	require.NoError(t, e.AddPoint("note:fusion", vec, Meta{Title: "Fusion"}))

	e.InstallSparseScorer(fakeSparseScorer{scores: map[string]float64{"note:fusion": 0.2}})
	e.mu.Lock()
	e.config.Alpha = 0.5
	e.mu.Unlock()

	results, err := e.Search(context.Background(), "fusion candidate", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.InDelta(t, 0.5*1.0+0.5*0.2, results[0].Score, 0.05)
}

func TestSearchResultsCacheHit(t *testing.T) {
	e := newTestEngine()
	vec := vecFor(t, e, "cache me")
	require.NoError(t, e.AddPoint("note:cache", vec, Meta{Title: "Cache"}))

	first, err := e.Search(context.Background(), "cache me", 5)
	require.NoError(t, err)

	second, err := e.Search(context.Background(), "cache me", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAddPointIdempotentOnUnchangedVector(t *testing.T) {
	e := newTestEngine()
	vec := vecFor(t, e, "stable content")

	require.NoError(t, e.AddPoint("note:stable", vec, Meta{Title: "Stable"}))
	require.NoError(t, e.AddPoint("note:stable", vec, Meta{Title: "Stable"}))
	require.NoError(t, e.AddPoint("note:stable", vec, Meta{Title: "Stable"}))

	assert.Equal(t, 1, e.KnownCount())

	results, err := e.Search(context.Background(), "stable content", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "note:stable", results[0].Key)
}

func TestReplaceGraphAndSnapshotRoundTrip(t *testing.T) {
	e := newTestEngine()
	vec := vecFor(t, e, "snapshot me")
	require.NoError(t, e.AddPoint("note:snap", vec, Meta{Title: "Snap"}))

	graph, keys, tomb := e.Snapshot()
	assert.Equal(t, map[string]int{"note:snap": 0}, keys)
	assert.Empty(t, tomb)

	e2 := newTestEngine()
	e2.ReplaceGraph(graph, keys, tomb)
	assert.Equal(t, 1, e2.KnownCount())

	results, err := e2.Search(context.Background(), "snapshot me", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "note:snap", results[0].Key)
}
