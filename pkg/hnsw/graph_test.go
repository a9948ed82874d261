package hnsw

import (
	"math/rand"
	"testing"

	"github.com/orneryd/noteindex/pkg/vectorops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(v []float32) []float32 { return vectorops.Normalize(v) }

func TestInsertAndSearchOrthonormal(t *testing.T) {
	g := New(4, DefaultConfig())

	require.NoError(t, g.Insert(1, unit([]float32{1, 0, 0, 0})))
	require.NoError(t, g.Insert(2, unit([]float32{0, 1, 0, 0})))
	require.NoError(t, g.Insert(3, unit([]float32{0, 0, 1, 0})))

	results, err := g.SearchKNN(unit([]float32{1, 0, 0, 0}), 2, 50)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.0, results[1].Score, 1e-6)
}

func TestInsertDuplicateID(t *testing.T) {
	g := New(3, DefaultConfig())
	v := unit([]float32{1, 2, 3})
	require.NoError(t, g.Insert(1, v))
	err := g.Insert(1, v)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestInsertDimensionMismatch(t *testing.T) {
	g := New(4, DefaultConfig())
	err := g.Insert(1, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchEmptyGraph(t *testing.T) {
	g := New(4, DefaultConfig())
	results, err := g.SearchKNN(unit([]float32{1, 0, 0, 0}), 5, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRemoveRestoresEntryPoint(t *testing.T) {
	g := New(2, DefaultConfig())
	require.NoError(t, g.Insert(1, unit([]float32{1, 0})))
	require.NoError(t, g.Insert(2, unit([]float32{0, 1})))

	ep, ok := g.EntryPoint()
	require.True(t, ok)

	g.Remove(ep)
	assert.False(t, g.Has(ep))

	newEP, ok := g.EntryPoint()
	require.True(t, ok)
	assert.NotEqual(t, ep, newEP)
}

func TestSnapshotRoundTrip(t *testing.T) {
	g := New(8, Config{M: 8, EfConstruction: 50})
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		require.NoError(t, g.Insert(i, unit(v)))
	}

	query := make([]float32, 8)
	for j := range query {
		query[j] = float32(r.NormFloat64())
	}
	query = unit(query)

	before, err := g.SearchKNN(query, 5, 50)
	require.NoError(t, err)

	snap := g.ToJSON()
	restored, err := FromJSON(8, snap)
	require.NoError(t, err)

	after, err := restored.SearchKNN(query, 5, 50)
	require.NoError(t, err)

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-9)
	}
}

func TestRecallFloor(t *testing.T) {
	const n, dim, k = 2000, 32, 10
	r := rand.New(rand.NewSource(7))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = unit(v)
	}

	g := New(dim, Config{M: 16, EfConstruction: 200})
	for i, v := range vectors {
		require.NoError(t, g.Insert(i, v))
	}

	queries := 20
	var totalRecall float64
	for q := 0; q < queries; q++ {
		query := vectors[r.Intn(n)]

		approx, err := g.SearchKNN(query, k, 100)
		require.NoError(t, err)

		type scored struct {
			id    int
			score float64
		}
		exact := make([]scored, n)
		for i, v := range vectors {
			exact[i] = scored{id: i, score: vectorops.DotProduct(query, v)}
		}
		sortScoredDesc(exact)
		exactTop := map[int]bool{}
		for i := 0; i < k && i < len(exact); i++ {
			exactTop[exact[i].id] = true
		}

		hits := 0
		for _, r := range approx {
			if exactTop[r.ID] {
				hits++
			}
		}
		totalRecall += float64(hits) / float64(k)
	}

	avgRecall := totalRecall / float64(queries)
	assert.GreaterOrEqual(t, avgRecall, 0.85, "average recall@%d should clear the floor", k)
}

func sortScoredDesc(s []struct {
	id    int
	score float64
}) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].score > s[j-1].score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func TestRandomLevelDistribution(t *testing.T) {
	g := New(4, DefaultConfig())
	var maxLevel int
	for i := 0; i < 1000; i++ {
		l := g.randomLevel()
		if l > maxLevel {
			maxLevel = l
		}
		assert.GreaterOrEqual(t, l, 0)
	}
	// With M=16, mL ~= 0.36; levels above ~10 are astronomically unlikely.
	assert.Less(t, maxLevel, 15)
}
