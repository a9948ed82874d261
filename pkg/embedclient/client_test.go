package embedclient

import (
	"context"
	"testing"

	"github.com/orneryd/noteindex/pkg/vectorops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticClientDeterministic(t *testing.T) {
	c := NewStaticClient(16)
	ctx := context.Background()

	r1, err := c.Embed(ctx, []string{"hello world"})
	require.NoError(t, err)
	r2, err := c.Embed(ctx, []string{"hello world"})
	require.NoError(t, err)

	assert.Equal(t, r1.Vector, r2.Vector)
	assert.Equal(t, 16, r1.Dim)
}

func TestStaticClientDistinctTexts(t *testing.T) {
	c := NewStaticClient(8)
	ctx := context.Background()

	a, _ := c.Embed(ctx, []string{"alpha"})
	b, _ := c.Embed(ctx, []string{"beta"})
	assert.NotEqual(t, a.Vector, b.Vector)
}

func TestNormalizeResultMultiSegment(t *testing.T) {
	raw := Result{Vector: []float32{3, 4, 0, 0, 6, 8}, Dim: 2}
	norm := NormalizeResult(raw)
	require.Len(t, norm.Vector, 6)
	assert.True(t, vectorops.IsUnit(norm.Vector[0:2], 1e-4))
	assert.True(t, vectorops.IsUnit(norm.Vector[4:6], 1e-4))
}

func TestReadyNeverErrorsForStaticClient(t *testing.T) {
	c := NewStaticClient(4)
	assert.NoError(t, c.Ready(context.Background()))
}
