package persistence

import (
	"testing"
	"time"

	"github.com/orneryd/noteindex/pkg/graphstore"
	"github.com/orneryd/noteindex/pkg/hnsw"
	"github.com/orneryd/noteindex/pkg/vectorops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T) *hnsw.Graph {
	t.Helper()
	g := hnsw.New(4, hnsw.DefaultConfig())
	require.NoError(t, g.Insert(1, vectorops.Normalize([]float32{1, 0, 0, 0})))
	require.NoError(t, g.Insert(2, vectorops.Normalize([]float32{0, 1, 0, 0})))
	return g
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := graphstore.NewFSBlobStore(dir)
	require.NoError(t, err)

	g := buildGraph(t)
	extKeys := map[string]int{"a": 1, "b": 2}
	tombstones := map[int]bool{}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	checksum, err := PersistGraph(store, "latest", g, extKeys, tombstones, now)
	require.NoError(t, err)
	assert.Len(t, checksum, 16)

	result, err := LoadGraph(store, "latest", 4)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.NodeCount)
	assert.Equal(t, extKeys, result.ExternalKeys)
	assert.Empty(t, result.Tombstones)

	query := vectorops.Normalize([]float32{1, 0, 0, 0})
	before, err := g.SearchKNN(query, 2, 50)
	require.NoError(t, err)
	after, err := result.Graph.SearchKNN(query, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoadGraphMissingReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	store, err := graphstore.NewFSBlobStore(dir)
	require.NoError(t, err)

	result, err := LoadGraph(store, "latest", 4)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestLoadGraphCorruptReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	store, err := graphstore.NewFSBlobStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put("latest", []byte("not json")))

	result, err := LoadGraph(store, "latest", 4)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestGCOldSnapshotsKeepZero(t *testing.T) {
	dir := t.TempDir()
	store, err := graphstore.NewFSBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("latest", []byte("1")))
	require.NoError(t, store.Put("backup", []byte("2")))
	require.NoError(t, store.Put("snapshot-2026", []byte("3")))

	require.NoError(t, GCOldSnapshots(store, 0))

	info, err := GetSnapshotInfo(store)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)
}

func TestRenameAndRemoveFileIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := graphstore.NewFSBlobStore(dir)
	require.NoError(t, err)

	assert.NoError(t, RenameFile(store, "latest", "backup"))
	assert.NoError(t, RemoveFile(store, "ghost"))
}

func TestChecksumStable(t *testing.T) {
	payload := []byte(`{"a":1}`)
	assert.Equal(t, Checksum(payload), Checksum(payload))
	assert.Len(t, Checksum(payload), 16)
}
