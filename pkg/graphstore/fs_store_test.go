package graphstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBlobStorePutGet(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("latest", []byte(`{"hello":"world"}`)))

	data, err := store.Get("latest")
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(data))
}

func TestFSBlobStoreGetMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	_, err = store.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSBlobStoreRenameMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	err = store.Rename("latest", "backup")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSBlobStoreRenameAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("latest", []byte("v1")))
	require.NoError(t, store.Rename("latest", "backup"))

	_, err = store.Get("latest")
	assert.ErrorIs(t, err, ErrNotFound)

	data, err := store.Get("backup")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	require.NoError(t, store.Delete("backup"))
	_, err = store.Get("backup")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSBlobStoreDeleteMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	assert.ErrorIs(t, store.Delete("ghost"), ErrNotFound)
}

func TestFSBlobStoreList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("latest", []byte("a")))
	require.NoError(t, store.Put("backup", []byte("b")))

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	names := map[string]bool{}
	for _, info := range infos {
		names[info.Name] = true
	}
	assert.True(t, names["latest"])
	assert.True(t, names["backup"])
}

func TestFSBlobStorePutOverwrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("latest", []byte("v1")))
	require.NoError(t, store.Put("latest", []byte("v2")))

	data, err := store.Get("latest")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}
