// Package persistence versions, checksums, and garbage-collects HNSW
// graph snapshots on top of a graphstore.BlobStore. Write-temp-then-rename
// semantics are delegated to the blob store; checksums use SHA-256.
package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/orneryd/noteindex/pkg/graphstore"
	"github.com/orneryd/noteindex/pkg/hnsw"
)

// SnapshotVersion is the only wire format version this build understands.
// A mismatch is a warning, never an error.
const SnapshotVersion = "1.0.0"

// Sentinel errors.
var (
	ErrChecksumMismatch = errors.New("persistence: checksum mismatch")
	ErrCorrupt          = errors.New("persistence: corrupt snapshot")
)

// Metadata is the snapshot header.
type Metadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	NodeCount int       `json:"nodeCount"`
}

// document is the on-disk snapshot shape: the HNSW topology plus the
// metadata envelope, plus an ExternalKeys map persisting ext↔int directly
// in the snapshot rather than re-deriving it from row order on load.
type document struct {
	hnsw.Snapshot
	Metadata     Metadata       `json:"metadata"`
	ExternalKeys map[string]int `json:"externalKeys,omitempty"`
	Tombstones   []int          `json:"tombstones,omitempty"`
}

// LoadResult bundles the reconstructed graph with the id-mapping and
// tombstone state that travelled alongside it in the snapshot.
type LoadResult struct {
	Graph        *hnsw.Graph
	ExternalKeys map[string]int
	Tombstones   map[int]bool
	NodeCount    int
}

// Checksum computes the persisted checksum for payload: SHA-256 over the
// bytes, truncated to the first 16 hex characters.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// PersistGraph serializes graph (with its external-key map and tombstone
// set) and writes it to store under name via BlobStore.Put, which is
// responsible for atomic create-or-replace visibility.
func PersistGraph(store graphstore.BlobStore, name string, graph *hnsw.Graph, externalKeys map[string]int, tombstones map[int]bool, now time.Time) (checksum string, err error) {
	snap := graph.ToJSON()

	tomb := make([]int, 0, len(tombstones))
	for id := range tombstones {
		tomb = append(tomb, id)
	}
	sort.Ints(tomb)

	doc := document{
		Snapshot:     snap,
		ExternalKeys: externalKeys,
		Tombstones:   tomb,
		Metadata: Metadata{
			Version:   SnapshotVersion,
			CreatedAt: now,
			NodeCount: len(snap.Nodes),
		},
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("persistence: marshal snapshot: %w", err)
	}

	if err := store.Put(name, payload); err != nil {
		return "", fmt.Errorf("persistence: write snapshot %s: %w", name, err)
	}

	return Checksum(payload), nil
}

// LoadGraph reads and decodes the named snapshot. A missing blob or
// decode failure returns (nil, nil) so the caller falls back to cold
// boot. Version mismatches are logged as warnings, not treated as fatal.
func LoadGraph(store graphstore.BlobStore, name string, dim int) (*LoadResult, error) {
	payload, err := store.Get(name)
	if err != nil {
		if errors.Is(err, graphstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read snapshot %s: %w", name, err)
	}

	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		log.Printf("persistence: warning: snapshot %s is corrupt, falling back to cold boot: %v", name, err)
		return nil, nil
	}

	if doc.Metadata.Version != SnapshotVersion {
		log.Printf("persistence: warning: snapshot %s has version %q, expected %q; caller should consider a rebuild",
			name, doc.Metadata.Version, SnapshotVersion)
	}

	graph, err := hnsw.FromJSON(dim, doc.Snapshot)
	if err != nil {
		log.Printf("persistence: warning: snapshot %s failed to reconstruct: %v", name, err)
		return nil, nil
	}

	tombstones := make(map[int]bool, len(doc.Tombstones))
	for _, id := range doc.Tombstones {
		tombstones[id] = true
	}

	return &LoadResult{
		Graph:        graph,
		ExternalKeys: doc.ExternalKeys,
		Tombstones:   tombstones,
		NodeCount:    doc.Metadata.NodeCount,
	}, nil
}

// RenameFile renames a blob; a missing source is idempotent success.
func RenameFile(store graphstore.BlobStore, oldName, newName string) error {
	err := store.Rename(oldName, newName)
	if errors.Is(err, graphstore.ErrNotFound) {
		return nil
	}
	return err
}

// RemoveFile deletes a blob; a missing target is idempotent success.
func RemoveFile(store graphstore.BlobStore, name string) error {
	err := store.Delete(name)
	if errors.Is(err, graphstore.ErrNotFound) {
		return nil
	}
	return err
}

// SnapshotInfo summarizes the blobs currently in the store.
type SnapshotInfo struct {
	Count     int
	TotalSize int64
	Blobs     []graphstore.Info // descending by mtime
}

// GetSnapshotInfo enumerates .json blobs, descending by modification
// time.
func GetSnapshotInfo(store graphstore.BlobStore) (SnapshotInfo, error) {
	blobs, err := store.List()
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("persistence: list snapshots: %w", err)
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].ModTime > blobs[j].ModTime })

	var total int64
	for _, b := range blobs {
		total += b.Size
	}
	return SnapshotInfo{Count: len(blobs), TotalSize: total, Blobs: blobs}, nil
}

// GCOldSnapshots prunes old snapshots. If keep == 0, only "latest" and
// "backup" survive by name; otherwise the first keep entries by mtime
// descending survive and the rest are deleted.
func GCOldSnapshots(store graphstore.BlobStore, keep int) error {
	blobs, err := store.List()
	if err != nil {
		return fmt.Errorf("persistence: list for gc: %w", err)
	}

	if keep == 0 {
		for _, b := range blobs {
			if b.Name == "latest" || b.Name == "backup" {
				continue
			}
			if err := RemoveFile(store, b.Name); err != nil {
				return fmt.Errorf("persistence: gc delete %s: %w", b.Name, err)
			}
		}
		return nil
	}

	sort.Slice(blobs, func(i, j int) bool { return blobs[i].ModTime > blobs[j].ModTime })
	for i, b := range blobs {
		if i < keep {
			continue
		}
		if err := RemoveFile(store, b.Name); err != nil {
			return fmt.Errorf("persistence: gc delete %s: %w", b.Name, err)
		}
	}
	return nil
}
