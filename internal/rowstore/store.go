// Package rowstore defines the external Store contract the sync
// orchestrator depends on, plus a reference in-memory implementation used
// by tests and the CLI demo. The production row store is always an
// external collaborator; this package exists so the rest of the module
// has a concrete, swappable thing to run against behind a common storage
// interface. MemStore is the only implementation in this package.
package rowstore

import (
	"context"
	"time"
)

// Selector names a reactive query the orchestrator subscribes to.
type Selector string

// The two reactive selectors the orchestrator subscribes to.
const (
	SelectorNotesRequiringEmbedding Selector = "notes-requiring-embedding"
	SelectorOrphanedEmbeddings      Selector = "orphaned-embeddings"
)

// EmbeddingRow is the wire shape of a single embedding row.
type EmbeddingRow struct {
	Key       string
	Title     string
	Content   string
	VecBytes  []byte
	VecDim    int
	Model     string
	UpdatedAt time.Time
}

// OrphanedEmbeddingRow identifies an embedding whose parent note no
// longer exists.
type OrphanedEmbeddingRow struct {
	Key string
}

// Event is the sealed set of events the core commits to the store.
type Event interface{ isEvent() }

// EmbeddingUpserted is committed whenever the index embeds (or
// re-embeds) a note.
type EmbeddingUpserted struct {
	Key      string
	Title    string
	Content  string
	VecBytes []byte
	VecDim   int
	Model    string
	Ts       time.Time
}

// EmbeddingRemoved is committed when an embedding is torn down.
type EmbeddingRemoved struct {
	Key string
}

// SnapshotCreated is committed after a successful persisted snapshot.
type SnapshotCreated struct {
	FileName  string
	Checksum  string
	Size      int64
	NodeCount int
	Model     string
	Ts        time.Time
}

// IndexCleared is committed when the index is wiped (e.g. forceFullRebuild).
type IndexCleared struct {
	Ts     time.Time
	Reason string
}

func (EmbeddingUpserted) isEvent() {}
func (EmbeddingRemoved) isEvent()  {}
func (SnapshotCreated) isEvent()   {}
func (IndexCleared) isEvent()      {}

// Unsubscribe stops a subscription started with Store.Subscribe.
type Unsubscribe func()

// Store is the opaque event-sourced row store the sync orchestrator
// consumes. It is out of scope for this module's own persistence
// concerns: the module treats it as a fixed external contract.
type Store interface {
	// QueryEmbeddings returns the current rows matching selector.
	QueryEmbeddings(ctx context.Context, selector Selector) ([]EmbeddingRow, error)

	// QueryOrphaned returns embedding rows whose parent note is gone.
	QueryOrphaned(ctx context.Context) ([]OrphanedEmbeddingRow, error)

	// Commit appends an event to the store's event log.
	Commit(ctx context.Context, event Event) error

	// Subscribe registers onChange to be invoked (with no payload —
	// callers re-query) whenever rows matching selector may have
	// changed. The returned Unsubscribe must be idempotent.
	Subscribe(selector Selector, onChange func()) Unsubscribe
}
