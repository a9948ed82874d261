package rowstore

import (
	"context"
	"sync"
)

// MemStore is a minimal in-memory Store used by tests and the CLI demo
// harness. It is not a production row store, playing the same "simple
// in-memory backend behind a shared interface" role a storage engine's
// own in-memory backend plays alongside its durable one.
type MemStore struct {
	mu         sync.Mutex
	notes      map[string]noteRecord
	embeddings map[string]EmbeddingRow
	events     []Event

	subs map[Selector][]func()
}

type noteRecord struct {
	exists bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		notes:      make(map[string]noteRecord),
		embeddings: make(map[string]EmbeddingRow),
		subs:       make(map[Selector][]func()),
	}
}

// PutNote registers (or re-registers) a note as existing, so its
// embedding (once upserted) is not considered orphaned.
func (m *MemStore) PutNote(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[key] = noteRecord{exists: true}
}

// DeleteNote removes a note, orphaning any embedding row sharing its key.
func (m *MemStore) DeleteNote(key string) {
	m.mu.Lock()
	delete(m.notes, key)
	m.mu.Unlock()
	m.notify(SelectorOrphanedEmbeddings)
}

// PutEmbeddingRow upserts an embedding row directly, as if the embedding
// pipeline had just produced it, and notifies subscribers.
func (m *MemStore) PutEmbeddingRow(row EmbeddingRow) {
	m.mu.Lock()
	m.embeddings[row.Key] = row
	m.mu.Unlock()
	m.notify(SelectorNotesRequiringEmbedding)
}

func (m *MemStore) QueryEmbeddings(_ context.Context, selector Selector) ([]EmbeddingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if selector != SelectorNotesRequiringEmbedding {
		return nil, nil
	}
	out := make([]EmbeddingRow, 0, len(m.embeddings))
	for _, row := range m.embeddings {
		out = append(out, row)
	}
	return out, nil
}

func (m *MemStore) QueryOrphaned(_ context.Context) ([]OrphanedEmbeddingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []OrphanedEmbeddingRow
	for key := range m.embeddings {
		if _, ok := m.notes[key]; !ok {
			out = append(out, OrphanedEmbeddingRow{Key: key})
		}
	}
	return out, nil
}

func (m *MemStore) Commit(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemStore) Subscribe(selector Selector, onChange func()) Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[selector] = append(m.subs[selector], onChange)
	idx := len(m.subs[selector]) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.subs[selector]) {
			m.subs[selector][idx] = nil
		}
	}
}

// Events returns a copy of the committed event log, for test assertions.
func (m *MemStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func (m *MemStore) notify(selector Selector) {
	m.mu.Lock()
	callbacks := append([]func(){}, m.subs[selector]...)
	m.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}
