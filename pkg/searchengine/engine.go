// Package searchengine holds the HNSW graph, the external↔internal id
// maps, tombstones, and the adaptive search pipeline (beam widening,
// exact rerank, optional sparse fusion, chunk→parent dedup, LRU caches).
package searchengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/orneryd/noteindex/pkg/embedclient"
	"github.com/orneryd/noteindex/pkg/hnsw"
	"github.com/orneryd/noteindex/pkg/vectorops"
)

// Sentinel errors.
var (
	ErrDimensionMismatch = hnsw.ErrDimensionMismatch
	ErrEmptyQuery        = errors.New("searchengine: empty query")
)

// Meta is the in-memory metadata kept alongside each vector: enough to
// render a result without round-tripping to the row store.
type Meta struct {
	Title          string
	ContentPreview string
}

// SparseScorer is the optional secondary lexical/QPS index the engine may
// fuse scores with. Modeled as a narrow interface so a hybrid full-text
// index can be composed in without the engine depending on it directly.
type SparseScorer interface {
	Score(parentKey string) (score float64, ok bool)
}

// Config holds the adaptive-search tunables.
type Config struct {
	EfSearch       int
	EfConstruction int
	Alpha          float64
	CacheSize      int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{EfSearch: 50, EfConstruction: 200, Alpha: 1.0, CacheSize: 128}
}

// SearchResult is a single ranked hit.
type SearchResult struct {
	Key            string
	Score          float64
	Title          string
	ContentPreview string
}

// Engine owns the HNSW graph, id maps, tombstones, and caches. All
// mutation goes through AddPoint/RemovePoint/Clear; Search is safe to
// call concurrently with itself and with mutation. Each of its steps
// (cache lookup, tombstone filtering, rerank) takes the engine's mutex
// on its own, while the HNSW traversal runs under the graph's own lock,
// so a mutation can land between two steps of one search.
type Engine struct {
	mu sync.RWMutex

	dim    int
	config Config
	graph  *hnsw.Graph

	extToInt map[string]int
	intToExt map[int]string
	nextID   int
	tomb     map[int]bool
	meta     map[int]Meta

	embedder embedclient.Client
	sparse   SparseScorer

	queryCache   *lruCache
	resultsCache *lruCache
}

// New constructs an engine for vectors of dimension dim.
func New(dim int, config Config, embedder embedclient.Client) *Engine {
	if config.CacheSize <= 0 {
		config = DefaultConfig()
	}
	return &Engine{
		dim:          dim,
		config:       config,
		graph:        hnsw.New(dim, hnsw.Config{M: 16, EfConstruction: config.EfConstruction}),
		extToInt:     make(map[string]int),
		intToExt:     make(map[int]string),
		tomb:         make(map[int]bool),
		meta:         make(map[int]Meta),
		embedder:     embedder,
		queryCache:   newLRUCache(config.CacheSize),
		resultsCache: newLRUCache(config.CacheSize),
	}
}

// InstallSparseScorer wires an optional secondary scorer for fusion.
func (e *Engine) InstallSparseScorer(s SparseScorer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sparse = s
}

// Graph exposes the underlying HNSW graph, primarily for the
// persistence/sync layers that need to snapshot or replace it wholesale.
func (e *Engine) Graph() *hnsw.Graph { return e.graph }

// Dim returns the fixed vector dimension.
func (e *Engine) Dim() int { return e.dim }

// AddPoint normalizes vector and inserts it under extKey. If extKey is
// already mapped, the existing entry is tombstoned and a fresh internal
// id is allocated: an upsert is expressed as remove-then-add rather than
// an in-place update.
func (e *Engine) AddPoint(extKey string, vector []float32, meta Meta) error {
	if len(vector) != e.dim {
		return ErrDimensionMismatch
	}
	normalized := vectorops.Normalize(vector)

	e.mu.Lock()
	defer e.mu.Unlock()

	if oldID, exists := e.extToInt[extKey]; exists {
		e.tomb[oldID] = true
	}

	id := e.nextID
	e.nextID++

	if err := e.graph.Insert(id, normalized); err != nil {
		return fmt.Errorf("searchengine: insert %s: %w", extKey, err)
	}

	e.extToInt[extKey] = id
	e.intToExt[id] = extKey
	e.meta[id] = meta

	e.invalidateCachesLocked()
	return nil
}

// RemovePoint tombstones the internal id mapped to extKey, if any. A
// missing key is a no-op. Mapping entries are retained until the next
// full rebuild.
func (e *Engine) RemovePoint(extKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.extToInt[extKey]
	if !ok {
		return
	}
	e.tomb[id] = true

	if ep, hasEP := e.graph.EntryPoint(); hasEP && ep == id {
		e.graph.RestoreEntryPoint(func(candidate int) bool { return e.tomb[candidate] })
	}

	e.invalidateCachesLocked()
}

// Clear resets the graph, maps, nextId, tombstones, and caches.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.graph = hnsw.New(e.dim, hnsw.Config{M: 16, EfConstruction: e.config.EfConstruction})
	e.extToInt = make(map[string]int)
	e.intToExt = make(map[int]string)
	e.nextID = 0
	e.tomb = make(map[int]bool)
	e.meta = make(map[int]Meta)
	e.invalidateCachesLocked()
}

// KnownCount returns the number of non-tombstoned entries currently
// mirrored in the index.
func (e *Engine) KnownCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for id := range e.intToExt {
		if !e.tomb[id] {
			n++
		}
	}
	return n
}

// ReplaceGraph swaps in a freshly loaded graph plus its accompanying
// id/tombstone state, used by the sync orchestrator after a warm boot.
func (e *Engine) ReplaceGraph(graph *hnsw.Graph, externalKeys map[string]int, tombstones map[int]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.graph = graph
	e.extToInt = make(map[string]int, len(externalKeys))
	e.intToExt = make(map[int]string, len(externalKeys))
	maxID := -1
	for key, id := range externalKeys {
		e.extToInt[key] = id
		e.intToExt[id] = key
		if id > maxID {
			maxID = id
		}
	}
	e.nextID = maxID + 1
	e.tomb = make(map[int]bool, len(tombstones))
	for id := range tombstones {
		e.tomb[id] = true
	}
	e.meta = make(map[int]Meta)
	e.invalidateCachesLocked()
}

// Snapshot returns the state needed to persist: the graph, the current
// ext↔int map, and the tombstone set.
func (e *Engine) Snapshot() (graph *hnsw.Graph, externalKeys map[string]int, tombstones map[int]bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	keys := make(map[string]int, len(e.extToInt))
	for k, v := range e.extToInt {
		keys[k] = v
	}
	tomb := make(map[int]bool, len(e.tomb))
	for k := range e.tomb {
		tomb[k] = true
	}
	return e.graph, keys, tomb
}

func (e *Engine) invalidateCachesLocked() {
	e.queryCache.clear()
	e.resultsCache.clear()
}

// Search embeds queryText, runs adaptive HNSW k-NN with tombstone
// filtering, exact reranking, optional sparse fusion, and chunk→parent
// dedup.
func (e *Engine) Search(ctx context.Context, queryText string, k int) ([]SearchResult, error) {
	trimmed := strings.TrimSpace(queryText)
	if trimmed == "" {
		return []SearchResult{}, nil
	}

	if cached, ok := e.lookupResultsCache(trimmed); ok {
		if len(cached) > k {
			return cached[:k], nil
		}
		return cached, nil
	}

	queryVec, err := e.resolveQueryVector(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("searchengine: embed query: %w", err)
	}

	candidates, err := e.adaptiveSearch(queryVec, k)
	if err != nil {
		return nil, err
	}

	results := e.rerankAndFuse(candidates, queryVec)
	results = dedupeChunksToParent(results)

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}

	e.storeResultsCache(trimmed, results)
	return results, nil
}

func (e *Engine) lookupResultsCache(query string) ([]SearchResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.resultsCache.get(query)
	if !ok {
		return nil, false
	}
	return v.([]SearchResult), true
}

func (e *Engine) storeResultsCache(query string, results []SearchResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resultsCache.put(query, results)
}

func (e *Engine) resolveQueryVector(ctx context.Context, query string) ([]float32, error) {
	e.mu.Lock()
	if v, ok := e.queryCache.get(query); ok {
		e.mu.Unlock()
		return v.([]float32), nil
	}
	e.mu.Unlock()

	result, err := e.embedder.Embed(ctx, []string{embedclient.SearchQueryPrefix + query})
	if err != nil {
		return nil, err
	}
	normalized := embedclient.NormalizeResult(result)
	if len(normalized.Vector) != e.dim {
		return nil, ErrDimensionMismatch
	}

	e.mu.Lock()
	e.queryCache.put(query, normalized.Vector)
	e.mu.Unlock()

	return normalized.Vector, nil
}

type scoredCandidate struct {
	id    int
	extID string
	score float64
}

// adaptiveSearch requests K=5k at ef=efSearch, filters tombstones; if the
// top score is below 0.65 or fewer than k survive, retries once with
// ef=2*efSearch and K=10k.
func (e *Engine) adaptiveSearch(queryVec []float32, k int) ([]scoredCandidate, error) {
	const retryScoreFloor = 0.65

	try := func(ef, limit int) ([]scoredCandidate, error) {
		e.mu.RLock()
		graph := e.graph
		e.mu.RUnlock()

		raw, err := graph.SearchKNN(queryVec, limit, ef)
		if err != nil {
			return nil, fmt.Errorf("searchengine: hnsw search: %w", err)
		}

		e.mu.RLock()
		defer e.mu.RUnlock()
		out := make([]scoredCandidate, 0, len(raw))
		for _, r := range raw {
			if e.tomb[r.ID] {
				continue
			}
			extID, ok := e.intToExt[r.ID]
			if !ok {
				continue
			}
			out = append(out, scoredCandidate{id: r.ID, extID: extID, score: r.Score})
		}
		return out, nil
	}

	first, err := try(e.config.EfSearch, 5*k)
	if err != nil {
		return nil, err
	}

	needsRetry := len(first) < k
	if !needsRetry && len(first) > 0 && first[0].score < retryScoreFloor {
		needsRetry = true
	}
	if !needsRetry {
		return first, nil
	}

	second, err := try(2*e.config.EfSearch, 10*k)
	if err != nil {
		return nil, err
	}
	return second, nil
}

// rerankAndFuse recomputes exact cosine similarity for every candidate
// (the HNSW score is only a traversal estimate) and, if a sparse scorer
// is installed, fuses it in via a weighted sum.
func (e *Engine) rerankAndFuse(candidates []scoredCandidate, queryVec []float32) []SearchResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		vec, ok := e.graph.Vector(c.id)
		if !ok {
			continue
		}
		exact := vectorops.DotProduct(queryVec, vec)

		final := exact
		if e.sparse != nil {
			parentKey := parentOf(c.extID)
			if sparseScore, ok := e.sparse.Score(parentKey); ok {
				final = e.config.Alpha*exact + (1-e.config.Alpha)*sparseScore
			}
		}

		m := e.meta[c.id]
		out = append(out, SearchResult{
			Key:            c.extID,
			Score:          final,
			Title:          m.Title,
			ContentPreview: m.ContentPreview,
		})
	}
	return out
}

// parentOf extracts the parent key from a "parent:chunkIndex" style key,
// returning the key unchanged if it has no chunk suffix.
func parentOf(key string) string {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return key
	}
	if _, err := strconv.Atoi(key[idx+1:]); err != nil {
		return key
	}
	return key[:idx]
}

// dedupeChunksToParent collapses results sharing a parent key (of the
// form "parent:chunkIndex") down to a single entry keeping the max score.
func dedupeChunksToParent(results []SearchResult) []SearchResult {
	best := make(map[string]SearchResult, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		parent := parentOf(r.Key)
		existing, ok := best[parent]
		if !ok {
			best[parent] = SearchResult{Key: parent, Score: r.Score, Title: r.Title, ContentPreview: r.ContentPreview}
			order = append(order, parent)
			continue
		}
		if r.Score > existing.Score {
			best[parent] = SearchResult{Key: parent, Score: r.Score, Title: r.Title, ContentPreview: r.ContentPreview}
		}
	}
	out := make([]SearchResult, 0, len(order))
	for _, parent := range order {
		out = append(out, best[parent])
	}
	return out
}
