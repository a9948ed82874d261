// Package hnsw implements a Hierarchical Navigable Small World graph: a
// multi-layer proximity graph supporting approximate nearest-neighbor
// insert and search in sub-linear time.
//
// Nodes live in an arena keyed by internal integer id (never by pointer),
// so neighbor adjacency lists store plain ids. This sidesteps any cycle
// concern from the graph's inherently cyclic, undirected edges.
package hnsw

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/orneryd/noteindex/pkg/vectorops"
)

// Sentinel errors returned by Graph operations.
var (
	ErrDimensionMismatch = errors.New("hnsw: vector dimension mismatch")
	ErrDuplicateID       = errors.New("hnsw: id already present")
	ErrNotFound          = errors.New("hnsw: id not found")
)

// Config holds the tunable HNSW parameters.
type Config struct {
	M              int // base per-layer degree budget
	EfConstruction int // candidate beam width during insert
}

// DefaultConfig returns sensible default HNSW parameters.
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200}
}

// Mmax0 returns the layer-0 degree budget, twice the base M.
func (c Config) Mmax0() int { return 2 * c.M }

// Mmax returns the degree budget for the given layer.
func (c Config) Mmax(layer int) int {
	if layer == 0 {
		return c.Mmax0()
	}
	return c.M
}

// mL returns the level-assignment scale factor 1/ln(M).
func (c Config) mL() float64 { return 1.0 / math.Log(float64(c.M)) }

type node struct {
	id        int
	vector    []float32
	level     int
	neighbors [][]int // neighbors[layer] = adjacent node ids
	mu        sync.RWMutex
}

// SearchResult is a single scored hit from SearchKNN, score is cosine
// similarity in [-1, 1].
type SearchResult struct {
	ID    int
	Score float64
}

// Graph is a multi-layer HNSW proximity graph over unit vectors.
type Graph struct {
	mu         sync.RWMutex
	config     Config
	dim        int
	nodes      map[int]*node
	entryPoint int
	entryLevel int
	hasEntry   bool
}

// New creates an empty graph for vectors of the given dimension.
func New(dim int, config Config) *Graph {
	if config.M == 0 {
		config = DefaultConfig()
	}
	return &Graph{
		config: config,
		dim:    dim,
		nodes:  make(map[int]*node),
	}
}

// Dim returns the fixed vector dimension for this graph instance.
func (g *Graph) Dim() int { return g.dim }

// Config returns the graph's HNSW parameters.
func (g *Graph) Config() Config { return g.config }

// Size returns the number of nodes in the graph (including tombstoned
// ones tracked by the caller — the graph itself has no tombstone
// concept, that lives in the search engine).
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EntryPoint returns the current entry point id and whether one exists.
func (g *Graph) EntryPoint() (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entryPoint, g.hasEntry
}

// Has reports whether id is present in the graph.
func (g *Graph) Has(id int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// randomLevel draws a level per the standard HNSW exponential decay
// distribution, level = floor(-ln(u) * mL).
func (g *Graph) randomLevel() int {
	u := rand.Float64()
	for u == 0 {
		u = rand.Float64()
	}
	return int(-math.Log(u) * g.config.mL())
}

// Insert adds a new vector under id. v must already be unit-normalized
// and id must be absent; inserting a duplicate id is an error (callers
// must Remove first — treated upstream by the search engine as a
// tombstone+reinsert).
func (g *Graph) Insert(id int, v []float32) error {
	if len(v) != g.dim {
		return ErrDimensionMismatch
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return ErrDuplicateID
	}

	level := g.randomLevel()
	n := &node{
		id:        id,
		vector:    v,
		level:     level,
		neighbors: make([][]int, level+1),
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]int, 0, g.config.M)
	}
	g.nodes[id] = n

	if !g.hasEntry {
		g.entryPoint = id
		g.entryLevel = level
		g.hasEntry = true
		return nil
	}

	ep := g.entryPoint
	epLevel := g.entryLevel

	for l := epLevel; l > level; l-- {
		ep = g.searchLayerSingle(v, ep, l)
	}

	upperBound := epLevel
	if level < upperBound {
		upperBound = level
	}
	for l := upperBound; l >= 0; l-- {
		candidates := g.searchLayer(v, ep, g.config.EfConstruction, l)
		selected := g.selectNeighborsHeuristic(v, candidates, g.config.M)
		n.neighbors[l] = selected

		for _, nbID := range selected {
			nb := g.nodes[nbID]
			nb.mu.Lock()
			nb.neighbors[l] = append(nb.neighbors[l], id)
			if len(nb.neighbors[l]) > g.config.Mmax(l) {
				nb.neighbors[l] = g.selectNeighborsHeuristicIDs(nb.vector, nb.neighbors[l], g.config.Mmax(l))
			}
			nb.mu.Unlock()
		}

		if len(candidates) > 0 {
			ep = candidates[0].ID
		}
	}

	if level > epLevel {
		g.entryPoint = id
		g.entryLevel = level
	}

	return nil
}

// Remove deletes id from the graph's adjacency, unlinking it from every
// neighbor. The search engine tombstones rather than calling this (see
// package searchengine), and full rebuilds replace the whole graph via
// searchengine.Engine.Clear, so nothing in the module calls Remove.
func (g *Graph) Remove(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id)
}

func (g *Graph) removeLocked(id int) {
	n, exists := g.nodes[id]
	if !exists {
		return
	}

	for l := 0; l <= n.level; l++ {
		for _, nbID := range n.neighbors[l] {
			nb, ok := g.nodes[nbID]
			if !ok {
				continue
			}
			nb.mu.Lock()
			filtered := nb.neighbors[l][:0:0]
			for _, x := range nb.neighbors[l] {
				if x != id {
					filtered = append(filtered, x)
				}
			}
			nb.neighbors[l] = filtered
			nb.mu.Unlock()
		}
	}

	delete(g.nodes, id)

	if g.hasEntry && g.entryPoint == id {
		g.restoreEntryPointLocked()
	}
}

// restoreEntryPointLocked scans for the highest-level remaining node and
// promotes it to entry point. Callers must hold g.mu.
func (g *Graph) restoreEntryPointLocked() {
	g.hasEntry = false
	best := -1
	for nid, n := range g.nodes {
		if n.level > best {
			best = n.level
			g.entryPoint = nid
			g.hasEntry = true
		}
	}
	if g.hasEntry {
		g.entryLevel = best
	} else {
		g.entryLevel = 0
	}
}

// RestoreEntryPoint re-derives the entry point from scratch, for use when
// the caller (e.g. the search engine) tombstones the current entry point
// without removing it from the graph.
func (g *Graph) RestoreEntryPoint(excluded func(id int) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasEntry = false
	best := -1
	for nid, n := range g.nodes {
		if excluded != nil && excluded(nid) {
			continue
		}
		if n.level > best {
			best = n.level
			g.entryPoint = nid
			g.hasEntry = true
		}
	}
	if g.hasEntry {
		g.entryLevel = best
	}
}

// SearchKNN returns up to k nearest neighbors to q (which must already be
// unit-normalized) using beam width ef (ef must be >= k). Results are
// sorted by descending cosine similarity.
func (g *Graph) SearchKNN(q []float32, k, ef int) ([]SearchResult, error) {
	if len(q) != g.dim {
		return nil, ErrDimensionMismatch
	}
	if ef < k {
		ef = k
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return []SearchResult{}, nil
	}

	ep := g.entryPoint
	for l := g.entryLevel; l > 0; l-- {
		ep = g.searchLayerSingle(q, ep, l)
	}

	candidates := g.searchLayer(q, ep, ef, 0)

	results := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = SearchResult{ID: c.ID, Score: 1.0 - c.Dist}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Vector returns the stored (already unit-normalized) vector for id.
func (g *Graph) Vector(id int) ([]float32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.vector, true
}

// searchLayerSingle greedily walks to the single closest neighbor of
// query within level, starting from entryID. Callers must hold g.mu
// (read or write).
func (g *Graph) searchLayerSingle(query []float32, entryID, level int) int {
	current := entryID
	currentDist := vectorops.Distance(vectorops.DotProduct(query, g.nodes[current].vector))

	for {
		n := g.nodes[current]
		n.mu.RLock()
		neighbors := append([]int(nil), n.neighbors[level]...)
		n.mu.RUnlock()

		changed := false
		for _, nbID := range neighbors {
			nb := g.nodes[nbID]
			dist := vectorops.Distance(vectorops.DotProduct(query, nb.vector))
			if dist < currentDist {
				current = nbID
				currentDist = dist
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return current
}

// searchLayer runs best-first beam search within level, returning up to
// ef candidates sorted by ascending distance. Callers must hold g.mu.
func (g *Graph) searchLayer(query []float32, entryID, ef, level int) []vectorops.CandidateItem {
	visited := map[int]bool{entryID: true}

	candidates := vectorops.NewMinCandidateHeap()
	results := vectorops.NewMaxCandidateHeap()

	entryDist := vectorops.Distance(vectorops.DotProduct(query, g.nodes[entryID].vector))
	candidates.Push(vectorops.CandidateItem{ID: entryID, Dist: entryDist})
	results.Push(vectorops.CandidateItem{ID: entryID, Dist: entryDist})

	for candidates.Len() > 0 {
		closest := candidates.Pop()

		if results.Len() >= ef && closest.Dist > results.Peek().Dist {
			break
		}

		n := g.nodes[closest.ID]
		n.mu.RLock()
		neighbors := append([]int(nil), n.neighbors[level]...)
		n.mu.RUnlock()

		for _, nbID := range neighbors {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true

			nb := g.nodes[nbID]
			dist := vectorops.Distance(vectorops.DotProduct(query, nb.vector))

			if results.Len() < ef || dist < results.Peek().Dist {
				candidates.Push(vectorops.CandidateItem{ID: nbID, Dist: dist})
				results.Push(vectorops.CandidateItem{ID: nbID, Dist: dist})
				if results.Len() > ef {
					results.Pop()
				}
			}
		}
	}

	items := results.Items()
	out := make([]vectorops.CandidateItem, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].Dist < out[j].Dist })
	return out
}

// selectNeighborsHeuristic implements diversity-preserving pruning:
// repeatedly admit the candidate closest to q among those not yet
// rejected, rejecting any candidate that is farther from q than it is
// from some already-admitted candidate. Ties on distance favor the lower
// internal id for determinism.
func (g *Graph) selectNeighborsHeuristic(q []float32, candidates []vectorops.CandidateItem, m int) []int {
	if len(candidates) <= m {
		out := make([]int, len(candidates))
		for i, c := range candidates {
			out[i] = c.ID
		}
		sort.Ints(out)
		return out
	}

	sorted := append([]vectorops.CandidateItem(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Dist != sorted[j].Dist {
			return sorted[i].Dist < sorted[j].Dist
		}
		return sorted[i].ID < sorted[j].ID
	})

	var selected []vectorops.CandidateItem
	for _, c := range sorted {
		if len(selected) >= m {
			break
		}
		cVec, ok := g.nodes[c.ID]
		if !ok {
			continue
		}
		admit := true
		for _, s := range selected {
			sVec := g.nodes[s.ID]
			distToSelected := vectorops.Distance(vectorops.DotProduct(cVec.vector, sVec.vector))
			if distToSelected < c.Dist {
				admit = false
				break
			}
		}
		if admit {
			selected = append(selected, c)
		}
	}

	// Heuristic pruning can admit fewer than m when candidates cluster;
	// backfill with the closest rejected candidates to still respect the
	// degree budget, keeping determinism via the same sort order.
	if len(selected) < m {
		have := make(map[int]bool, len(selected))
		for _, s := range selected {
			have[s.ID] = true
		}
		for _, c := range sorted {
			if len(selected) >= m {
				break
			}
			if !have[c.ID] {
				selected = append(selected, c)
				have[c.ID] = true
			}
		}
	}

	out := make([]int, len(selected))
	for i, s := range selected {
		out[i] = s.ID
	}
	sort.Ints(out)
	return out
}

// selectNeighborsHeuristic overload used when re-pruning an existing
// node's own neighbor list, which is stored as []int rather than
// []CandidateItem: convert and delegate.
func (g *Graph) selectNeighborsHeuristicIDs(q []float32, candidateIDs []int, m int) []int {
	items := make([]vectorops.CandidateItem, len(candidateIDs))
	for i, id := range candidateIDs {
		items[i] = vectorops.CandidateItem{ID: id, Dist: vectorops.Distance(vectorops.DotProduct(q, g.nodes[id].vector))}
	}
	return g.selectNeighborsHeuristic(q, items, m)
}
