package hnsw

import "sort"

// SnapshotNode mirrors one entry of the "nodes[]" array in the snapshot
// wire format.
type SnapshotNode struct {
	ID               int       `json:"id"`
	Level            int       `json:"level"`
	Vector           []float32 `json:"vector"`
	NeighborsByLayer [][]int   `json:"neighborsByLayer"`
}

// Snapshot mirrors the topology fields of the snapshot document (the
// "metadata" envelope is owned by package persistence, which embeds a
// Snapshot under its own top-level struct).
type Snapshot struct {
	M              int            `json:"M"`
	EfConstruction int            `json:"efConstruction"`
	LevelMax       int            `json:"levelMax"`
	EntryPointID   int            `json:"entryPointId"`
	Nodes          []SnapshotNode `json:"nodes"`
}

// ToJSON returns a serializable snapshot of the graph's topology.
func (g *Graph) ToJSON() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	nodes := make([]SnapshotNode, 0, len(ids))
	for _, id := range ids {
		n := g.nodes[id]
		layers := make([][]int, len(n.neighbors))
		for i, layer := range n.neighbors {
			layers[i] = append([]int(nil), layer...)
		}
		nodes = append(nodes, SnapshotNode{
			ID:               n.id,
			Level:            n.level,
			Vector:           append([]float32(nil), n.vector...),
			NeighborsByLayer: layers,
		})
	}

	ep := 0
	if g.hasEntry {
		ep = g.entryPoint
	}

	return Snapshot{
		M:              g.config.M,
		EfConstruction: g.config.EfConstruction,
		LevelMax:       g.entryLevel,
		EntryPointID:   ep,
		Nodes:          nodes,
	}
}

// FromJSON reconstructs a Graph from a previously serialized Snapshot. It
// validates dimension consistency and trusts the serialized adjacency
// verbatim — it does NOT re-run insertion or re-derive edges.
func FromJSON(dim int, snap Snapshot) (*Graph, error) {
	g := &Graph{
		config: Config{M: snap.M, EfConstruction: snap.EfConstruction},
		dim:    dim,
		nodes:  make(map[int]*node, len(snap.Nodes)),
	}

	for _, jn := range snap.Nodes {
		if len(jn.Vector) != dim {
			return nil, ErrDimensionMismatch
		}
		layers := make([][]int, len(jn.NeighborsByLayer))
		for i, layer := range jn.NeighborsByLayer {
			layers[i] = append([]int(nil), layer...)
		}
		g.nodes[jn.ID] = &node{
			id:        jn.ID,
			vector:    append([]float32(nil), jn.Vector...),
			level:     jn.Level,
			neighbors: layers,
		}
	}

	if len(g.nodes) > 0 {
		if _, ok := g.nodes[snap.EntryPointID]; ok {
			g.entryPoint = snap.EntryPointID
			g.entryLevel = snap.LevelMax
			g.hasEntry = true
		} else {
			g.restoreEntryPointLocked()
		}
	}

	return g, nil
}
