package match

import (
	"sync"

	"github.com/coder/hnsw"

	"github.com/matchvision/player-gallery/internal/gallery"
)

// Neighbor count per HNSW node.
const annMaxNeighbors = 16

// annIndex is an approximate-nearest-neighbor pre-filter over the fused
// profile embeddings. It only restricts which profiles the engine scores on
// large galleries; it never scores anything itself.
type annIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	size  int
}

func newANNIndex() *annIndex {
	return &annIndex{}
}

// Rebuild recreates the graph from the current profile map. Profiles without
// a fused embedding are skipped.
func (a *annIndex) Rebuild(profiles map[string]*gallery.Profile) {
	g := hnsw.NewGraph[string]()
	g.M = annMaxNeighbors
	g.Ml = 1.0 / float64(annMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	var size int
	for id, p := range profiles {
		if len(p.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(id, p.Embedding))
		size++
	}

	a.mu.Lock()
	a.graph = g
	a.size = size
	a.mu.Unlock()
}

// Candidates returns the ids of the k nearest profiles, or nil when the
// index is empty or unbuilt (meaning: scan everything).
func (a *annIndex) Candidates(query []float32, k int) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.graph == nil || a.size == 0 || k <= 0 {
		return nil
	}

	neighbors := a.graph.Search(query, k)
	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
	}
	return ids
}

// Len returns the number of indexed profiles.
func (a *annIndex) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}
