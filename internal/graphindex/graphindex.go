// Package graphindex maintains a lightweight structural graph over tracked
// players: typed nodes for players, jerseys, teams and field zones, with
// weighted edges that decay on the logical frame clock. The match engine
// consults it for candidate restriction and a small re-ranking bonus; it is
// never authoritative on its own.
package graphindex

import (
	"math"
	"sort"
	"sync"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/geometry"
	"github.com/matchvision/player-gallery/internal/vecmath"
)

// Edge kinds.
const (
	EdgeHasJersey = "has_jersey"
	EdgeOnTeam    = "on_team"
	EdgeInZone    = "in_zone"
)

type edge struct {
	kind      string
	target    string // jersey number, team name, or zone bucket
	weight    float64
	lastFrame int
}

type playerNode struct {
	trackID   string
	embedding []float32
	edges     []edge
	lastFrame int
}

// Match is one scored candidate from FindMatches.
type Match struct {
	TrackID string
	Score   float64
}

// Constraints restricts the candidate set to players connected to any of the
// supplied attribute nodes. Empty constraints mean all embedded players.
type Constraints struct {
	Jersey string
	Team   string
	Zone   string // grid bucket, see ZoneOf
}

// Index is the auxiliary structural index. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	players map[string]*playerNode
	tuning  config.GraphTuning
}

// New returns an empty index with the given tuning.
func New(tuning config.GraphTuning) *Index {
	if tuning.ZoneGrid <= 0 {
		tuning.ZoneGrid = 10
	}
	if tuning.DecayRate <= 0 || tuning.DecayRate >= 1 {
		tuning.DecayRate = 0.995
	}
	if tuning.MinEdgeWeight <= 0 {
		tuning.MinEdgeWeight = 0.05
	}
	return &Index{
		players: make(map[string]*playerNode),
		tuning:  tuning,
	}
}

// ZoneOf maps a normalized field position onto this index's zone grid.
func (x *Index) ZoneOf(posX, posY float64) string {
	return geometry.PositionBucket(posX, posY, x.tuning.ZoneGrid)
}

// Upsert creates or refreshes the player node for trackID and rewrites its
// outgoing edges. Edge weights only ever ratchet up on repeated
// co-occurrence: max(existing, new), never diluted.
func (x *Index) Upsert(trackID string, embedding []float32, jersey, team string, position []float64, frameIndex int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	node, ok := x.players[trackID]
	if !ok {
		node = &playerNode{trackID: trackID}
		x.players[trackID] = node
	}
	node.lastFrame = frameIndex
	if vecmath.Valid(embedding) {
		node.embedding = vecmath.Normalize(embedding)
	}

	touch := func(kind, target string) {
		if target == "" {
			return
		}
		for i := range node.edges {
			if node.edges[i].kind == kind && node.edges[i].target == target {
				node.edges[i].weight = math.Max(node.edges[i].weight, 1.0)
				node.edges[i].lastFrame = frameIndex
				return
			}
		}
		node.edges = append(node.edges, edge{kind: kind, target: target, weight: 1.0, lastFrame: frameIndex})
	}

	touch(EdgeHasJersey, jersey)
	touch(EdgeOnTeam, team)
	if len(position) == 2 {
		touch(EdgeInZone, geometry.PositionBucket(position[0], position[1], x.tuning.ZoneGrid))
	}
}

// FindMatches scores the candidate set against the query embedding:
// cosine similarity plus structural bonuses for jersey, team and zone
// agreement. Candidates below threshold are dropped; results sort by score
// descending with track id as the deterministic tie-break.
func (x *Index) FindMatches(embedding []float32, constraints Constraints, threshold float64) []Match {
	x.mu.RLock()
	defer x.mu.RUnlock()

	constrained := constraints.Jersey != "" || constraints.Team != "" || constraints.Zone != ""

	var out []Match
	for trackID, node := range x.players {
		if len(node.embedding) == 0 {
			continue
		}
		if constrained && !x.reachable(node, constraints) {
			continue
		}

		score := vecmath.CosineSimilarity(embedding, node.embedding)
		if constraints.Jersey != "" && x.hasEdge(node, EdgeHasJersey, constraints.Jersey) {
			score += x.tuning.JerseyBonus
		}
		if constraints.Team != "" && x.hasEdge(node, EdgeOnTeam, constraints.Team) {
			score += x.tuning.TeamBonus
		}
		if constraints.Zone != "" && x.hasEdge(node, EdgeInZone, constraints.Zone) {
			score += x.tuning.ZoneBonus
		}

		if score >= threshold {
			out = append(out, Match{TrackID: trackID, Score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}

// reachable reports whether the node connects to any supplied constraint.
func (x *Index) reachable(node *playerNode, c Constraints) bool {
	if c.Jersey != "" && x.hasEdge(node, EdgeHasJersey, c.Jersey) {
		return true
	}
	if c.Team != "" && x.hasEdge(node, EdgeOnTeam, c.Team) {
		return true
	}
	if c.Zone != "" && x.hasEdge(node, EdgeInZone, c.Zone) {
		return true
	}
	return false
}

func (x *Index) hasEdge(node *playerNode, kind, target string) bool {
	for i := range node.edges {
		if node.edges[i].kind == kind && node.edges[i].target == target {
			return true
		}
	}
	return false
}

// Decay ages every edge by decay_rate^(frames since last touch) and prunes
// edges that fall below the minimum weight.
func (x *Index) Decay(currentFrame int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, node := range x.players {
		kept := node.edges[:0]
		for _, e := range node.edges {
			age := currentFrame - e.lastFrame
			if age > 0 {
				e.weight *= math.Pow(x.tuning.DecayRate, float64(age))
				e.lastFrame = currentFrame
			}
			if e.weight >= x.tuning.MinEdgeWeight {
				kept = append(kept, e)
			}
		}
		node.edges = kept
	}
}

// ClearOld removes player nodes not touched within maxAge frames, cascading
// their edges. Returns the number of nodes removed.
func (x *Index) ClearOld(currentFrame, maxAge int) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	var removed int
	for trackID, node := range x.players {
		if currentFrame-node.lastFrame > maxAge {
			delete(x.players, trackID)
			removed++
		}
	}
	return removed
}

// Len returns the number of player nodes.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.players)
}

// Tracks returns the track ids currently indexed, sorted.
func (x *Index) Tracks() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.players))
	for trackID := range x.players {
		out = append(out, trackID)
	}
	sort.Strings(out)
	return out
}
