// Package match scores detections against every stored profile to decide
// "who is this": ensemble region similarity, team/jersey/uniform/history
// boosts, an adaptive threshold and team-aware two-pass selection.
package match

import (
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/graphindex"
	"github.com/matchvision/player-gallery/internal/metrics"
	"github.com/matchvision/player-gallery/internal/vecmath"
)

// Query carries the detection's region embeddings and optional hints.
type Query struct {
	Regions       map[string][]float32
	Confidence    float64
	Quality       float64
	DominantColor []float64
	Team          string
	JerseyNumber  string
	Uniform       *gallery.UniformVariant
	TrackID       string
	Position      []float64 // normalized [x, y], used for graph zone hints
	CurrentFrame  int
}

// Region returns the named region embedding from the query.
func (q *Query) Region(name string) []float32 {
	return q.Regions[name]
}

// valid reports whether the query carries at least one usable embedding.
func (q *Query) valid() bool {
	for _, v := range q.Regions {
		if vecmath.Valid(v) {
			return true
		}
	}
	return false
}

// Filters restricts the candidate set by id.
type Filters struct {
	ExcludeIDs     []string
	IncludeOnlyIDs []string
}

// Result is the selected profile, or the zero Result for no match.
type Result struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// Matched reports whether a profile was selected.
func (r Result) Matched() bool { return r.ID != "" }

// Candidate is one scored profile in diagnostics mode.
type Candidate struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Team      string  `json:"team,omitempty"`
	Raw       float64 `json:"raw"`
	Final     float64 `json:"final"`
	CrossTeam bool    `json:"cross_team"`
}

// Engine scores queries against the gallery. It consults the optional graph
// index and ANN pre-filter for candidate hints but owns the decision itself.
type Engine struct {
	store      *gallery.Store
	graph      *graphindex.Index
	ann        *annIndex
	tuning     config.Tuning
	strictTeam bool
	log        *zap.Logger

	// Highest query frame the graph has been aged to.
	graphFrame atomic.Int64
}

// NewEngine returns an engine over the given store.
func NewEngine(store *gallery.Store, tuning config.Tuning, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:  store,
		ann:    newANNIndex(),
		tuning: tuning,
		log:    log,
	}
}

// WithGraph attaches the auxiliary structural index.
func (e *Engine) WithGraph(g *graphindex.Index) *Engine {
	e.graph = g
	return e
}

// SetStrictTeam makes a team mismatch exclude a candidate outright instead
// of applying the penalty.
func (e *Engine) SetStrictTeam(strict bool) {
	e.strictTeam = strict
}

// RebuildANN refreshes the ANN pre-filter from the current gallery. Call
// after bulk mutations; the engine falls back to a full scan when the index
// is stale or the gallery is small.
func (e *Engine) RebuildANN() {
	e.store.Read(func(profiles map[string]*gallery.Profile) {
		e.ann.Rebuild(profiles)
	})
}

// Match scores the query against the gallery and returns the selected
// profile or the zero Result. An empty gallery or an invalid query embedding
// is a no-match, not an error.
func (e *Engine) Match(q *Query, filters Filters, baseThreshold float64) Result {
	candidates, eff := e.score(q, filters, baseThreshold)
	result := selectCandidate(candidates, eff, e.tuning.Boosts.RelaxedFloor)
	if result.Matched() {
		metrics.MatchesScored.WithLabelValues("matched").Inc()
	} else {
		metrics.MatchesScored.WithLabelValues("no_match").Inc()
	}
	return result
}

// MatchAll returns every scored candidate, best first, for diagnostics.
func (e *Engine) MatchAll(q *Query, filters Filters, baseThreshold float64) []Candidate {
	candidates, _ := e.score(q, filters, baseThreshold)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Final != candidates[j].Final {
			return candidates[i].Final > candidates[j].Final
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// score runs the filtering, ensemble similarity and boost pipeline over a
// consistent snapshot of the gallery.
func (e *Engine) score(q *Query, filters Filters, baseThreshold float64) ([]Candidate, float64) {
	if q == nil || !q.valid() {
		metrics.MatchesScored.WithLabelValues("invalid_query").Inc()
		return nil, baseThreshold
	}

	stats := e.store.Stats(false)
	eff := effectiveThreshold(baseThreshold, q, stats, e.tuning.Threshold)

	exclude := make(map[string]struct{}, len(filters.ExcludeIDs))
	for _, id := range filters.ExcludeIDs {
		exclude[id] = struct{}{}
	}
	var includeOnly map[string]struct{}
	if len(filters.IncludeOnlyIDs) > 0 {
		includeOnly = make(map[string]struct{}, len(filters.IncludeOnlyIDs))
		for _, id := range filters.IncludeOnlyIDs {
			includeOnly[id] = struct{}{}
		}
	}

	graphTracks := e.graphHint(q)
	e.observeGraph(q)

	var candidates []Candidate
	e.store.Read(func(profiles map[string]*gallery.Profile) {
		scan := e.scanSet(q, profiles)

		for _, id := range scan {
			p := profiles[id]
			if _, skip := exclude[id]; skip {
				continue
			}
			if includeOnly != nil {
				if _, ok := includeOnly[id]; !ok {
					continue
				}
			}
			if !p.HasEmbedding() {
				continue
			}

			raw := ensembleSimilarity(q, p)
			sim, excluded := e.applyBoosts(raw, q, p, eff, graphTracks)
			if excluded {
				continue
			}

			crossTeam := q.Team != "" && p.Team != "" && !strings.EqualFold(q.Team, p.Team)
			candidates = append(candidates, Candidate{
				ID:        id,
				Name:      p.Name,
				Team:      p.Team,
				Raw:       raw,
				Final:     sim,
				CrossTeam: crossTeam,
			})
		}
	})

	return candidates, eff
}

// scanSet picks the profile ids to score: everything for small galleries,
// the ANN neighborhood for large ones. Sorted for determinism.
func (e *Engine) scanSet(q *Query, profiles map[string]*gallery.Profile) []string {
	if enable := e.tuning.ANN.EnableAbove; enable > 0 && len(profiles) > enable {
		if general := q.Region(gallery.RegionGeneral); len(general) > 0 {
			if ids := e.ann.Candidates(general, e.tuning.ANN.Candidates); len(ids) > 0 {
				kept := ids[:0]
				for _, id := range ids {
					if _, ok := profiles[id]; ok {
						kept = append(kept, id)
					}
				}
				sort.Strings(kept)
				return kept
			}
		}
	}

	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// graphHint consults the auxiliary index for structurally plausible tracks.
// The hint only ever adds a small re-rank bonus; it never excludes anyone.
func (e *Engine) graphHint(q *Query) map[string]struct{} {
	if e.graph == nil {
		return nil
	}
	constraints := graphindex.Constraints{
		Jersey: q.JerseyNumber,
		Team:   q.Team,
	}
	if len(q.Position) == 2 {
		constraints.Zone = e.graph.ZoneOf(q.Position[0], q.Position[1])
	}
	if constraints.Jersey == "" && constraints.Team == "" && constraints.Zone == "" {
		return nil
	}

	matches := e.graph.FindMatches(q.Region(gallery.RegionGeneral), constraints, 0)
	if len(matches) == 0 {
		return nil
	}
	tracks := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		tracks[m.TrackID] = struct{}{}
	}
	return tracks
}

// observeGraph feeds a query carrying a track id into the structural index,
// after graphHint ran, so a query never re-ranks against its own sighting.
func (e *Engine) observeGraph(q *Query) {
	if e.graph == nil || q.TrackID == "" {
		return
	}
	e.graph.Upsert(q.TrackID, q.Region(gallery.RegionGeneral), q.JerseyNumber, q.Team, q.Position, q.CurrentFrame)
	e.ageGraph(q.CurrentFrame)
}

// ageGraph decays edges and drops stale nodes whenever the query frame clock
// advances. The CAS loop keeps concurrent requests from aging twice.
func (e *Engine) ageGraph(currentFrame int) {
	for {
		last := e.graphFrame.Load()
		if int64(currentFrame) <= last {
			return
		}
		if !e.graphFrame.CompareAndSwap(last, int64(currentFrame)) {
			continue
		}
		e.graph.Decay(currentFrame)
		if maxAge := e.tuning.Graph.MaxNodeAge; maxAge > 0 {
			e.graph.ClearOld(currentFrame, maxAge)
		}
		return
	}
}

// applyBoosts runs the boost/penalty pipeline in its fixed order, each step
// re-clamped into [0,1]. Returns the final similarity and whether strict
// team mode excluded the candidate.
func (e *Engine) applyBoosts(sim float64, q *Query, p *gallery.Profile, eff float64, graphTracks map[string]struct{}) (float64, bool) {
	b := e.tuning.Boosts

	sim, excluded := applyTeam(sim, q.Team, p.Team, eff, e.strictTeam, b)
	if excluded {
		return 0, true
	}
	sim = applyJersey(sim, q.JerseyNumber, p.JerseyNumber, b)
	sim = applyUniform(sim, q.Uniform, candidateUniform(p), b)
	sim = applyEarlyFrame(sim, q, p, b)
	sim = applyColor(sim, q.DominantColor, p.DominantColor, b)

	if len(graphTracks) > 0 {
		for track := range p.TrackHistory {
			if _, ok := graphTracks[track]; ok {
				sim = clamp01(sim + e.tuning.Graph.RerankBonus)
				break
			}
		}
	}

	sim = clamp01(sim + breadcrumbBoost(p, q.TrackID, b))
	return sim, false
}

// candidateUniform picks the profile's best-known uniform variant: the most
// populated per-variant pool wins, ties broken by key for determinism.
func candidateUniform(p *gallery.Profile) *gallery.UniformVariant {
	var bestKey string
	bestLen := -1
	for key, pool := range p.UniformPools {
		if pool.Len() > bestLen || (pool.Len() == bestLen && key < bestKey) {
			bestKey, bestLen = key, pool.Len()
		}
	}
	if bestLen < 0 {
		return nil
	}
	pool := p.UniformPools[bestKey]
	for i := range pool.Frames {
		if pool.Frames[i].Uniform != nil {
			return pool.Frames[i].Uniform
		}
	}
	return nil
}

// selectCandidate implements the two-pass team-aware selection: same-team
// (or team-unknown) candidates at the effective threshold first, then
// cross-team at the threshold, then both again at the relaxed floor.
func selectCandidate(candidates []Candidate, effThreshold, relaxedFloor float64) Result {
	best := func(crossTeam bool, floor float64) (Candidate, bool) {
		var winner Candidate
		found := false
		for _, c := range candidates {
			if c.CrossTeam != crossTeam || c.Final < floor {
				continue
			}
			if !found || c.Final > winner.Final ||
				(c.Final == winner.Final && c.ID < winner.ID) {
				winner = c
				found = true
			}
		}
		return winner, found
	}

	for _, pass := range []struct {
		crossTeam bool
		floor     float64
	}{
		{false, effThreshold},
		{true, effThreshold},
		{false, relaxedFloor},
		{true, relaxedFloor},
	} {
		if winner, ok := best(pass.crossTeam, pass.floor); ok {
			return Result{ID: winner.ID, Name: winner.Name, Similarity: winner.Final}
		}
	}
	return Result{}
}
