package gallery

import (
	"sort"
	"sync"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/vecmath"
)

// Stats summarizes the gallery for the match engine's adaptive threshold.
// It is heuristic guidance only and never accepts or rejects a match by
// itself.
type Stats struct {
	GallerySize       int     `json:"gallery_size"`
	DiversityRatio    float64 `json:"diversity_ratio"`
	AvgInterPlayerSim float64 `json:"avg_inter_player_sim"`
	AvgIntraPlayerSim float64 `json:"avg_intra_player_sim"`
}

// Statistics caches the pairwise similarity scan. The cache is an explicit
// field on the owning store with an explicit refresh contract; the refresh
// interval is measured on the logical frame clock, not wall time. The cache
// carries its own lock so the store can serve Compute under a read lock.
type Statistics struct {
	tuning config.StatsTuning

	mu              sync.Mutex
	cached          *Stats
	computedAtFrame int
}

// NewStatistics returns a statistics component with the given tuning.
func NewStatistics(tuning config.StatsTuning) *Statistics {
	if tuning.IntraPlayerSimilarity <= 0 {
		// Not separately tracked, the source design fixes it at 0.6.
		tuning.IntraPlayerSimilarity = 0.6
	}
	if tuning.RefreshIntervalFrames <= 0 {
		tuning.RefreshIntervalFrames = 500
	}
	return &Statistics{tuning: tuning}
}

// Invalidate drops the cache so the next Compute rescans.
func (s *Statistics) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Compute returns gallery statistics, reusing the cache unless force is set
// or the refresh interval has elapsed on the frame clock.
func (s *Statistics) Compute(profiles map[string]*Profile, currentFrame int, force bool) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && !force &&
		currentFrame-s.computedAtFrame < s.tuning.RefreshIntervalFrames {
		out := *s.cached
		out.GallerySize = len(profiles)
		return out
	}

	// Deterministic pair ordering.
	ids := make([]string, 0, len(profiles))
	for id, p := range profiles {
		if p.HasEmbedding() && len(p.Embedding) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var sum float64
	var pairs int
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			sum += vecmath.CosineSimilarity(profiles[ids[i]].Embedding, profiles[ids[j]].Embedding)
			pairs++
		}
	}

	stats := Stats{
		GallerySize:       len(profiles),
		AvgIntraPlayerSim: s.tuning.IntraPlayerSimilarity,
	}
	if pairs > 0 {
		stats.AvgInterPlayerSim = sum / float64(pairs)
	}
	if stats.AvgIntraPlayerSim > 0 {
		stats.DiversityRatio = stats.AvgInterPlayerSim / stats.AvgIntraPlayerSim
	}

	s.cached = &stats
	s.computedAtFrame = currentFrame
	return stats
}
