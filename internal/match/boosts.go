package match

import (
	"strings"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/gallery"
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// jerseyEquivalent reports whether two jersey numbers match after stripping
// zero padding ("07" vs "7").
func jerseyEquivalent(a, b string) bool {
	trim := func(s string) string {
		t := strings.TrimLeft(s, "0")
		if t == "" && s != "" {
			return "0"
		}
		return t
	}
	return trim(a) == trim(b)
}

// applyTeam applies the team penalty/bonus. Returns the adjusted similarity
// and whether strict mode excludes the candidate outright.
func applyTeam(sim float64, queryTeam, candTeam string, effThreshold float64, strict bool, b config.BoostTuning) (float64, bool) {
	if queryTeam == "" || candTeam == "" {
		return sim, false
	}
	if !strings.EqualFold(queryTeam, candTeam) {
		if strict {
			return sim, true
		}
		return clamp01(sim - b.TeamPenalty), false
	}
	// Teams agree: nudge near-threshold scores over the line.
	if sim < effThreshold && sim >= effThreshold-b.TeamNearWindow {
		sim += b.TeamNearBonus
	}
	return clamp01(sim), false
}

// applyJersey applies the jersey-number multiplier, gated on a minimum
// similarity so a number can never resurrect a hopeless candidate.
func applyJersey(sim float64, queryNum, candNum string, b config.BoostTuning) float64 {
	if queryNum == "" || candNum == "" || sim < b.JerseyMinSimilarity {
		return sim
	}
	switch {
	case queryNum == candNum:
		sim *= b.JerseyExact
	case jerseyEquivalent(queryNum, candNum):
		sim *= b.JerseyPadded
	}
	return clamp01(sim)
}

// applyUniform applies the uniform-variant multiplier: full 3-tuple match
// beats a jersey-color-only match.
func applyUniform(sim float64, queryUniform *gallery.UniformVariant, candUniform *gallery.UniformVariant, b config.BoostTuning) float64 {
	if queryUniform == nil || candUniform == nil || sim < b.UniformMinSimilarity {
		return sim
	}
	switch {
	case strings.EqualFold(queryUniform.Key(), candUniform.Key()):
		sim *= b.UniformExact
	case queryUniform.Jersey != "" && strings.EqualFold(queryUniform.Jersey, candUniform.Jersey):
		sim *= b.UniformJerseyOnly
	}
	return clamp01(sim)
}

// applyEarlyFrame boosts candidates whose evidence overlaps the query inside
// the configured early-frame window of a video.
func applyEarlyFrame(sim float64, q *Query, p *gallery.Profile, b config.BoostTuning) float64 {
	if sim < b.EarlyFrameMinSimilarity || b.EarlyFrameWindow <= 0 {
		return sim
	}
	if q.CurrentFrame < 0 || q.CurrentFrame >= b.EarlyFrameWindow {
		return sim
	}
	for i := range p.Frames.Frames {
		if p.Frames.Frames[i].FrameNum < b.EarlyFrameWindow {
			return clamp01(sim * b.EarlyFrameBoost)
		}
	}
	return sim
}

// applyColor blends dominant-color agreement into the similarity when the
// colors are close enough to be meaningful.
func applyColor(sim float64, queryColor, candColor []float64, b config.BoostTuning) float64 {
	if len(queryColor) == 0 || len(candColor) == 0 {
		return sim
	}
	colorSim := ColorSimilarity(queryColor, candColor)
	if colorSim < b.ColorMinSimilarity {
		return sim
	}
	return clamp01((1-b.ColorBlendWeight)*sim + b.ColorBlendWeight*colorSim)
}

// breadcrumbBoost sums the soft historical hints: locked route, user
// correction and prior track co-occurrence, capped so breadcrumbs can tip a
// close call but never dominate.
func breadcrumbBoost(p *gallery.Profile, trackID string, b config.BoostTuning) float64 {
	var boost float64
	if p.Locked {
		boost += b.LockedRoute
	}
	if p.Corrected {
		boost += b.UserCorrection
	}
	if trackID != "" {
		switch count := p.TrackCount(trackID); {
		case count >= 6:
			boost += b.TrackHistoryHigh
		case count >= 3:
			boost += b.TrackHistoryMid
		case count >= 1:
			boost += b.TrackHistoryLow
		}
	}
	if boost > b.BreadcrumbCap {
		boost = b.BreadcrumbCap
	}
	return boost
}
