package gallery

import (
	"math"
	"sort"

	"github.com/matchvision/player-gallery/internal/geometry"
	"github.com/matchvision/player-gallery/internal/names"
)

// DefaultPoolCapacity bounds each reference-frame pool (main and per-uniform)
// independently.
const DefaultPoolCapacity = 1000

// Frame-index spread saturates the diversity term at this many frames.
const frameSpreadNorm = 10000

// Eviction scoring weights. Anchors never enter this scoring.
const (
	evictWeightSimilarity = 70.0
	evictWeightConfidence = 35.0
	evictWeightQuality    = 20.0
	evictUniqueVideoBonus = 10.0
	evictSameVideoPenalty = 2.0
	evictUniformBonus     = 5.0
	evictSpreadBonus      = 5.0
	evictBBoxBonus        = 5.0
	uniformDuplicateFloor = 3
)

// Best-frame scoring constants (§ thumbnail selection).
const (
	bestMinBBoxSide    = 50.0
	bestAreaNorm       = 250000.0
	bestAreaCap        = 100.0
	bestAspectBonus    = 20.0
	bestAspectFlat     = -50.0
	bestAspectSquarish = -20.0
	bestSimWeight      = 50.0
	bestSimPenalty     = -10.0
	bestConfWeight     = 30.0
	bestConfPenalty    = -15.0
	bestSourceBonus    = 10.0
	bestUniformBonus   = 5.0
	bestNameBonus      = 15.0
)

// FramePool is a bounded, diversity-aware store of reference frames. Anchor
// frames are kept unconditionally, so the pool may exceed its nominal
// capacity by exactly the anchor count.
type FramePool struct {
	Capacity int              `json:"capacity"`
	Frames   []ReferenceFrame `json:"frames"`
}

// NewFramePool returns an empty pool with the given capacity
// (DefaultPoolCapacity when zero or negative).
func NewFramePool(capacity int) *FramePool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &FramePool{Capacity: capacity}
}

// Len returns the number of stored frames.
func (p *FramePool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Frames)
}

// Clone returns a deep copy of the pool.
func (p *FramePool) Clone() *FramePool {
	if p == nil {
		return nil
	}
	out := &FramePool{Capacity: p.Capacity, Frames: make([]ReferenceFrame, len(p.Frames))}
	copy(out.Frames, p.Frames)
	for i := range out.Frames {
		out.Frames[i].BBox = append([]float64(nil), p.Frames[i].BBox...)
		if p.Frames[i].Uniform != nil {
			u := *p.Frames[i].Uniform
			out.Frames[i].Uniform = &u
		}
	}
	return out
}

// Insert adds a frame to the pool. An existing entry for the same
// (video, frame) is collapsed: whichever side has the higher
// (quality, confidence), compared lexicographically, wins. Eviction runs
// when the pool exceeds its capacity. Returns true if the pool changed.
func (p *FramePool) Insert(frame ReferenceFrame) bool {
	for i := range p.Frames {
		if !p.Frames[i].sameSource(&frame) {
			continue
		}
		existing := &p.Frames[i]
		if frame.Quality > existing.Quality ||
			(frame.Quality == existing.Quality && frame.Confidence > existing.Confidence) {
			p.Frames[i] = frame
			return true
		}
		return false
	}

	p.Frames = append(p.Frames, frame)
	if len(p.Frames) > p.cap() {
		p.evict()
	}
	return true
}

// hasSource reports whether the pool already holds a frame for the same
// (video, frame) source, in which case Insert collapses instead of growing.
func (p *FramePool) hasSource(f *ReferenceFrame) bool {
	for i := range p.Frames {
		if p.Frames[i].sameSource(f) {
			return true
		}
	}
	return false
}

func (p *FramePool) cap() int {
	if p.Capacity <= 0 {
		return DefaultPoolCapacity
	}
	return p.Capacity
}

// evict trims the pool back toward capacity. Anchors are partitioned out
// first and reattached untouched; only non-anchor candidates compete on the
// eviction score. A second pass swaps dropped frames back in when they are
// the sole representative of a video or uniform variant.
func (p *FramePool) evict() {
	cap := p.cap()

	var anchors, candidates []ReferenceFrame
	for _, f := range p.Frames {
		if f.Anchor() {
			anchors = append(anchors, f)
		} else {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) <= cap {
		p.Frames = append(anchors, candidates...)
		return
	}

	scores := scoreCandidates(candidates)
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		// Deterministic tie-break on source identity.
		fa, fb := &candidates[order[a]], &candidates[order[b]]
		if fa.VideoPath != fb.VideoPath {
			return fa.VideoPath < fb.VideoPath
		}
		return fa.FrameNum < fb.FrameNum
	})

	keep := order[:cap]
	dropped := order[cap:]

	keptVideos := make(map[string]int)
	keptUniforms := make(map[string]int)
	for _, idx := range keep {
		keptVideos[candidates[idx].VideoPath]++
		if u := candidates[idx].Uniform; u != nil {
			keptUniforms[u.Key()]++
		}
	}

	// Second pass: a dropped frame that is the only carrier of its video or
	// uniform variant displaces the weakest redundant keeper.
	for _, idx := range dropped {
		f := &candidates[idx]
		novel := keptVideos[f.VideoPath] == 0
		if u := f.Uniform; u != nil && keptUniforms[u.Key()] == 0 {
			novel = true
		}
		if !novel {
			continue
		}
		swapped := false
		for back := len(keep) - 1; back >= 0; back-- {
			victim := &candidates[keep[back]]
			if keptVideos[victim.VideoPath] < 2 {
				continue
			}
			if u := victim.Uniform; u != nil && keptUniforms[u.Key()] < 2 {
				continue
			}
			keptVideos[victim.VideoPath]--
			if u := victim.Uniform; u != nil {
				keptUniforms[u.Key()]--
			}
			keep[back] = idx
			keptVideos[f.VideoPath]++
			if u := f.Uniform; u != nil {
				keptUniforms[u.Key()]++
			}
			swapped = true
			break
		}
		if !swapped && len(keep) < cap {
			keep = append(keep, idx)
			keptVideos[f.VideoPath]++
			if u := f.Uniform; u != nil {
				keptUniforms[u.Key()]++
			}
		}
	}

	final := make([]ReferenceFrame, 0, len(anchors)+len(keep))
	final = append(final, anchors...)
	sort.Ints(keep)
	for _, idx := range keep {
		final = append(final, candidates[idx])
	}
	p.Frames = final
}

// scoreCandidates computes the eviction score for every non-anchor frame.
func scoreCandidates(candidates []ReferenceFrame) []float64 {
	videoCounts := make(map[string]int)
	uniformCounts := make(map[string]int)
	var idxSum float64
	minIdx, maxIdx := math.MaxInt, math.MinInt
	for i := range candidates {
		videoCounts[candidates[i].VideoPath]++
		if u := candidates[i].Uniform; u != nil {
			uniformCounts[u.Key()]++
		}
		idxSum += float64(candidates[i].FrameNum)
		if candidates[i].FrameNum < minIdx {
			minIdx = candidates[i].FrameNum
		}
		if candidates[i].FrameNum > maxIdx {
			maxIdx = candidates[i].FrameNum
		}
	}
	spread := float64(maxIdx - minIdx)

	scores := make([]float64, len(candidates))
	for i := range candidates {
		f := &candidates[i]
		score := evictWeightSimilarity*f.Similarity +
			evictWeightConfidence*f.Confidence +
			evictWeightQuality*f.Quality

		if videoCounts[f.VideoPath] == 1 {
			score += evictUniqueVideoBonus
		} else {
			score -= evictSameVideoPenalty * float64(videoCounts[f.VideoPath]-1)
		}

		if u := f.Uniform; u != nil {
			count := uniformCounts[u.Key()]
			if count == 1 {
				score += evictUniformBonus
			} else if count > uniformDuplicateFloor {
				score -= float64(count - uniformDuplicateFloor)
			}
		}

		if len(candidates) > 1 && spread > 0 {
			meanOthers := (idxSum - float64(f.FrameNum)) / float64(len(candidates)-1)
			dist := math.Abs(float64(f.FrameNum) - meanOthers)
			bonus := evictSpreadBonus * dist / spread
			if bonus > evictSpreadBonus {
				bonus = evictSpreadBonus
			}
			score += bonus
		}

		if geometry.Valid(f.BBox) {
			score += evictBBoxBonus
		}
		scores[i] = score
	}
	return scores
}

// DiversityScore measures how varied the pool's evidence is across videos,
// frame indices, uniform variants and quality, in [0,1].
func (p *FramePool) DiversityScore() float64 {
	if p.Len() == 0 {
		return 0
	}

	videos := make(map[string]struct{})
	uniforms := make(map[string]struct{})
	minIdx, maxIdx := math.MaxInt, math.MinInt
	var qSum float64
	for i := range p.Frames {
		f := &p.Frames[i]
		videos[f.VideoPath] = struct{}{}
		if f.Uniform != nil {
			uniforms[f.Uniform.Key()] = struct{}{}
		}
		if f.FrameNum < minIdx {
			minIdx = f.FrameNum
		}
		if f.FrameNum > maxIdx {
			maxIdx = f.FrameNum
		}
		qSum += f.Quality
	}

	mean := qSum / float64(len(p.Frames))
	var variance float64
	for i := range p.Frames {
		d := p.Frames[i].Quality - mean
		variance += d * d
	}
	variance /= float64(len(p.Frames))
	stddev := math.Sqrt(variance)

	videoTerm := math.Min(1, float64(len(videos))/5)
	spreadTerm := math.Min(1, float64(maxIdx-minIdx)/frameSpreadNorm)
	uniformTerm := math.Min(1, float64(len(uniforms))/3)
	qualityTerm := math.Min(1, 2*stddev)

	score := 0.3*videoTerm + 0.2*spreadTerm + 0.3*uniformTerm + 0.2*qualityTerm
	return math.Max(0, math.Min(1, score))
}

// BestFrame picks the frame best suited as the profile's display thumbnail.
// Frames without a usable bbox or source reference are skipped. Returns nil
// when nothing usable remains.
func (p *FramePool) BestFrame(profileName string) *ReferenceFrame {
	var best *ReferenceFrame
	bestScore := math.Inf(-1)

	for i := range p.Frames {
		f := &p.Frames[i]
		if !geometry.Valid(f.BBox) {
			continue
		}
		if geometry.Width(f.BBox) < bestMinBBoxSide || geometry.Height(f.BBox) < bestMinBBoxSide {
			continue
		}
		if f.VideoPath == "" || f.FrameNum < 0 {
			continue
		}

		score := math.Min(bestAreaCap, geometry.Area(f.BBox)/bestAreaNorm*bestAreaCap)

		switch ratio := geometry.AspectRatio(f.BBox); {
		case ratio >= 1.2 && ratio <= 3.5:
			score += bestAspectBonus
		case ratio < 1.0:
			score += bestAspectFlat
		case ratio < 1.2:
			score += bestAspectSquarish
		}

		if f.Similarity > 0.3 {
			score += f.Similarity * bestSimWeight
		} else {
			score += bestSimPenalty
		}

		if f.Confidence > 0.5 {
			score += f.Confidence * bestConfWeight
		} else if f.Confidence < 0.3 {
			score += bestConfPenalty
		}

		score += bestSourceBonus
		if f.Uniform != nil {
			score += bestUniformBonus
		}
		if f.PlayerName != "" && names.Equal(f.PlayerName, profileName) {
			score += bestNameBonus
		}

		if score > bestScore {
			best, bestScore = f, score
		}
	}

	if best == nil || bestScore < 0 {
		return nil
	}
	return best
}

// Append merges another pool's frames through the normal insert path, so
// duplicate collapsing and eviction apply lazily.
func (p *FramePool) Append(other *FramePool) {
	if other == nil {
		return
	}
	for _, f := range other.Frames {
		p.Insert(f)
	}
}
