package gallery

import (
	"github.com/matchvision/player-gallery/internal/vecmath"
)

// Quality weights for non-anchor reference frames. Recency is fixed at 0.5
// unless the caller supplies an estimate; the remaining weights favor the
// matcher's own similarity over raw detector confidence.
const (
	qualityWeightSimilarity = 0.4
	qualityWeightConfidence = 0.3
	qualityWeightImage      = 0.2
	qualityWeightRecency    = 0.1
	defaultRecency          = 0.5
)

// Aggregator fuses new appearance embeddings into a profile's running
// embedding under quality weights. Anchor frames dominate the blend by a
// fixed multiplier so ground truth can never be washed out by bulk evidence.
type Aggregator struct {
	AnchorWeight float64
}

// NewAggregator returns an Aggregator with the given anchor weight
// (10x when zero or negative).
func NewAggregator(anchorWeight float64) *Aggregator {
	if anchorWeight <= 0 {
		anchorWeight = 10
	}
	return &Aggregator{AnchorWeight: anchorWeight}
}

// Quality scores a reference frame in [0,1]. Anchor frames always score 1.
func (a *Aggregator) Quality(frame *ReferenceFrame) float64 {
	if frame == nil {
		return 0
	}
	if frame.Anchor() {
		return 1.0
	}
	q := qualityWeightSimilarity*frame.Similarity +
		qualityWeightConfidence*frame.Confidence +
		qualityWeightImage*frame.Quality +
		qualityWeightRecency*defaultRecency
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

// Aggregate blends a new embedding into the existing one. The first insert
// returns the new vector (normalized) without averaging. Anchor frames are
// weighted AnchorWeight times against the existing estimate. The result is
// always unit L2 norm.
func (a *Aggregator) Aggregate(old []float32, oldQuality float64, newVec []float32, frame *ReferenceFrame) []float32 {
	if len(old) == 0 {
		return vecmath.Normalize(newVec)
	}

	qNew := a.Quality(frame)
	if frame == nil {
		// Frameless update, no quality evidence either way.
		qNew = defaultRecency
	}
	wOld, wNew := oldQuality, qNew
	if frame != nil && frame.Anchor() {
		wOld = oldQuality / a.AnchorWeight
		wNew = qNew * a.AnchorWeight
	}
	if wOld <= 0 && wNew <= 0 {
		// No quality signal on either side, plain 50/50 average.
		wOld, wNew = 0.5, 0.5
	}
	return vecmath.Blend(old, wOld, newVec, wNew)
}

// NextQuality returns the running quality estimate after blending a frame
// with quality qNew into a profile whose previous estimate was oldQuality.
func (a *Aggregator) NextQuality(oldQuality float64, frame *ReferenceFrame) float64 {
	qNew := a.Quality(frame)
	if oldQuality <= 0 {
		return qNew
	}
	return (oldQuality + qNew) / 2
}

// RejectReason says why an update failed the quality floor.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectLowSimilarity RejectReason = "low_similarity"
	RejectLowConfidence RejectReason = "low_confidence"
)

// CheckFloor applies the rejection policy for incoming reference frames:
// similarity below minSim or confidence below minConf rejects the frame
// unless it is an anchor, which is exempt from both checks.
func CheckFloor(frame *ReferenceFrame, minSim, minConf float64) RejectReason {
	if frame == nil || frame.Anchor() {
		return RejectNone
	}
	if frame.Similarity < minSim {
		return RejectLowSimilarity
	}
	if frame.Confidence < minConf {
		return RejectLowConfidence
	}
	return RejectNone
}
