// Package tracker adapts upstream per-frame detections for the gallery:
// typed detections, stable track-id synthesis when the tracker supplies
// none, and frame batching for the ingest path.
package tracker

import (
	"fmt"

	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/geometry"
)

// Detection is one tracked box from the upstream tracker. TrackID may be
// empty; callers synthesize one with EnsureTrackID before use.
type Detection struct {
	TrackID      string                  `json:"track_id,omitempty"`
	BBox         []float64               `json:"bbox"` // [x1, y1, x2, y2] pixels
	Confidence   float64                 `json:"confidence"`
	Team         string                  `json:"team,omitempty"`
	JerseyNumber string                  `json:"jersey_number,omitempty"`
	Uniform      *gallery.UniformVariant `json:"uniform,omitempty"`
	Position     []float64               `json:"position,omitempty"` // normalized [x, y]
	FrameIndex   int                     `json:"frame_index"`
	PlayerName   string                  `json:"player_name,omitempty"` // labeler-supplied identity hint
}

// Frame is one video frame's worth of detections.
type Frame struct {
	VideoPath  string      `json:"video_path"`
	FrameIndex int         `json:"frame_index"`
	Detections []Detection `json:"detections"`
}

// EnsureTrackID returns the detection's track id, synthesizing a stable one
// from the identity hint and a position bucket when the tracker supplied
// none. The synthesized id is deterministic: the same identity in the same
// grid cell always yields the same id.
func (d *Detection) EnsureTrackID(grid int) string {
	if d.TrackID != "" {
		return d.TrackID
	}

	identity := d.PlayerName
	if identity == "" {
		identity = d.JerseyNumber
	}
	if identity == "" {
		identity = "unknown"
	}

	var bucket string
	if len(d.Position) == 2 {
		bucket = geometry.PositionBucket(d.Position[0], d.Position[1], grid)
	} else if geometry.Valid(d.BBox) {
		// Fall back to the bbox center in pixel space, bucketed coarsely.
		cx, cy := geometry.Center(d.BBox)
		bucket = fmt.Sprintf("px%dx%d", int(cx)/100, int(cy)/100)
	} else {
		bucket = "nowhere"
	}

	d.TrackID = fmt.Sprintf("synth-%s-%s", identity, bucket)
	return d.TrackID
}

// DuplicateOf reports whether two detections are redundant boxes for the
// same subject in the same frame: matching identity hints and a bounding-box
// overlap of at least minIoU.
func (d *Detection) DuplicateOf(other *Detection, minIoU float64) bool {
	if other == nil || d.FrameIndex != other.FrameIndex {
		return false
	}
	if d.PlayerName != other.PlayerName || d.JerseyNumber != other.JerseyNumber {
		return false
	}
	return geometry.ComputeIoU(d.BBox, other.BBox) >= minIoU
}

// Reference builds the gallery reference frame for a detection matched at
// the given similarity.
func (d *Detection) Reference(videoPath string, similarity, imageQuality float64, anchor bool) gallery.ReferenceFrame {
	return gallery.ReferenceFrame{
		VideoPath:  videoPath,
		FrameNum:   d.FrameIndex,
		BBox:       append([]float64(nil), d.BBox...),
		Similarity: similarity,
		Confidence: d.Confidence,
		Quality:    imageQuality,
		IsAnchor:   anchor,
		Uniform:    d.Uniform,
		PlayerName: d.PlayerName,
	}
}
