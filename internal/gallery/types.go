// Package gallery implements the persistent player re-identification gallery:
// named profiles carrying aggregated appearance embeddings, bounded pools of
// reference-frame evidence, and the bookkeeping the match engine reads.
package gallery

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Region names for the optional per-region embeddings on a profile.
const (
	RegionGeneral = "general"
	RegionBody    = "body"
	RegionJersey  = "jersey"
	RegionFoot    = "foot"
)

// SchemaVersion is the on-disk snapshot schema version. Loaders migrate older
// snapshots forward once at load time; runtime code never probes for optional
// fields.
const SchemaVersion = 2

// UniformVariant is a (jersey, shorts, socks) color combination bucketing a
// player's reference frames by kit.
type UniformVariant struct {
	Jersey string `json:"jersey"`
	Shorts string `json:"shorts"`
	Socks  string `json:"socks"`
}

// Key returns the canonical "jersey-shorts-socks" pool key.
func (u UniformVariant) Key() string {
	return strings.ToLower(u.Jersey + "-" + u.Shorts + "-" + u.Socks)
}

// IsZero reports whether no color information is present.
func (u UniformVariant) IsZero() bool {
	return u.Jersey == "" && u.Shorts == "" && u.Socks == ""
}

// ReferenceFrame is one piece of visual evidence supporting a profile.
type ReferenceFrame struct {
	VideoPath  string          `json:"video_path"`
	FrameNum   int             `json:"frame_num"`
	BBox       []float64       `json:"bbox,omitempty"` // [x1, y1, x2, y2] in pixels
	Similarity float64         `json:"similarity"`
	Confidence float64         `json:"confidence"`
	Quality    float64         `json:"quality"` // image-quality score in [0,1]
	IsAnchor   bool            `json:"is_anchor,omitempty"`
	Uniform    *UniformVariant `json:"uniform,omitempty"`
	PlayerName string          `json:"player_name,omitempty"` // name recorded at capture time
}

// Anchor reports whether the frame is treated as ground truth. A frame is an
// anchor if flagged explicitly or if both confidence and similarity are
// saturated. Anchors are exempt from rejection and eviction.
func (f *ReferenceFrame) Anchor() bool {
	return f.IsAnchor || (f.Confidence >= 1.0 && f.Similarity >= 1.0)
}

// sameSource reports whether two frames reference the same (video, frame).
func (f *ReferenceFrame) sameSource(other *ReferenceFrame) bool {
	return f.VideoPath == other.VideoPath && f.FrameNum == other.FrameNum
}

// EventType classifies profile event-log entries.
type EventType string

const (
	EventCreated    EventType = "created"
	EventUpdated    EventType = "updated"
	EventRejected   EventType = "rejected"
	EventRenamed    EventType = "renamed"
	EventMerged     EventType = "merged"
	EventCorrection EventType = "correction"
)

// Event is one entry in a profile's bounded event log.
type Event struct {
	ID    string    `json:"id"`
	Type  EventType `json:"type"`
	Video string    `json:"video,omitempty"`
	Frame int       `json:"frame,omitempty"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// TrackHistory maps upstream track ids to co-occurrence counts. Older
// snapshots stored lists of sightings instead of counts; UnmarshalJSON
// normalizes both shapes into counts so hot paths never shape-sniff.
type TrackHistory map[string]int

func (h *TrackHistory) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(TrackHistory, len(raw))
	for track, val := range raw {
		var count int
		if err := json.Unmarshal(val, &count); err == nil {
			out[track] = count
			continue
		}
		// Legacy shape: a list of sightings, one per co-occurrence.
		var list []json.RawMessage
		if err := json.Unmarshal(val, &list); err == nil {
			out[track] = len(list)
			continue
		}
		// Unknown shape for this track, drop it rather than fail the load.
	}
	*h = out
	return nil
}

// Trim keeps only the cap most frequent tracks.
func (h TrackHistory) Trim(cap int) {
	if cap <= 0 || len(h) <= cap {
		return
	}
	type entry struct {
		track string
		count int
	}
	entries := make([]entry, 0, len(h))
	for track, count := range h {
		entries = append(entries, entry{track, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].track < entries[j].track
	})
	for _, e := range entries[cap:] {
		delete(h, e.track)
	}
}

// Profile is a stored, named identity. The ID is derived from the name and
// only changes through an explicit rename, which re-keys the store.
type Profile struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Team          string                `json:"team,omitempty"`
	JerseyNumber  string                `json:"jersey_number,omitempty"`
	DominantColor []float64             `json:"dominant_color,omitempty"` // [h, s, v]
	Embedding     []float32             `json:"embedding,omitempty"`      // fused, unit norm
	EmbeddingQ    float64               `json:"embedding_quality"`        // running quality estimate
	Regions       map[string][]float32  `json:"regions,omitempty"`
	Frames        *FramePool            `json:"frames"`
	UniformPools  map[string]*FramePool `json:"uniform_pools,omitempty"`
	TrackHistory  TrackHistory          `json:"track_history,omitempty"`
	Events        []Event               `json:"events,omitempty"`
	Diversity     float64               `json:"diversity"`
	Locked        bool                  `json:"locked,omitempty"`    // locked-route breadcrumb
	Corrected     bool                  `json:"corrected,omitempty"` // user-correction breadcrumb
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// HasEmbedding reports whether the profile carries any embedding at all.
func (p *Profile) HasEmbedding() bool {
	if len(p.Embedding) > 0 {
		return true
	}
	for _, v := range p.Regions {
		if len(v) > 0 {
			return true
		}
	}
	return false
}

// Region returns the named region embedding, falling back to the fused
// embedding for RegionGeneral.
func (p *Profile) Region(name string) []float32 {
	if v, ok := p.Regions[name]; ok && len(v) > 0 {
		return v
	}
	if name == RegionGeneral {
		return p.Embedding
	}
	return nil
}

// TrackCount returns the recorded co-occurrence count for a track id.
func (p *Profile) TrackCount(trackID string) int {
	return p.TrackHistory[trackID]
}

// Normalize default-fills maps and pools after a load so that runtime code
// can rely on every field being present. Called once per profile at load
// time as part of the schema migration pass.
func (p *Profile) Normalize(poolCap int) {
	if p.Frames == nil {
		p.Frames = NewFramePool(poolCap)
	}
	if p.Frames.Capacity <= 0 {
		p.Frames.Capacity = poolCap
	}
	if p.UniformPools == nil {
		p.UniformPools = make(map[string]*FramePool)
	}
	for key, pool := range p.UniformPools {
		if pool == nil {
			delete(p.UniformPools, key)
			continue
		}
		if pool.Capacity <= 0 {
			pool.Capacity = poolCap
		}
	}
	if p.Regions == nil {
		p.Regions = make(map[string][]float32)
	}
	if p.TrackHistory == nil {
		p.TrackHistory = make(TrackHistory)
	}
	p.Diversity = p.Frames.DiversityScore()
}

// Clone returns a deep copy safe to hand to readers while the store keeps
// mutating the original.
func (p *Profile) Clone() *Profile {
	out := *p
	out.DominantColor = append([]float64(nil), p.DominantColor...)
	out.Embedding = append([]float32(nil), p.Embedding...)
	out.Regions = make(map[string][]float32, len(p.Regions))
	for name, v := range p.Regions {
		out.Regions[name] = append([]float32(nil), v...)
	}
	if p.Frames != nil {
		out.Frames = p.Frames.Clone()
	}
	out.UniformPools = make(map[string]*FramePool, len(p.UniformPools))
	for key, pool := range p.UniformPools {
		out.UniformPools[key] = pool.Clone()
	}
	out.TrackHistory = make(TrackHistory, len(p.TrackHistory))
	for track, count := range p.TrackHistory {
		out.TrackHistory[track] = count
	}
	out.Events = append([]Event(nil), p.Events...)
	return &out
}
