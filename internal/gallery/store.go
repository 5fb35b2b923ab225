package gallery

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/metrics"
	"github.com/matchvision/player-gallery/internal/names"
	"github.com/matchvision/player-gallery/internal/vecmath"
)

// Metadata carries the mutable descriptive fields of a profile.
type Metadata struct {
	Name          string
	Team          string
	JerseyNumber  string
	DominantColor []float64
}

// Update is one accepted-or-rejected mutation against a profile.
type Update struct {
	Embedding []float32
	Regions   map[string][]float32
	Frame     *ReferenceFrame
	Meta      *Metadata
	TrackID   string
}

// UpdateResult reports what an Update call did. Rejections are silent
// (no error) but carry the reason and bump the counters.
type UpdateResult struct {
	Accepted       bool
	Reason         RejectReason
	RenameApplied  bool
	RenameRejected bool
}

// Counters is a snapshot of the store's per-instance rejection counters.
type Counters struct {
	UpdatesAccepted    uint64 `json:"updates_accepted"`
	RejectedSimilarity uint64 `json:"rejected_similarity"`
	RejectedConfidence uint64 `json:"rejected_confidence"`
	InvalidEmbeddings  uint64 `json:"invalid_embeddings"`
	EvictedFrames      uint64 `json:"evicted_frames"`
	RenameCollisions   uint64 `json:"rename_collisions"`
}

// Store owns the profile map and composes the aggregator and the frame pools
// on every mutating call. Mutations on the same profile are serialized by the
// store lock; readers get consistent views.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*Profile

	agg    *Aggregator
	stats  *Statistics
	tuning config.Tuning
	log    *zap.Logger

	counters   Counters
	frameClock int // highest frame index observed, drives stat refresh
}

// NewStore returns an empty store with the given tuning. A nil logger is
// replaced with a no-op logger.
func NewStore(tuning config.Tuning, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		profiles: make(map[string]*Profile),
		agg:      NewAggregator(tuning.Aggregation.AnchorWeight),
		stats:    NewStatistics(tuning.Stats),
		tuning:   tuning,
		log:      log,
	}
}

// Tuning returns the tuning the store was built with.
func (s *Store) Tuning() config.Tuning { return s.tuning }

func (s *Store) poolCap() int {
	if s.tuning.Pool.Capacity > 0 {
		return s.tuning.Pool.Capacity
	}
	return DefaultPoolCapacity
}

// Add creates a profile for name, deriving the id from the normalized name.
// If the id already exists the call is a no-op and returns the existing id;
// callers must use Update to modify an existing profile.
func (s *Store) Add(name string, embedding []float32, meta Metadata) (string, bool) {
	id := names.Slug(name)
	if id == "" {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[id]; exists {
		return id, false
	}

	now := time.Now()
	p := &Profile{
		ID:            id,
		Name:          name,
		Team:          meta.Team,
		JerseyNumber:  meta.JerseyNumber,
		DominantColor: append([]float64(nil), meta.DominantColor...),
		Regions:       make(map[string][]float32),
		Frames:        NewFramePool(s.poolCap()),
		UniformPools:  make(map[string]*FramePool),
		TrackHistory:  make(TrackHistory),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if vecmath.Valid(embedding) {
		p.Embedding = vecmath.Normalize(embedding)
		p.EmbeddingQ = defaultRecency
	}
	s.appendEvent(p, Event{Type: EventCreated, Note: name})
	s.profiles[id] = p
	s.stats.Invalidate()
	s.log.Debug("profile created", zap.String("id", id))
	return id, true
}

// Update applies an accepted mutation: rejection policy, aggregation, pool
// insertion with eviction, track-history bookkeeping and the optional
// metadata block. A rename whose derived id collides with a different
// profile is rejected with ErrCollision and the metadata block is not
// applied at all; the embedding and frame accepted before it stand.
func (s *Store) Update(id string, upd Update) (UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return UpdateResult{}, ErrNotFound
	}

	if upd.Frame != nil {
		if reason := CheckFloor(upd.Frame, s.tuning.Aggregation.MinSimilarity, s.tuning.Aggregation.MinConfidence); reason != RejectNone {
			switch reason {
			case RejectLowSimilarity:
				s.counters.RejectedSimilarity++
			case RejectLowConfidence:
				s.counters.RejectedConfidence++
			}
			metrics.UpdatesRejected.WithLabelValues(string(reason)).Inc()
			s.appendEvent(p, Event{
				Type:  EventRejected,
				Video: upd.Frame.VideoPath,
				Frame: upd.Frame.FrameNum,
				Note:  string(reason),
			})
			return UpdateResult{Reason: reason}, nil
		}
		if upd.Frame.FrameNum > s.frameClock {
			s.frameClock = upd.Frame.FrameNum
		}
	}

	if upd.Embedding != nil && !vecmath.Valid(upd.Embedding) {
		s.counters.InvalidEmbeddings++
		metrics.UpdatesRejected.WithLabelValues("invalid_embedding").Inc()
		rejected := Event{Type: EventRejected, Note: "invalid_embedding"}
		if upd.Frame != nil {
			rejected.Video = upd.Frame.VideoPath
			rejected.Frame = upd.Frame.FrameNum
		}
		s.appendEvent(p, rejected)
		return UpdateResult{Reason: "invalid_embedding"}, nil
	}

	if upd.Embedding != nil {
		p.Embedding = s.agg.Aggregate(p.Embedding, p.EmbeddingQ, upd.Embedding, upd.Frame)
		p.EmbeddingQ = s.agg.NextQuality(p.EmbeddingQ, upd.Frame)
	}
	for region, vec := range upd.Regions {
		if !vecmath.Valid(vec) {
			continue
		}
		p.Regions[region] = s.agg.Aggregate(p.Regions[region], p.EmbeddingQ, vec, upd.Frame)
	}

	if upd.Frame != nil {
		s.insertFrame(p, *upd.Frame)
	}

	if upd.TrackID != "" {
		p.TrackHistory[upd.TrackID]++
		p.TrackHistory.Trim(s.tuning.Pool.TrackHistoryCap)
	}

	result := UpdateResult{Accepted: true}
	var renameErr error
	if upd.Meta != nil {
		renameErr = s.applyMeta(p, upd.Meta, &result)
	}

	p.Diversity = p.Frames.DiversityScore()
	p.UpdatedAt = time.Now()
	if upd.Frame != nil {
		s.appendEvent(p, Event{Type: EventUpdated, Video: upd.Frame.VideoPath, Frame: upd.Frame.FrameNum})
	}

	s.counters.UpdatesAccepted++
	metrics.UpdatesAccepted.Inc()
	s.stats.Invalidate()
	return result, renameErr
}

// insertFrame routes a frame into the main pool and, when uniform colors are
// present, the per-variant pool. Both pools are bounded independently.
func (s *Store) insertFrame(p *Profile, frame ReferenceFrame) {
	// A collapse onto an existing (video, frame) entry keeps the pool size
	// flat without evicting anything and must not count as an eviction.
	collapse := p.Frames.hasSource(&frame)
	before := p.Frames.Len()
	if p.Frames.Insert(frame) && !collapse {
		if after := p.Frames.Len(); after <= before {
			evicted := before + 1 - after
			s.counters.EvictedFrames += uint64(evicted)
			metrics.Evictions.Add(float64(evicted))
		}
	}

	if frame.Uniform == nil || frame.Uniform.IsZero() {
		return
	}
	key := frame.Uniform.Key()
	pool, ok := p.UniformPools[key]
	if !ok {
		pool = NewFramePool(s.poolCap())
		p.UniformPools[key] = pool
	}
	pool.Insert(frame)
}

// applyMeta performs the rename migration, then updates descriptive fields.
// The collision check runs before any write so a rejected rename leaves the
// whole metadata block untouched.
func (s *Store) applyMeta(p *Profile, meta *Metadata, result *UpdateResult) error {
	if meta.Name != "" && meta.Name != p.Name {
		newID := names.Slug(meta.Name)
		switch {
		case newID == p.ID:
			// Same derived id, just a display-name touch-up.
			p.Name = meta.Name
		default:
			if _, taken := s.profiles[newID]; taken {
				s.counters.RenameCollisions++
				result.RenameRejected = true
				s.log.Warn("rename rejected, id collision",
					zap.String("from", p.ID), zap.String("to", newID))
				return ErrCollision
			}
			oldID := p.ID
			delete(s.profiles, oldID)
			p.ID = newID
			p.Name = meta.Name
			s.profiles[newID] = p
			result.RenameApplied = true
			s.appendEvent(p, Event{Type: EventRenamed, Note: oldID + " -> " + newID})
		}
	}

	if meta.Team != "" {
		p.Team = meta.Team
	}
	if meta.JerseyNumber != "" {
		p.JerseyNumber = meta.JerseyNumber
	}
	if len(meta.DominantColor) > 0 {
		p.DominantColor = append([]float64(nil), meta.DominantColor...)
	}
	return nil
}

// Remove deletes a profile. Returns false for unknown ids.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return false
	}
	delete(s.profiles, id)
	s.stats.Invalidate()
	return true
}

// Merge absorbs sourceID into targetID: the target gains all reference
// frames (subject to the normal duplicate/eviction rules) and the summed
// track history, embeddings are averaged 50/50 when both sides have them,
// and the source profile is deleted.
func (s *Store) Merge(sourceID, targetID string) error {
	if sourceID == targetID {
		return ErrSelfMerge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.profiles[sourceID]
	if !ok {
		return ErrNotFound
	}
	dst, ok := s.profiles[targetID]
	if !ok {
		return ErrNotFound
	}

	dst.Frames.Append(src.Frames)
	for key, pool := range src.UniformPools {
		dstPool, ok := dst.UniformPools[key]
		if !ok {
			dstPool = NewFramePool(s.poolCap())
			dst.UniformPools[key] = dstPool
		}
		dstPool.Append(pool)
	}

	dst.Embedding = mergeVectors(dst.Embedding, src.Embedding)
	for region, vec := range src.Regions {
		dst.Regions[region] = mergeVectors(dst.Regions[region], vec)
	}

	for track, count := range src.TrackHistory {
		dst.TrackHistory[track] += count
	}
	dst.TrackHistory.Trim(s.tuning.Pool.TrackHistoryCap)

	dst.Diversity = dst.Frames.DiversityScore()
	dst.UpdatedAt = time.Now()
	s.appendEvent(dst, Event{Type: EventMerged, Note: "absorbed " + sourceID})

	delete(s.profiles, sourceID)
	s.stats.Invalidate()
	s.log.Info("profiles merged",
		zap.String("source", sourceID), zap.String("target", targetID))
	return nil
}

// mergeVectors averages two embeddings 50/50, or copies whichever side is
// present.
func mergeVectors(dst, src []float32) []float32 {
	switch {
	case len(src) == 0:
		return dst
	case len(dst) == 0:
		return vecmath.Normalize(src)
	default:
		return vecmath.Blend(dst, 0.5, src, 0.5)
	}
}

// TrackBoost returns the breadcrumb boost for a (profile, track) pair based
// on prior co-occurrence counts, 0 for unknown profiles or tracks.
func (s *Store) TrackBoost(profileID, trackID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return 0
	}
	return trackBoost(p.TrackCount(trackID), s.tuning.Boosts)
}

func trackBoost(count int, b config.BoostTuning) float64 {
	switch {
	case count >= 6:
		return b.TrackHistoryHigh
	case count >= 3:
		return b.TrackHistoryMid
	case count >= 1:
		return b.TrackHistoryLow
	default:
		return 0
	}
}

// PruneSparseProfiles drops profiles whose total reference-frame count is
// below minFrames. Returns the number of profiles dropped. Idempotent.
func (s *Store) PruneSparseProfiles(minFrames int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int
	for id, p := range s.profiles {
		total := p.Frames.Len()
		for _, pool := range p.UniformPools {
			total += pool.Len()
		}
		if total < minFrames {
			delete(s.profiles, id)
			dropped++
		}
	}
	if dropped > 0 {
		s.stats.Invalidate()
	}
	return dropped
}

// PruneMissingVideos drops reference frames whose backing video no longer
// resolves. A nil resolve uses os.Stat. Returns the number of frames
// dropped.
func (s *Store) PruneMissingVideos(resolve func(string) bool) int {
	if resolve == nil {
		resolve = func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool)
	check := func(path string) bool {
		ok, seen := known[path]
		if !seen {
			ok = resolve(path)
			known[path] = ok
		}
		return ok
	}

	var dropped int
	for _, p := range s.profiles {
		dropped += prunePool(p.Frames, func(f *ReferenceFrame) bool { return !check(f.VideoPath) })
		for key, pool := range p.UniformPools {
			dropped += prunePool(pool, func(f *ReferenceFrame) bool { return !check(f.VideoPath) })
			if pool.Len() == 0 {
				delete(p.UniformPools, key)
			}
		}
		p.Diversity = p.Frames.DiversityScore()
	}
	return dropped
}

// PurgeVideoPlayer drops all reference frames tied to a specific
// (video, player name) pair across every profile. Returns the number of
// frames dropped.
func (s *Store) PurgeVideoPlayer(videoPath, playerName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := func(f *ReferenceFrame) bool {
		return f.VideoPath == videoPath && names.Equal(f.PlayerName, playerName)
	}

	var dropped int
	for _, p := range s.profiles {
		dropped += prunePool(p.Frames, match)
		for key, pool := range p.UniformPools {
			dropped += prunePool(pool, match)
			if pool.Len() == 0 {
				delete(p.UniformPools, key)
			}
		}
		p.Diversity = p.Frames.DiversityScore()
	}
	return dropped
}

// prunePool removes frames matching drop from a pool, returning the count.
func prunePool(pool *FramePool, drop func(*ReferenceFrame) bool) int {
	if pool == nil {
		return 0
	}
	kept := pool.Frames[:0]
	var dropped int
	for i := range pool.Frames {
		if drop(&pool.Frames[i]) {
			dropped++
			continue
		}
		kept = append(kept, pool.Frames[i])
	}
	pool.Frames = kept
	return dropped
}

// Get returns a deep copy of a profile.
func (s *Store) Get(id string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// List returns deep copies of all profiles, sorted by id.
func (s *Store) List() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of stored profiles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// Read runs fn against the live profile map under the read lock, giving the
// match engine a consistent scan without copying the whole gallery. fn must
// not retain or mutate anything it is handed.
func (s *Store) Read(fn func(profiles map[string]*Profile)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.profiles)
}

// Events returns a copy of a profile's event log.
func (s *Store) Events(id string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Event(nil), p.Events...), nil
}

// Counters returns a snapshot of the per-instance counters.
func (s *Store) Counters() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// Stats computes (or returns cached) gallery statistics.
func (s *Store) Stats(force bool) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.Compute(s.profiles, s.frameClock, force)
}

// InvalidateStats drops the statistics cache.
func (s *Store) InvalidateStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Invalidate()
}

// ObserveFrame advances the logical frame clock. The clock never moves
// backwards.
func (s *Store) ObserveFrame(frameIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frameIndex > s.frameClock {
		s.frameClock = frameIndex
	}
}

// FrameClock returns the highest frame index observed.
func (s *Store) FrameClock() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameClock
}

// Replace swaps in a loaded profile map, normalizing every profile against
// the current schema (default-filled maps, pool capacities, counts).
func (s *Store) Replace(profiles map[string]*Profile) {
	if profiles == nil {
		profiles = make(map[string]*Profile)
	}
	for id, p := range profiles {
		p.ID = id
		p.Normalize(s.poolCap())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = profiles
	s.stats.Invalidate()
}

// Export returns a deep copy of the profile map for persistence.
func (s *Store) Export() map[string]*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Profile, len(s.profiles))
	for id, p := range s.profiles {
		out[id] = p.Clone()
	}
	return out
}

// MarkCorrected records a user correction on a profile, optionally binding
// the track to the profile's history.
func (s *Store) MarkCorrected(id, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Corrected = true
	if trackID != "" {
		p.TrackHistory[trackID]++
		p.TrackHistory.Trim(s.tuning.Pool.TrackHistoryCap)
	}
	s.appendEvent(p, Event{Type: EventCorrection, Note: trackID})
	return nil
}

// appendEvent pushes an event onto the profile's bounded log.
func (s *Store) appendEvent(p *Profile, e Event) {
	e.ID = uuid.NewString()
	e.At = time.Now()
	p.Events = append(p.Events, e)
	cap := s.tuning.Pool.EventLogCapacity
	if cap <= 0 {
		cap = 200
	}
	if len(p.Events) > cap {
		p.Events = p.Events[len(p.Events)-cap:]
	}
}
