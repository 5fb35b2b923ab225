package gallery

import (
	"errors"
	"math"
	"testing"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/vecmath"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(config.DefaultTuning(), nil)
}

func goodFrame(video string, num int) *ReferenceFrame {
	return &ReferenceFrame{
		VideoPath:  video,
		FrameNum:   num,
		BBox:       []float64{0, 0, 100, 200},
		Similarity: 0.9,
		Confidence: 0.85,
		Quality:    0.7,
	}
}

func TestAddDerivesIDFromName(t *testing.T) {
	s := testStore(t)

	id, created := s.Add("José Álvarez", []float32{1, 0, 0}, Metadata{Team: "Red"})
	if !created {
		t.Fatal("expected profile to be created")
	}
	if id != "jose-alvarez" {
		t.Errorf("id = %q, want %q", id, "jose-alvarez")
	}

	// Adding the same name again is a no-op that returns the existing id.
	again, created := s.Add("José Álvarez", []float32{0, 1, 0}, Metadata{})
	if created {
		t.Error("second add should not create")
	}
	if again != id {
		t.Errorf("second add id = %q, want %q", again, id)
	}

	p, ok := s.Get(id)
	if !ok {
		t.Fatal("profile not found after add")
	}
	if p.Team != "Red" {
		t.Errorf("team = %q, want Red", p.Team)
	}
	// Embedding stored normalized and untouched by the no-op add.
	if math.Abs(vecmath.Norm(p.Embedding)-1) > 0.0001 {
		t.Errorf("embedding norm = %v, want 1", vecmath.Norm(p.Embedding))
	}
	if vecmath.CosineSimilarity(p.Embedding, []float32{1, 0, 0}) < 0.999 {
		t.Error("no-op add must not touch the stored embedding")
	}
}

func TestAddEmptyNameFails(t *testing.T) {
	s := testStore(t)
	if id, created := s.Add("  --  ", nil, Metadata{}); created || id != "" {
		t.Errorf("Add with unusable name = (%q, %v), want empty no-op", id, created)
	}
}

func TestUpdateRejectsBelowFloors(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", []float32{1, 0, 0}, Metadata{})

	tests := []struct {
		name   string
		frame  *ReferenceFrame
		reason RejectReason
	}{
		{"low similarity", &ReferenceFrame{VideoPath: "a.mp4", FrameNum: 1, Similarity: 0.5, Confidence: 0.9}, RejectLowSimilarity},
		{"low confidence", &ReferenceFrame{VideoPath: "a.mp4", FrameNum: 2, Similarity: 0.9, Confidence: 0.2}, RejectLowConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Update(id, Update{Embedding: []float32{0, 1, 0}, Frame: tt.frame})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Accepted {
				t.Error("update should have been rejected")
			}
			if res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
		})
	}

	// Rejection is silent but countable, and the profile itself is untouched.
	c := s.Counters()
	if c.RejectedSimilarity != 1 || c.RejectedConfidence != 1 {
		t.Errorf("counters = %+v, want one rejection of each kind", c)
	}
	events, err := s.Events(id)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var rejections int
	for _, e := range events {
		if e.Type == EventRejected {
			rejections++
		}
	}
	if rejections != 2 {
		t.Errorf("rejected events = %d, want one per rejected update", rejections)
	}
	p, _ := s.Get(id)
	if p.Frames.Len() != 0 {
		t.Errorf("rejected frames must not enter the pool, got %d", p.Frames.Len())
	}
	if vecmath.CosineSimilarity(p.Embedding, []float32{1, 0, 0}) < 0.999 {
		t.Error("rejected update must not move the embedding")
	}
}

func TestDuplicateCollapseIsNotAnEviction(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", []float32{1, 0, 0}, Metadata{})

	first := goodFrame("a.mp4", 10)
	if _, err := s.Update(id, Update{Frame: first}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Same (video, frame) with higher quality replaces the entry in place.
	better := goodFrame("a.mp4", 10)
	better.Quality = 0.95
	if _, err := s.Update(id, Update{Frame: better}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	p, _ := s.Get(id)
	if p.Frames.Len() != 1 {
		t.Fatalf("frame count = %d, want 1 after collapse", p.Frames.Len())
	}
	if p.Frames.Frames[0].Quality != 0.95 {
		t.Errorf("quality = %v, want the replacement's 0.95", p.Frames.Frames[0].Quality)
	}
	if got := s.Counters().EvictedFrames; got != 0 {
		t.Errorf("evicted frames = %d, want 0 for an in-place collapse", got)
	}
}

func TestEvictionCountsOverflowOnly(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.Pool.Capacity = 2
	s := NewStore(tuning, nil)
	id, _ := s.Add("Alice", []float32{1, 0, 0}, Metadata{})

	for num := 1; num <= 3; num++ {
		if _, err := s.Update(id, Update{Frame: goodFrame("a.mp4", num)}); err != nil {
			t.Fatalf("update frame %d: %v", num, err)
		}
	}

	p, _ := s.Get(id)
	if p.Frames.Len() != 2 {
		t.Fatalf("frame count = %d, want capacity 2", p.Frames.Len())
	}
	if got := s.Counters().EvictedFrames; got != 1 {
		t.Errorf("evicted frames = %d, want 1", got)
	}
}

func TestUpdateAnchorBypassesFloors(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", []float32{1, 0, 0, 0}, Metadata{})

	// Seed with an anchor frame.
	anchor := goodFrame("a.mp4", 1)
	anchor.IsAnchor = true
	if res, err := s.Update(id, Update{Frame: anchor}); err != nil || !res.Accepted {
		t.Fatalf("anchor seed rejected: %+v %v", res, err)
	}

	// A dissimilar embedding would fail the similarity floor, but the frame
	// is marked anchor so the update must be accepted and blended.
	divergent := &ReferenceFrame{
		VideoPath: "b.mp4", FrameNum: 500,
		Similarity: 0.2, Confidence: 0.9, IsAnchor: true,
	}
	res, err := s.Update(id, Update{Embedding: []float32{0, 1, 0, 0}, Frame: divergent})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("anchor update rejected with reason %q", res.Reason)
	}

	p, _ := s.Get(id)
	if p.Frames.Len() != 2 {
		t.Errorf("pool length = %d, want 2", p.Frames.Len())
	}
	// Anchor weighting pulls the blend strongly toward the new vector.
	if sim := vecmath.CosineSimilarity(p.Embedding, []float32{0, 1, 0, 0}); sim < 0.9 {
		t.Errorf("similarity to anchored vector = %v, want > 0.9", sim)
	}
}

func TestUpdateRejectsInvalidEmbedding(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", []float32{1, 0}, Metadata{})

	res, err := s.Update(id, Update{Embedding: []float32{float32(math.NaN()), 0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Accepted {
		t.Error("NaN embedding must be rejected")
	}
	if s.Counters().InvalidEmbeddings != 1 {
		t.Errorf("invalid counter = %d, want 1", s.Counters().InvalidEmbeddings)
	}
}

func TestUpdateUnknownProfile(t *testing.T) {
	s := testStore(t)
	if _, err := s.Update("nobody", Update{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateEmbeddingStaysUnitNorm(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", []float32{1, 0, 0}, Metadata{})

	vecs := [][]float32{{0, 1, 0}, {0, 0, 1}, {1, 1, 0}, {0.3, 0.2, 0.9}}
	for i, v := range vecs {
		if _, err := s.Update(id, Update{Embedding: v, Frame: goodFrame("a.mp4", i+1)}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		p, _ := s.Get(id)
		if norm := vecmath.Norm(p.Embedding); math.Abs(norm-1) > 0.0001 {
			t.Fatalf("embedding norm after update %d = %v, want 1", i, norm)
		}
	}
}

func TestRename(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", []float32{1, 0}, Metadata{})

	res, err := s.Update(id, Update{Meta: &Metadata{Name: "Alice Smith"}})
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if !res.RenameApplied {
		t.Error("expected RenameApplied")
	}
	if _, ok := s.Get("alice"); ok {
		t.Error("old id should be gone after rename")
	}
	p, ok := s.Get("alice-smith")
	if !ok {
		t.Fatal("renamed profile not found under new id")
	}
	if p.Name != "Alice Smith" {
		t.Errorf("name = %q, want Alice Smith", p.Name)
	}
}

func TestRenameCollisionLeavesMetadataUntouched(t *testing.T) {
	s := testStore(t)
	s.Add("Bob", []float32{0, 1}, Metadata{})
	id, _ := s.Add("Alice", []float32{1, 0}, Metadata{})

	res, err := s.Update(id, Update{
		Frame: goodFrame("a.mp4", 10),
		Meta:  &Metadata{Name: "Bob", Team: "Red", JerseyNumber: "9"},
	})
	if !errors.Is(err, ErrCollision) {
		t.Fatalf("err = %v, want ErrCollision", err)
	}
	if !res.RenameRejected {
		t.Error("expected RenameRejected")
	}
	if !res.Accepted {
		t.Error("the embedding and frame accepted before the rename must stand")
	}

	p, _ := s.Get(id)
	if p.Name != "Alice" {
		t.Errorf("name = %q, want Alice (rename rejected)", p.Name)
	}
	if p.Team != "" || p.JerseyNumber != "" {
		t.Errorf("team/jersey = %q/%q, want empty (colliding metadata block not applied)", p.Team, p.JerseyNumber)
	}
	if p.Frames.Len() != 1 {
		t.Errorf("frame count = %d, want 1", p.Frames.Len())
	}
	if s.Counters().RenameCollisions != 1 {
		t.Errorf("collision counter = %d, want 1", s.Counters().RenameCollisions)
	}
}

func TestMerge(t *testing.T) {
	s := testStore(t)
	srcID, _ := s.Add("Alice", []float32{1, 0}, Metadata{})
	dstID, _ := s.Add("Alicia", []float32{0, 1}, Metadata{})

	s.Update(srcID, Update{Frame: goodFrame("a.mp4", 1), TrackID: "t1"})
	s.Update(srcID, Update{Frame: goodFrame("a.mp4", 2), TrackID: "t1"})
	s.Update(dstID, Update{Frame: goodFrame("b.mp4", 3), TrackID: "t1"})

	if err := s.Merge(srcID, dstID); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if _, ok := s.Get(srcID); ok {
		t.Error("source profile should be deleted after merge")
	}
	p, ok := s.Get(dstID)
	if !ok {
		t.Fatal("target profile missing")
	}
	if p.Frames.Len() != 3 {
		t.Errorf("merged frame count = %d, want 3", p.Frames.Len())
	}
	if p.TrackHistory["t1"] != 3 {
		t.Errorf("merged track count = %d, want 3", p.TrackHistory["t1"])
	}
	// 50/50 average of orthogonal unit vectors, renormalized.
	want := vecmath.Normalize([]float32{1, 1})
	if sim := vecmath.CosineSimilarity(p.Embedding, want); sim < 0.999 {
		t.Errorf("merged embedding similarity to expected average = %v", sim)
	}
}

func TestMergeErrors(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", nil, Metadata{})

	if err := s.Merge(id, id); !errors.Is(err, ErrSelfMerge) {
		t.Errorf("self merge err = %v, want ErrSelfMerge", err)
	}
	if err := s.Merge(id, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing target err = %v, want ErrNotFound", err)
	}
	if err := s.Merge("nobody", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing source err = %v, want ErrNotFound", err)
	}
}

func TestTrackBoostTiers(t *testing.T) {
	s := testStore(t)
	b := s.Tuning().Boosts

	tests := []struct {
		count    int
		expected float64
	}{
		{0, 0},
		{1, b.TrackHistoryLow},
		{2, b.TrackHistoryLow},
		{3, b.TrackHistoryMid},
		{5, b.TrackHistoryMid},
		{6, b.TrackHistoryHigh},
		{40, b.TrackHistoryHigh},
	}
	for _, tt := range tests {
		if got := trackBoost(tt.count, b); got != tt.expected {
			t.Errorf("trackBoost(%d) = %v, want %v", tt.count, got, tt.expected)
		}
	}

	id, _ := s.Add("Alice", nil, Metadata{})
	for i := 0; i < 4; i++ {
		s.Update(id, Update{TrackID: "t9"})
	}
	if got := s.TrackBoost(id, "t9"); got != b.TrackHistoryMid {
		t.Errorf("TrackBoost after 4 sightings = %v, want %v", got, b.TrackHistoryMid)
	}
	if got := s.TrackBoost(id, "unseen"); got != 0 {
		t.Errorf("TrackBoost for unseen track = %v, want 0", got)
	}
}

func TestPruneSparseProfiles(t *testing.T) {
	s := testStore(t)
	sparse, _ := s.Add("Sparse", nil, Metadata{})
	dense, _ := s.Add("Dense", nil, Metadata{})
	for i := 0; i < 5; i++ {
		s.Update(dense, Update{Frame: goodFrame("a.mp4", i)})
	}

	if dropped := s.PruneSparseProfiles(3); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if _, ok := s.Get(sparse); ok {
		t.Error("sparse profile should be gone")
	}
	if _, ok := s.Get(dense); !ok {
		t.Error("dense profile should survive")
	}
	// Idempotent.
	if dropped := s.PruneSparseProfiles(3); dropped != 0 {
		t.Errorf("second prune dropped = %d, want 0", dropped)
	}
}

func TestPruneMissingVideos(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", nil, Metadata{})
	s.Update(id, Update{Frame: goodFrame("alive.mp4", 1)})
	s.Update(id, Update{Frame: goodFrame("gone.mp4", 2)})
	s.Update(id, Update{Frame: goodFrame("gone.mp4", 3)})

	dropped := s.PruneMissingVideos(func(path string) bool { return path == "alive.mp4" })
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	p, _ := s.Get(id)
	if p.Frames.Len() != 1 {
		t.Errorf("remaining frames = %d, want 1", p.Frames.Len())
	}
	if p.Frames.Frames[0].VideoPath != "alive.mp4" {
		t.Errorf("kept frame from %q, want alive.mp4", p.Frames.Frames[0].VideoPath)
	}
}

func TestPurgeVideoPlayer(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", nil, Metadata{})

	tagged := goodFrame("a.mp4", 1)
	tagged.PlayerName = "Alice"
	s.Update(id, Update{Frame: tagged})

	other := goodFrame("a.mp4", 2)
	other.PlayerName = "Bob"
	s.Update(id, Update{Frame: other})

	elsewhere := goodFrame("b.mp4", 3)
	elsewhere.PlayerName = "Alice"
	s.Update(id, Update{Frame: elsewhere})

	if dropped := s.PurgeVideoPlayer("a.mp4", "alice"); dropped != 1 {
		t.Errorf("dropped = %d, want 1 (name matching is normalized)", dropped)
	}
	p, _ := s.Get(id)
	if p.Frames.Len() != 2 {
		t.Errorf("remaining frames = %d, want 2", p.Frames.Len())
	}
}

func TestMarkCorrected(t *testing.T) {
	s := testStore(t)
	id, _ := s.Add("Alice", nil, Metadata{})

	if err := s.MarkCorrected(id, "t3"); err != nil {
		t.Fatalf("MarkCorrected failed: %v", err)
	}
	p, _ := s.Get(id)
	if !p.Corrected {
		t.Error("profile should carry the correction breadcrumb")
	}
	if p.TrackHistory["t3"] != 1 {
		t.Errorf("track history = %d, want 1", p.TrackHistory["t3"])
	}
	if err := s.MarkCorrected("nobody", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEventLogIsBounded(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.Pool.EventLogCapacity = 5
	s := NewStore(tuning, nil)

	id, _ := s.Add("Alice", nil, Metadata{})
	for i := 0; i < 20; i++ {
		s.Update(id, Update{Frame: goodFrame("a.mp4", i+1)})
	}

	events, err := s.Events(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Errorf("event log length = %d, want 5", len(events))
	}
	// Oldest entries were dropped, the tail survives.
	if last := events[len(events)-1]; last.Frame != 20 {
		t.Errorf("newest event frame = %d, want 20", last.Frame)
	}
}

func TestTrackHistoryTrimKeepsFrequent(t *testing.T) {
	h := TrackHistory{"a": 10, "b": 1, "c": 7, "d": 2}
	h.Trim(2)
	if len(h) != 2 {
		t.Fatalf("len = %d, want 2", len(h))
	}
	if h["a"] != 10 || h["c"] != 7 {
		t.Errorf("kept %v, want the two most frequent tracks", h)
	}
}

func TestTrackHistoryUnmarshalLegacyShapes(t *testing.T) {
	var h TrackHistory
	data := []byte(`{"counts": 4, "legacy": [{"f": 1}, {"f": 2}], "junk": "nope"}`)
	if err := h.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if h["counts"] != 4 {
		t.Errorf("count shape = %d, want 4", h["counts"])
	}
	if h["legacy"] != 2 {
		t.Errorf("legacy list shape = %d, want its length 2", h["legacy"])
	}
	if _, ok := h["junk"]; ok {
		t.Error("unknown shape should be dropped, not kept")
	}
}
