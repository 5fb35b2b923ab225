package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matchvision/player-gallery/internal/gallery"
)

func testProfiles() map[string]*gallery.Profile {
	make3 := func(id, name string, emb []float32) *gallery.Profile {
		p := &gallery.Profile{ID: id, Name: name, Embedding: emb}
		p.Normalize(10)
		p.Frames.Insert(gallery.ReferenceFrame{
			VideoPath: "game1.mp4", FrameNum: 100,
			BBox:       []float64{0, 0, 100, 200},
			Similarity: 0.9, Confidence: 0.8, Quality: 0.7,
		})
		return p
	}
	return map[string]*gallery.Profile{
		"alice": make3("alice", "Alice", []float32{1, 0}),
		"bob":   make3("bob", "Bob", []float32{0, 1}),
		"carol": make3("carol", "Carol", []float32{0.7, 0.7}),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	fs := NewFileStore(path, nil)
	ctx := context.Background()

	if err := fs.Save(ctx, testProfiles()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d profiles, want 3", len(loaded))
	}
	alice := loaded["alice"]
	if alice == nil || alice.Name != "Alice" {
		t.Fatalf("alice = %+v, want name Alice", alice)
	}
	if alice.Frames == nil || alice.Frames.Len() != 1 {
		t.Errorf("alice frames = %v, want 1", alice.Frames.Len())
	}
	if len(alice.Embedding) != 2 {
		t.Errorf("alice embedding length = %d, want 2", len(alice.Embedding))
	}
}

func TestLoadMissingFileIsEmptyGallery(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "nope.json"), nil)
	loaded, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded %d profiles, want 0", len(loaded))
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gallery.json")
	fs := NewFileStore(path, nil)

	if err := fs.Save(context.Background(), testProfiles()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "gallery.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only gallery.json", names)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	fs := NewFileStore(path, nil)
	ctx := context.Background()

	if err := fs.Save(ctx, testProfiles()); err != nil {
		t.Fatal(err)
	}
	// Shrink the gallery and save again over the old file.
	small := map[string]*gallery.Profile{"alice": {ID: "alice", Name: "Alice"}}
	if err := fs.Save(ctx, small); err != nil {
		t.Fatal(err)
	}

	loaded, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Errorf("loaded %d profiles, want 1 after the overwrite", len(loaded))
	}
}

func TestLoadRepairsBOMAndTrailingGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	fs := NewFileStore(path, nil)
	ctx := context.Background()

	if err := fs.Save(ctx, testProfiles()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	damaged := append([]byte{0xEF, 0xBB, 0xBF}, data...)
	damaged = append(damaged, []byte("\n#$%^ crash leftovers")...)
	if err := os.WriteFile(path, damaged, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("repairable damage should not error, got %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("recovered %d profiles, want all 3", len(loaded))
	}
}

func TestLoadRepairsTruncatedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	fs := NewFileStore(path, nil)
	ctx := context.Background()

	if err := fs.Save(ctx, testProfiles()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a crash mid-write: the tail of the file is gone.
	if err := os.WriteFile(path, data[:len(data)-15], 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("truncated snapshot should recover, got %v", err)
	}
	if len(loaded) == 0 {
		t.Fatal("expected at least one recovered profile")
	}
	if loaded["alice"] == nil {
		t.Error("the untouched prefix profile should survive")
	}
}

func TestLoadSalvagesValidPrefix(t *testing.T) {
	// Syntactically balanced but semantically broken in the middle: strict
	// parse and repair both fail, the salvage stage keeps the valid prefix.
	raw := `{"version":2,"profiles":{` +
		`"alice":{"id":"alice","name":"Alice","embedding":[1,0]},` +
		`"bob":"this is not a profile",` +
		`"carol":{"id":"carol","name":"Carol"}}}`

	path := filepath.Join(t.TempDir(), "gallery.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := NewFileStore(path, nil)
	loaded, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("salvageable snapshot should not error, got %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("salvaged %d profiles, want the 1 before the damage", len(loaded))
	}
	if loaded["alice"] == nil || loaded["alice"].Name != "Alice" {
		t.Errorf("salvaged profile = %+v, want Alice", loaded["alice"])
	}
}

func TestLoadUnrecoverableStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	if err := os.WriteFile(path, []byte("\x01\x02 definitely not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := NewFileStore(path, nil)
	loaded, err := fs.Load(context.Background())
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("err = %v, want ErrCorruptSnapshot", err)
	}
	if loaded == nil || len(loaded) != 0 {
		t.Errorf("loaded = %v, want an empty non-nil map", loaded)
	}
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	// A snapshot written by a future version carries fields this one does not
	// know. They must be ignored, not fatal.
	raw := `{"version":99,"saved_at":"2026-01-02T03:04:05Z","shards":4,` +
		`"profiles":{"alice":{"id":"alice","name":"Alice","future_field":{"x":1}}}}`

	path := filepath.Join(t.TempDir(), "gallery.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := NewFileStore(path, nil)
	loaded, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("forward-compatible load failed: %v", err)
	}
	if loaded["alice"] == nil || loaded["alice"].Name != "Alice" {
		t.Errorf("loaded = %+v, want Alice", loaded["alice"])
	}
}
