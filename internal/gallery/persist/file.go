// Package persist stores gallery snapshots. The primary backend is an atomic
// JSON file with staged corruption recovery; a Postgres backend is available
// for deployments that already run one.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/metrics"
)

// ErrCorruptSnapshot reports that every recovery stage failed and the caller
// got an empty store. Possible data loss; callers should warn the operator.
var ErrCorruptSnapshot = errors.New("gallery snapshot unrecoverable, starting empty")

// Store is the persistence contract: a full snapshot in, a full snapshot out.
type Store interface {
	Load(ctx context.Context) (map[string]*gallery.Profile, error)
	Save(ctx context.Context, profiles map[string]*gallery.Profile) error
}

// Snapshot is the on-disk gallery format. Unknown fields from future
// versions are ignored on load; missing fields are default-filled by the
// store's schema migration pass.
type Snapshot struct {
	Version  int                         `json:"version"`
	SavedAt  time.Time                   `json:"saved_at"`
	Profiles map[string]*gallery.Profile `json:"profiles"`
}

// FileStore persists the gallery to a single JSON file.
type FileStore struct {
	path string
	log  *zap.Logger
}

// NewFileStore returns a file-backed store. A nil logger is replaced with a
// no-op logger.
func NewFileStore(path string, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, log: log}
}

// Save writes the snapshot atomically: temp file in the same directory,
// fsync, then rename over the target. A crash mid-write leaves the previous
// snapshot intact.
func (f *FileStore) Save(_ context.Context, profiles map[string]*gallery.Profile) error {
	snap := Snapshot{
		Version:  gallery.SchemaVersion,
		SavedAt:  time.Now(),
		Profiles: profiles,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal gallery snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename.

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot, attempting staged recovery from a malformed file:
// strict parse, then a syntactic repair pass, then a salvage pass keeping the
// longest valid prefix of profiles. If everything fails it returns an empty
// map with ErrCorruptSnapshot so callers can warn about possible data loss.
func (f *FileStore) Load(_ context.Context) (map[string]*gallery.Profile, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]*gallery.Profile), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err == nil {
		return snapProfiles(snap), nil
	}

	// Stage 2: syntactic repair.
	if repaired, ok := repairJSON(data); ok {
		if err := json.Unmarshal(repaired, &snap); err == nil {
			f.log.Warn("gallery snapshot repaired after syntactic damage",
				zap.String("path", f.path))
			metrics.RecoveryEvents.WithLabelValues("repair").Inc()
			return snapProfiles(snap), nil
		}
	}

	// Stage 3: salvage the longest valid prefix of profiles.
	if profiles, n := salvageProfiles(data); n > 0 {
		f.log.Warn("gallery snapshot salvaged, tail lost",
			zap.String("path", f.path), zap.Int("profiles_recovered", n))
		metrics.RecoveryEvents.WithLabelValues("salvage").Inc()
		return profiles, nil
	}

	f.log.Error("gallery snapshot unrecoverable, starting from an empty store",
		zap.String("path", f.path), zap.Int("bytes", len(data)))
	metrics.RecoveryEvents.WithLabelValues("reset").Inc()
	return make(map[string]*gallery.Profile), ErrCorruptSnapshot
}

func snapProfiles(snap Snapshot) map[string]*gallery.Profile {
	if snap.Profiles == nil {
		return make(map[string]*gallery.Profile)
	}
	return snap.Profiles
}

// repairJSON fixes the common syntactic damage a crashed writer leaves
// behind: a UTF-8 BOM, trailing garbage after the document, or a truncated
// tail. The truncation fix trims back to the longest balanced prefix and
// closes any open braces/brackets.
func repairJSON(data []byte) ([]byte, bool) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	lastBalanced := -1
	var stack []byte

	for i, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
			stack = append(stack, c)
		case '}', ']':
			depth--
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if depth == 0 {
				lastBalanced = i
			}
		}
		if depth < 0 {
			return nil, false
		}
	}

	if lastBalanced >= 0 {
		// Balanced document with possible trailing garbage.
		return data[:lastBalanced+1], true
	}

	// Truncated tail: trim back to the last complete value and close the
	// open containers. Cutting at the last comma or closer keeps the prefix
	// decodable.
	cut := len(data)
	if inString || escaped {
		if q := bytes.LastIndexByte(data, '"'); q > 0 {
			cut = q
		}
	}
	trimmed := data[:cut]
	if idx := lastCleanBreak(trimmed); idx > 0 {
		trimmed = trimmed[:idx]
	}
	trimmed = bytes.TrimRight(trimmed, ", \n\t\r")

	// Recount depth on the trimmed prefix.
	stack = stack[:0]
	inString, escaped = false, false
	for _, c := range trimmed {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		return nil, false
	}
	out := append([]byte(nil), trimmed...)
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i])
	}
	return out, true
}

// lastCleanBreak finds the last position after a complete value: a closing
// brace/bracket outside any string.
func lastCleanBreak(data []byte) int {
	inString := false
	escaped := false
	last := -1
	for i, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '}', ']':
			last = i + 1
		}
	}
	return last
}

// salvageProfiles walks the snapshot token-by-token and keeps every profile
// that decodes cleanly, stopping at the first damaged entry.
func salvageProfiles(data []byte) (map[string]*gallery.Profile, int) {
	dec := json.NewDecoder(bytes.NewReader(data))

	// Walk to the "profiles" object.
	tok, err := dec.Token()
	if err != nil {
		return nil, 0
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, 0
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, 0
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, 0
		}
		if key != "profiles" {
			// Skip this value entirely.
			var discard json.RawMessage
			if err := dec.Decode(&discard); err != nil {
				return nil, 0
			}
			continue
		}

		open, err := dec.Token()
		if err != nil {
			return nil, 0
		}
		if delim, ok := open.(json.Delim); !ok || delim != '{' {
			return nil, 0
		}

		profiles := make(map[string]*gallery.Profile)
		for dec.More() {
			idTok, err := dec.Token()
			if err != nil {
				return profiles, len(profiles)
			}
			id, ok := idTok.(string)
			if !ok {
				return profiles, len(profiles)
			}
			var p gallery.Profile
			if err := dec.Decode(&p); err != nil {
				return profiles, len(profiles)
			}
			profiles[id] = &p
		}
		return profiles, len(profiles)
	}
	return nil, 0
}
