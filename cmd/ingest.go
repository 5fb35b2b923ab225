package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/tracker"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <detections.jsonl>",
	Short: "Bulk import labeled detections into the gallery",
	Long: `Ingest reads a JSON-lines file of labeled detections, one object per line,
creates missing profiles and feeds every detection through the normal
aggregation and rejection pipeline. Rejected detections are counted, not
fatal.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Bool("dry-run", false, "Parse and validate without mutating the gallery")
}

// Same-frame boxes overlapping at least this much with a matching identity
// are redundant detections of one subject.
const duplicateMinIoU = 0.9

// ingestRecord is one labeled detection in the import file: the tracker's
// detection fields plus the labeling and embedding payload.
type ingestRecord struct {
	tracker.Detection
	Name          string               `json:"name"`
	DominantColor []float64            `json:"dominant_color,omitempty"`
	VideoPath     string               `json:"video_path"`
	Similarity    float64              `json:"similarity"`
	Quality       float64              `json:"quality"`
	IsAnchor      bool                 `json:"is_anchor,omitempty"`
	Embedding     []float32            `json:"embedding,omitempty"`
	Regions       map[string][]float32 `json:"regions,omitempty"`
}

// identity resolves the profile name, preferring the explicit label over the
// tracker's hint, and mirrors it back so track-id synthesis sees it too.
func (rec *ingestRecord) identity() string {
	if rec.Name == "" {
		rec.Name = rec.PlayerName
	}
	if rec.PlayerName == "" {
		rec.PlayerName = rec.Name
	}
	return rec.Name
}

// applyRecord feeds one labeled detection through the profile pipeline:
// create-if-missing, track-id synthesis, then the store's Update path.
func applyRecord(store *gallery.Store, rec *ingestRecord, zoneGrid int) (string, gallery.UpdateResult, error) {
	embedding := rec.Embedding
	if len(embedding) == 0 && rec.Regions != nil {
		embedding = rec.Regions[gallery.RegionGeneral]
	}
	meta := gallery.Metadata{
		Name:          rec.Name,
		Team:          rec.Team,
		JerseyNumber:  rec.JerseyNumber,
		DominantColor: rec.DominantColor,
	}
	id, _ := store.Add(rec.Name, embedding, meta)

	frame := rec.Reference(rec.VideoPath, rec.Similarity, rec.Quality, rec.IsAnchor)
	result, err := store.Update(id, gallery.Update{
		Embedding: embedding,
		Regions:   rec.Regions,
		Frame:     &frame,
		TrackID:   rec.EnsureTrackID(zoneGrid),
	})
	if err == nil {
		store.ObserveFrame(rec.FrameIndex)
	}
	return id, result, err
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading detections file: %w", err)
	}
	total := bytes.Count(data, []byte("\n")) + 1

	cfg := config.Load()
	store, backend, closer, err := openGallery(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer closer()

	dryRun := mustGetBool(cmd, "dry-run")
	bar := progressbar.Default(int64(total), "ingesting")

	var accepted, rejected, invalid, duplicates int
	var prev *ingestRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		bar.Add(1) //nolint:errcheck

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec ingestRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn("skipping unparsable detection", zap.Int("line", line), zap.Error(err))
			invalid++
			continue
		}
		if rec.identity() == "" {
			log.Warn("skipping unnamed detection", zap.Int("line", line))
			invalid++
			continue
		}
		if prev != nil && rec.VideoPath == prev.VideoPath &&
			rec.DuplicateOf(&prev.Detection, duplicateMinIoU) {
			duplicates++
			continue
		}
		prev = &rec
		if dryRun {
			continue
		}

		_, result, err := applyRecord(store, &rec, cfg.Tuning.Graph.ZoneGrid)
		if err != nil {
			log.Warn("update failed", zap.Int("line", line), zap.Error(err))
			invalid++
			continue
		}
		if result.Accepted {
			accepted++
		} else {
			rejected++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading detections file: %w", err)
	}

	fmt.Printf("\n%d accepted, %d rejected, %d duplicate, %d invalid\n", accepted, rejected, duplicates, invalid)
	if dryRun {
		fmt.Println("dry run, gallery not modified")
		return nil
	}
	return saveGallery(cmd.Context(), backend, store)
}
