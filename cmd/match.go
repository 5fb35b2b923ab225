package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/match"
)

var matchCmd = &cobra.Command{
	Use:   "match <query.json>",
	Short: "Match a detection against the gallery",
	Long: `Match reads a query JSON file carrying the detection's region embeddings
and optional hints (team, jersey number, uniform, track id, position) and
scores it against every stored profile.`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Float64("threshold", defaultBaseThreshold, "Base match threshold")
	matchCmd.Flags().Bool("all", false, "Print every scored candidate instead of the winner")
	matchCmd.Flags().Bool("strict-team", false, "Exclude cross-team candidates instead of penalizing them")
}

// matchQuery is the on-disk query shape.
type matchQuery struct {
	Regions       map[string][]float32    `json:"regions"`
	Embedding     []float32               `json:"embedding,omitempty"`
	Confidence    float64                 `json:"confidence"`
	Quality       float64                 `json:"quality"`
	DominantColor []float64               `json:"dominant_color,omitempty"`
	Team          string                  `json:"team,omitempty"`
	JerseyNumber  string                  `json:"jersey_number,omitempty"`
	Uniform       *gallery.UniformVariant `json:"uniform,omitempty"`
	TrackID       string                  `json:"track_id,omitempty"`
	Position      []float64               `json:"position,omitempty"`
	CurrentFrame  int                     `json:"current_frame"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading query file: %w", err)
	}
	var mq matchQuery
	if err := json.Unmarshal(data, &mq); err != nil {
		return fmt.Errorf("parsing query file: %w", err)
	}

	regions := mq.Regions
	if regions == nil {
		regions = make(map[string][]float32)
	}
	if len(mq.Embedding) > 0 && len(regions[gallery.RegionGeneral]) == 0 {
		regions[gallery.RegionGeneral] = mq.Embedding
	}
	query := &match.Query{
		Regions:       regions,
		Confidence:    mq.Confidence,
		Quality:       mq.Quality,
		DominantColor: mq.DominantColor,
		Team:          mq.Team,
		JerseyNumber:  mq.JerseyNumber,
		Uniform:       mq.Uniform,
		TrackID:       mq.TrackID,
		Position:      mq.Position,
		CurrentFrame:  mq.CurrentFrame,
	}

	cfg := config.Load()
	store, _, closer, err := openGallery(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer closer()

	engine := match.NewEngine(store, cfg.Tuning, log)
	engine.SetStrictTeam(mustGetBool(cmd, "strict-team"))
	engine.RebuildANN()
	threshold := mustGetFloat64(cmd, "threshold")

	if mustGetBool(cmd, "all") {
		candidates := engine.MatchAll(query, match.Filters{}, threshold)
		if len(candidates) == 0 {
			fmt.Println("no candidates")
			return nil
		}
		fmt.Printf("%-24s %-24s %-12s %-8s %-8s %s\n", "ID", "NAME", "TEAM", "RAW", "FINAL", "CROSS")
		for _, c := range candidates {
			fmt.Printf("%-24s %-24s %-12s %-8.3f %-8.3f %v\n", c.ID, c.Name, c.Team, c.Raw, c.Final, c.CrossTeam)
		}
		return nil
	}

	result := engine.Match(query, match.Filters{}, threshold)
	if !result.Matched() {
		fmt.Println("no match")
		return nil
	}
	fmt.Printf("matched %s (%s) with similarity %.3f\n", result.Name, result.ID, result.Similarity)
	return nil
}
