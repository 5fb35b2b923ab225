package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matchvision/player-gallery/internal/config"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print gallery statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		cfg := config.Load()
		store, _, closer, err := openGallery(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closer()

		stats := store.Stats(true)
		counters := store.Counters()

		fmt.Printf("Profiles:              %d\n", stats.GallerySize)
		fmt.Printf("Avg diversity:         %.3f\n", stats.DiversityRatio)
		fmt.Printf("Avg inter-player sim:  %.3f\n", stats.AvgInterPlayerSim)
		fmt.Printf("Avg intra-player sim:  %.3f\n", stats.AvgIntraPlayerSim)
		fmt.Printf("Updates accepted:      %d\n", counters.UpdatesAccepted)
		fmt.Printf("Rejected (similarity): %d\n", counters.RejectedSimilarity)
		fmt.Printf("Rejected (confidence): %d\n", counters.RejectedConfidence)
		fmt.Printf("Invalid embeddings:    %d\n", counters.InvalidEmbeddings)
		fmt.Printf("Evicted frames:        %d\n", counters.EvictedFrames)
		fmt.Printf("Rename collisions:     %d\n", counters.RenameCollisions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
