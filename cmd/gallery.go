package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matchvision/player-gallery/internal/config"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect and maintain the stored player profiles",
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		cfg := config.Load()
		store, _, closer, err := openGallery(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closer()

		profiles := store.List()
		if len(profiles) == 0 {
			fmt.Println("gallery is empty")
			return nil
		}

		fmt.Printf("%-24s %-24s %-12s %-8s %-8s %s\n", "ID", "NAME", "TEAM", "JERSEY", "FRAMES", "DIVERSITY")
		for _, p := range profiles {
			frames := 0
			if p.Frames != nil {
				frames = p.Frames.Len()
			}
			fmt.Printf("%-24s %-24s %-12s %-8s %-8d %.3f\n",
				p.ID, p.Name, p.Team, p.JerseyNumber, frames, p.Diversity)
		}
		return nil
	},
}

var galleryShowCmd = &cobra.Command{
	Use:   "show <profile-id>",
	Short: "Show one profile in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		cfg := config.Load()
		store, _, closer, err := openGallery(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closer()

		p, ok := store.Get(args[0])
		if !ok {
			return fmt.Errorf("profile %q not found", args[0])
		}

		fmt.Printf("ID:           %s\n", p.ID)
		fmt.Printf("Name:         %s\n", p.Name)
		if p.Team != "" {
			fmt.Printf("Team:         %s\n", p.Team)
		}
		if p.JerseyNumber != "" {
			fmt.Printf("Jersey:       %s\n", p.JerseyNumber)
		}
		fmt.Printf("Quality:      %.3f\n", p.EmbeddingQ)
		fmt.Printf("Diversity:    %.3f\n", p.Diversity)
		if p.Frames != nil {
			fmt.Printf("Frames:       %d\n", p.Frames.Len())
			if best := p.Frames.BestFrame(p.Name); best != nil {
				fmt.Printf("Best frame:   %s #%d (sim %.3f, conf %.3f)\n",
					best.VideoPath, best.FrameNum, best.Similarity, best.Confidence)
			}
		}
		if len(p.UniformPools) > 0 {
			keys := make([]string, 0, len(p.UniformPools))
			for key := range p.UniformPools {
				keys = append(keys, key)
			}
			fmt.Printf("Uniforms:     %s\n", strings.Join(keys, ", "))
		}
		if len(p.TrackHistory) > 0 {
			fmt.Printf("Tracks:       %d known\n", len(p.TrackHistory))
		}
		events, _ := store.Events(p.ID)
		for _, e := range events {
			fmt.Printf("  [%s] %s %s\n", e.At.Format("2006-01-02 15:04:05"), e.Type, e.Note)
		}
		return nil
	},
}

var galleryRemoveCmd = &cobra.Command{
	Use:   "remove <profile-id>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		cfg := config.Load()
		store, backend, closer, err := openGallery(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closer()

		if !store.Remove(args[0]) {
			return fmt.Errorf("profile %q not found", args[0])
		}
		if err := saveGallery(cmd.Context(), backend, store); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

var galleryMergeCmd = &cobra.Command{
	Use:   "merge <source-id> <target-id>",
	Short: "Merge one profile into another",
	Long: `Merge the source profile into the target: the target keeps its identity,
absorbs the source's reference frames and track history, and the embeddings
are averaged. The source profile is deleted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		cfg := config.Load()
		store, backend, closer, err := openGallery(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closer()

		if err := store.Merge(args[0], args[1]); err != nil {
			return fmt.Errorf("merging profiles: %w", err)
		}
		if err := saveGallery(cmd.Context(), backend, store); err != nil {
			return err
		}
		fmt.Printf("merged %s into %s\n", args[0], args[1])
		return nil
	},
}

var galleryCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune sparse profiles and stale reference frames",
	Long: `Cleanup runs the maintenance passes over the gallery:

  --min-frames N      remove profiles with fewer than N reference frames
  --missing-videos    drop reference frames whose source video no longer exists
  --video + --player  purge one player's frames from one video`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		cfg := config.Load()
		store, backend, closer, err := openGallery(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closer()

		changed := false
		if minFrames := mustGetInt(cmd, "min-frames"); minFrames > 0 {
			removed := store.PruneSparseProfiles(minFrames)
			fmt.Printf("removed %d sparse profiles\n", removed)
			changed = changed || removed > 0
		}
		if mustGetBool(cmd, "missing-videos") {
			dropped := store.PruneMissingVideos(nil)
			fmt.Printf("dropped %d frames referencing missing videos\n", dropped)
			changed = changed || dropped > 0
		}
		video := mustGetString(cmd, "video")
		player := mustGetString(cmd, "player")
		if video != "" && player != "" {
			purged := store.PurgeVideoPlayer(video, player)
			fmt.Printf("purged %d frames of %s from %s\n", purged, player, video)
			changed = changed || purged > 0
		} else if video != "" || player != "" {
			return fmt.Errorf("--video and --player must be given together")
		}

		if !changed {
			fmt.Println("nothing to clean up")
			return nil
		}
		return saveGallery(cmd.Context(), backend, store)
	},
}

func init() {
	galleryCleanupCmd.Flags().Int("min-frames", 0, "Remove profiles with fewer reference frames")
	galleryCleanupCmd.Flags().Bool("missing-videos", false, "Drop frames whose source video is gone")
	galleryCleanupCmd.Flags().String("video", "", "Video path for a targeted purge")
	galleryCleanupCmd.Flags().String("player", "", "Player name for a targeted purge")

	galleryCmd.AddCommand(galleryListCmd)
	galleryCmd.AddCommand(galleryShowCmd)
	galleryCmd.AddCommand(galleryRemoveCmd)
	galleryCmd.AddCommand(galleryMergeCmd)
	galleryCmd.AddCommand(galleryCleanupCmd)
	rootCmd.AddCommand(galleryCmd)
}
