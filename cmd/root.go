package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// defaultBaseThreshold is the base match threshold when none is given on the
// command line. The engine may raise it adaptively but never lowers it.
const defaultBaseThreshold = 0.5

var rootCmd = &cobra.Command{
	Use:   "player-gallery",
	Short: "A cross-video player identity gallery for sports footage",
	Long: `Player Gallery maintains named player profiles with aggregated appearance
embeddings and reference-frame evidence, and matches new detections against
them so the same player keeps the same identity across videos.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// newLogger builds the process logger. Production encoding, debug level when
// VERBOSE is set.
func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if os.Getenv("VERBOSE") != "" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create logger: %v\n", err)
		os.Exit(1)
	}
	return log
}
