package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/extractor"
	"github.com/matchvision/player-gallery/internal/graphindex"
	"github.com/matchvision/player-gallery/internal/match"
	"github.com/matchvision/player-gallery/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gallery API server",
	Long: `Start the gallery HTTP server. It exposes the stored profiles, their
event logs, gallery statistics and the match endpoint for downstream
consumers, plus Prometheus metrics on /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Float64("threshold", defaultBaseThreshold, "Base match threshold")
	serveCmd.Flags().Bool("strict-team", false, "Exclude cross-team candidates instead of penalizing them")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	cfg := config.Load()
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx := cmd.Context()
	store, backend, closer, err := openGallery(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closer()

	graph := graphindex.New(cfg.Tuning.Graph)
	engine := match.NewEngine(store, cfg.Tuning, log).WithGraph(graph)
	engine.SetStrictTeam(mustGetBool(cmd, "strict-team"))
	engine.RebuildANN()

	var ex extractor.Extractor
	if cfg.Extractor.URL != "" {
		client, err := extractor.NewClient(cfg.Extractor.URL, cfg.Extractor.Dim)
		if err != nil {
			return fmt.Errorf("configuring extractor client: %w", err)
		}
		ex = client
	}

	server := web.NewServer(store, engine, ex, mustGetFloat64(cmd, "threshold"), cfg.Web.Host, cfg.Web.Port, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}

	// Persist whatever the server accumulated before exiting.
	saveCtx, cancelSave := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSave()
	return saveGallery(saveCtx, backend, store)
}
