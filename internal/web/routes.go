package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matchvision/player-gallery/internal/extractor"
	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/match"
	"github.com/matchvision/player-gallery/internal/web/handlers"
)

func (s *Server) setupRoutes(store *gallery.Store, engine *match.Engine, ex extractor.Extractor, baseThreshold float64) {
	profilesHandler := handlers.NewProfilesHandler(store, s.log)
	matchHandler := handlers.NewMatchHandler(engine, ex, baseThreshold, s.log)
	statsHandler := handlers.NewStatsHandler(store)

	// Health check and metrics (no API prefix).
	s.router.Get("/healthz", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Profiles
		r.Get("/profiles", profilesHandler.List)
		r.Get("/profiles/{id}", profilesHandler.Get)
		r.Get("/profiles/{id}/events", profilesHandler.Events)
		r.Get("/profiles/{id}/boost/{track}", profilesHandler.TrackBoost)

		// Match
		r.Post("/match", matchHandler.Match)
		r.Post("/match/all", matchHandler.MatchAll)
		r.Post("/match/crop", matchHandler.MatchCrop)

		// Stats
		r.Get("/stats", statsHandler.Get)
	})
}
