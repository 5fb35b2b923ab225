package handlers

import (
	"net/http"

	"github.com/matchvision/player-gallery/internal/gallery"
)

// StatsHandler serves gallery statistics.
type StatsHandler struct {
	store *gallery.Store
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(store *gallery.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

// StatsResponse combines the cached gallery statistics with the store's
// rejection counters.
type StatsResponse struct {
	Stats    gallery.Stats    `json:"stats"`
	Counters gallery.Counters `json:"counters"`
	Profiles int              `json:"profiles"`
}

// Get returns the current gallery statistics. Pass ?force=1 to bypass the
// frame-clock cache.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") != ""
	respondJSON(w, http.StatusOK, StatsResponse{
		Stats:    h.store.Stats(force),
		Counters: h.store.Counters(),
		Profiles: h.store.Len(),
	})
}
