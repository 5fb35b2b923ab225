package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/gallery"
)

// ProfilesHandler serves the read-only profile endpoints.
type ProfilesHandler struct {
	store *gallery.Store
	log   *zap.Logger
}

// NewProfilesHandler creates a new profiles handler.
func NewProfilesHandler(store *gallery.Store, log *zap.Logger) *ProfilesHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProfilesHandler{store: store, log: log}
}

// ProfileSummary is the list-view shape of a profile. Embeddings are omitted,
// they are large and no API consumer needs the raw floats.
type ProfileSummary struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Team         string  `json:"team,omitempty"`
	JerseyNumber string  `json:"jersey_number,omitempty"`
	Frames       int     `json:"frames"`
	UniformPools int     `json:"uniform_pools"`
	Diversity    float64 `json:"diversity"`
	Quality      float64 `json:"embedding_quality"`
	Locked       bool    `json:"locked,omitempty"`
	Corrected    bool    `json:"corrected,omitempty"`
}

func summarize(p *gallery.Profile) ProfileSummary {
	frames := 0
	if p.Frames != nil {
		frames = len(p.Frames.Frames)
	}
	return ProfileSummary{
		ID:           p.ID,
		Name:         p.Name,
		Team:         p.Team,
		JerseyNumber: p.JerseyNumber,
		Frames:       frames,
		UniformPools: len(p.UniformPools),
		Diversity:    p.Diversity,
		Quality:      p.EmbeddingQ,
		Locked:       p.Locked,
		Corrected:    p.Corrected,
	}
}

// List returns every stored profile, sorted by id.
func (h *ProfilesHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles := h.store.List()
	out := make([]ProfileSummary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, summarize(p))
	}
	respondJSON(w, http.StatusOK, out)
}

// ProfileDetail extends the summary with the evidence a debugging consumer
// wants to see.
type ProfileDetail struct {
	ProfileSummary
	DominantColor []float64               `json:"dominant_color,omitempty"`
	TrackHistory  gallery.TrackHistory    `json:"track_history,omitempty"`
	BestFrame     *gallery.ReferenceFrame `json:"best_frame,omitempty"`
}

// Get returns one profile by id.
func (h *ProfilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	detail := ProfileDetail{
		ProfileSummary: summarize(p),
		DominantColor:  p.DominantColor,
		TrackHistory:   p.TrackHistory,
	}
	if p.Frames != nil {
		detail.BestFrame = p.Frames.BestFrame(p.Name)
	}
	respondJSON(w, http.StatusOK, detail)
}

// Events returns a profile's event log, newest last.
func (h *ProfilesHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.store.Events(id)
	if err != nil {
		if errors.Is(err, gallery.ErrNotFound) {
			respondError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.log.Error("listing events failed", zap.String("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not list events")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// TrackBoost returns the similarity boost a track's co-occurrence history
// earns against a profile.
func (h *ProfilesHandler) TrackBoost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	track := chi.URLParam(r, "track")
	if _, ok := h.store.Get(id); !ok {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"profile_id": id,
		"track_id":   track,
		"boost":      h.store.TrackBoost(id, track),
	})
}
