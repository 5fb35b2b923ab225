package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/extractor"
	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/match"
)

// maxCropBytes bounds the crop image body accepted by MatchCrop.
const maxCropBytes = 8 << 20

// MatchHandler serves the match endpoints. The extractor is optional; when
// nil the crop endpoint reports the service as unavailable.
type MatchHandler struct {
	engine        *match.Engine
	extractor     extractor.Extractor
	baseThreshold float64
	log           *zap.Logger
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(engine *match.Engine, ex extractor.Extractor, baseThreshold float64, log *zap.Logger) *MatchHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MatchHandler{engine: engine, extractor: ex, baseThreshold: baseThreshold, log: log}
}

// MatchRequest is the JSON body for the match endpoints.
type MatchRequest struct {
	Regions       map[string][]float32    `json:"regions"`
	Embedding     []float32               `json:"embedding,omitempty"` // shorthand for regions["general"]
	Confidence    float64                 `json:"confidence"`
	Quality       float64                 `json:"quality"`
	DominantColor []float64               `json:"dominant_color,omitempty"`
	Team          string                  `json:"team,omitempty"`
	JerseyNumber  string                  `json:"jersey_number,omitempty"`
	Uniform       *gallery.UniformVariant `json:"uniform,omitempty"`
	TrackID       string                  `json:"track_id,omitempty"`
	Position      []float64               `json:"position,omitempty"`
	CurrentFrame  int                     `json:"current_frame"`
	Threshold     float64                 `json:"threshold,omitempty"` // base threshold override
	ExcludeIDs    []string                `json:"exclude_ids,omitempty"`
	IncludeOnly   []string                `json:"include_only,omitempty"`
}

func (req *MatchRequest) query() *match.Query {
	regions := req.Regions
	if regions == nil {
		regions = make(map[string][]float32)
	}
	if len(req.Embedding) > 0 && len(regions[gallery.RegionGeneral]) == 0 {
		regions[gallery.RegionGeneral] = req.Embedding
	}
	return &match.Query{
		Regions:       regions,
		Confidence:    req.Confidence,
		Quality:       req.Quality,
		DominantColor: req.DominantColor,
		Team:          req.Team,
		JerseyNumber:  req.JerseyNumber,
		Uniform:       req.Uniform,
		TrackID:       req.TrackID,
		Position:      req.Position,
		CurrentFrame:  req.CurrentFrame,
	}
}

func (h *MatchHandler) decode(w http.ResponseWriter, r *http.Request) (*MatchRequest, float64, bool) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return nil, 0, false
	}
	threshold := h.baseThreshold
	if req.Threshold > 0 {
		threshold = req.Threshold
	}
	return &req, threshold, true
}

// Match scores the request against the gallery and returns the selected
// profile, or an empty result when nothing clears the threshold.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	req, threshold, ok := h.decode(w, r)
	if !ok {
		return
	}
	filters := match.Filters{ExcludeIDs: req.ExcludeIDs, IncludeOnlyIDs: req.IncludeOnly}
	result := h.engine.Match(req.query(), filters, threshold)
	respondJSON(w, http.StatusOK, map[string]any{
		"matched": result.Matched(),
		"result":  result,
	})
}

// MatchCrop embeds a raw player crop through the extractor service and
// scores it against the gallery. The request body is the crop image;
// detection hints arrive as query parameters. An optional bbox parameter
// ("x1,y1,x2,y2") cuts the box out of a full frame image first.
func (h *MatchHandler) MatchCrop(w http.ResponseWriter, r *http.Request) {
	if h.extractor == nil {
		respondError(w, http.StatusServiceUnavailable, "extractor service not configured")
		return
	}

	crop, err := io.ReadAll(io.LimitReader(r.Body, maxCropBytes))
	if err != nil || len(crop) == 0 {
		respondError(w, http.StatusBadRequest, "missing image body")
		return
	}

	params := r.URL.Query()
	if raw := params.Get("bbox"); raw != "" {
		bbox, err := parseBBox(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		crop, err = extractor.CropThumbnail(crop, bbox, 0)
		if err != nil {
			respondError(w, http.StatusBadRequest, "could not crop frame: "+err.Error())
			return
		}
	}

	regions, err := h.extractor.Extract(r.Context(), crop)
	if errors.Is(err, extractor.ErrNoEmbedding) {
		respondJSON(w, http.StatusOK, map[string]any{
			"matched": false,
			"result":  match.Result{},
		})
		return
	}
	if err != nil {
		h.log.Warn("crop embedding failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "embedding service failed")
		return
	}

	threshold := h.baseThreshold
	if v := queryFloat(params.Get("threshold")); v > 0 {
		threshold = v
	}
	q := &match.Query{
		Regions:      regions,
		Confidence:   queryFloat(params.Get("confidence")),
		Quality:      queryFloat(params.Get("quality")),
		Team:         params.Get("team"),
		JerseyNumber: params.Get("jersey_number"),
		TrackID:      params.Get("track_id"),
		CurrentFrame: queryInt(params.Get("current_frame")),
	}

	result := h.engine.Match(q, match.Filters{}, threshold)
	respondJSON(w, http.StatusOK, map[string]any{
		"matched": result.Matched(),
		"result":  result,
	})
}

// parseBBox parses a "x1,y1,x2,y2" query parameter.
func parseBBox(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must be x1,y1,x2,y2, got %q", raw)
	}
	bbox := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("bbox coordinate %q is not a number", part)
		}
		bbox[i] = v
	}
	return bbox, nil
}

func queryFloat(raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func queryInt(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

// MatchAll returns every scored candidate, best first, for diagnostics.
func (h *MatchHandler) MatchAll(w http.ResponseWriter, r *http.Request) {
	req, threshold, ok := h.decode(w, r)
	if !ok {
		return
	}
	filters := match.Filters{ExcludeIDs: req.ExcludeIDs, IncludeOnlyIDs: req.IncludeOnly}
	candidates := h.engine.MatchAll(req.query(), filters, threshold)
	if candidates == nil {
		candidates = []match.Candidate{}
	}
	respondJSON(w, http.StatusOK, candidates)
}
