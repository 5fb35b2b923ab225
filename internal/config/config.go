package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed tuning.yaml
var tuningYAML []byte

type Config struct {
	Gallery   GalleryConfig
	Database  DatabaseConfig
	Extractor ExtractorConfig
	Web       WebConfig
	Tuning    Tuning
}

type GalleryConfig struct {
	Path string // Path to the JSON gallery snapshot (default gallery.json)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL; when empty the file store is used
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type ExtractorConfig struct {
	URL string // Feature extractor service, defaults to http://localhost:8000
	Dim int    // Embedding dimension, defaults to 512
}

type WebConfig struct {
	Host string
	Port int
}

// Tuning holds every empirically tuned magnitude used by the gallery and the
// match engine. Defaults come from the embedded tuning.yaml; a file pointed
// to by TUNING_PATH overrides individual values.
type Tuning struct {
	Aggregation AggregationTuning `yaml:"aggregation"`
	Pool        PoolTuning        `yaml:"pool"`
	Threshold   ThresholdTuning   `yaml:"threshold"`
	Boosts      BoostTuning       `yaml:"boosts"`
	Stats       StatsTuning       `yaml:"stats"`
	ANN         ANNTuning         `yaml:"ann"`
	Graph       GraphTuning       `yaml:"graph"`
}

type AggregationTuning struct {
	AnchorWeight  float64 `yaml:"anchor_weight"`
	MinSimilarity float64 `yaml:"min_similarity"`
	MinConfidence float64 `yaml:"min_confidence"`
}

type PoolTuning struct {
	Capacity         int `yaml:"capacity"`
	EventLogCapacity int `yaml:"event_log_capacity"`
	TrackHistoryCap  int `yaml:"track_history_cap"`
}

type ThresholdTuning struct {
	HighConfidenceBonus  float64 `yaml:"high_confidence_bonus"`
	LowConfidenceRelax   float64 `yaml:"low_confidence_relax"`
	DiversityAdjust      float64 `yaml:"diversity_adjust"`
	DiversityLooseRatio  float64 `yaml:"diversity_loose_ratio"`
	DiversityStrictRatio float64 `yaml:"diversity_strict_ratio"`
	GallerySizeAdjust    float64 `yaml:"gallery_size_adjust"`
	LargeGallery         int     `yaml:"large_gallery"`
	SmallGallery         int     `yaml:"small_gallery"`
	MaxThreshold         float64 `yaml:"max_threshold"`
}

type BoostTuning struct {
	TeamPenalty             float64 `yaml:"team_penalty"`
	TeamNearBonus           float64 `yaml:"team_near_bonus"`
	TeamNearWindow          float64 `yaml:"team_near_window"`
	JerseyExact             float64 `yaml:"jersey_exact"`
	JerseyPadded            float64 `yaml:"jersey_padded"`
	JerseyMinSimilarity     float64 `yaml:"jersey_min_similarity"`
	UniformExact            float64 `yaml:"uniform_exact"`
	UniformJerseyOnly       float64 `yaml:"uniform_jersey_only"`
	UniformMinSimilarity    float64 `yaml:"uniform_min_similarity"`
	EarlyFrameBoost         float64 `yaml:"early_frame_boost"`
	EarlyFrameMinSimilarity float64 `yaml:"early_frame_min_similarity"`
	EarlyFrameWindow        int     `yaml:"early_frame_window"`
	ColorBlendWeight        float64 `yaml:"color_blend_weight"`
	ColorMinSimilarity      float64 `yaml:"color_min_similarity"`
	LockedRoute             float64 `yaml:"locked_route"`
	UserCorrection          float64 `yaml:"user_correction"`
	TrackHistoryLow         float64 `yaml:"track_history_low"`
	TrackHistoryMid         float64 `yaml:"track_history_mid"`
	TrackHistoryHigh        float64 `yaml:"track_history_high"`
	BreadcrumbCap           float64 `yaml:"breadcrumb_cap"`
	RelaxedFloor            float64 `yaml:"relaxed_floor"`
}

type StatsTuning struct {
	IntraPlayerSimilarity float64 `yaml:"intra_player_similarity"`
	RefreshIntervalFrames int     `yaml:"refresh_interval_frames"`
}

type ANNTuning struct {
	EnableAbove int `yaml:"enable_above"`
	Candidates  int `yaml:"candidates"`
}

type GraphTuning struct {
	ZoneGrid      int     `yaml:"zone_grid"`
	DecayRate     float64 `yaml:"decay_rate"`
	MinEdgeWeight float64 `yaml:"min_edge_weight"`
	MaxNodeAge    int     `yaml:"max_node_age"`
	JerseyBonus   float64 `yaml:"jersey_bonus"`
	TeamBonus     float64 `yaml:"team_bonus"`
	ZoneBonus     float64 `yaml:"zone_bonus"`
	RerankBonus   float64 `yaml:"rerank_bonus"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envStr reads an environment variable with a default.
func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// DefaultTuning returns the embedded tuning defaults.
func DefaultTuning() Tuning {
	var t Tuning
	if err := yaml.Unmarshal(tuningYAML, &t); err != nil {
		// Embedded file, this cannot happen outside a bad build.
		panic("failed to unmarshal embedded tuning.yaml: " + err.Error())
	}
	return t
}

func Load() *Config {
	tuning := DefaultTuning()
	if path := os.Getenv("TUNING_PATH"); path != "" {
		// Overrides are best-effort: a missing or bad file keeps defaults.
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &tuning)
		}
	}

	return &Config{
		Gallery: GalleryConfig{
			Path: envStr("GALLERY_PATH", "gallery.json"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Extractor: ExtractorConfig{
			URL: envStr("EXTRACTOR_URL", "http://localhost:8000"),
			Dim: envInt("EXTRACTOR_DIM", 512),
		},
		Web: WebConfig{
			Host: envStr("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
		Tuning: tuning,
	}
}
