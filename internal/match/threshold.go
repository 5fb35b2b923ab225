package match

import (
	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/gallery"
)

// effectiveThreshold adapts the caller's base threshold to the query's
// detection quality and the gallery's shape. The result is never below the
// base threshold: adaptations may tighten matching but can only relax it
// back down to what the caller asked for.
func effectiveThreshold(base float64, q *Query, stats gallery.Stats, t config.ThresholdTuning) float64 {
	eff := base

	if q.Confidence > 0.7 && q.Quality > 0.6 {
		eff += t.HighConfidenceBonus
	}
	if q.Confidence < 0.4 || q.Quality < 0.4 {
		eff -= t.LowConfidenceRelax
		if eff < base {
			eff = base
		}
	}

	if stats.DiversityRatio > t.DiversityLooseRatio {
		// Well-separated gallery: relax, but only back down to base.
		eff -= t.DiversityAdjust
		if eff < base {
			eff = base
		}
	} else if stats.DiversityRatio > 0 && stats.DiversityRatio < t.DiversityStrictRatio {
		eff += t.DiversityAdjust
	}

	if stats.GallerySize > t.LargeGallery {
		eff += t.GallerySizeAdjust
	} else if stats.GallerySize > 0 && stats.GallerySize < t.SmallGallery {
		eff -= t.GallerySizeAdjust
		if eff < base {
			eff = base
		}
	}

	if eff < base {
		eff = base
	}
	if eff > t.MaxThreshold && t.MaxThreshold > base {
		eff = t.MaxThreshold
	}
	return eff
}
