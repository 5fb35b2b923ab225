package match

import (
	"github.com/matchvision/player-gallery/internal/gallery"
	"github.com/matchvision/player-gallery/internal/vecmath"
)

// Ensemble weights per region pair. The general embedding only participates
// when fewer than two dedicated region similarities were computable, and at
// a reduced weight when standing in for a missing foot embedding.
const (
	weightBody         = 0.35
	weightJersey       = 0.30
	weightFoot         = 0.30
	weightFootFallback = 0.20
	weightGeneral      = 0.15
	ensembleAvgShare   = 0.7
	ensembleMaxShare   = 0.3
)

// ensembleSimilarity scores a query against one profile across every region
// pair present on both sides. Weights of the regions actually used are
// renormalized to sum to 1; the final score mixes the weighted average with
// the best single region.
func ensembleSimilarity(q *Query, p *gallery.Profile) float64 {
	var sims []float64
	var weights []float64

	add := func(sim, weight float64) {
		sims = append(sims, sim)
		weights = append(weights, weight)
	}

	if qv := q.Region(gallery.RegionBody); len(qv) > 0 {
		if pv := p.Region(gallery.RegionBody); len(pv) > 0 {
			add(vecmath.CosineSimilarity(qv, pv), weightBody)
		}
	}
	if qv := q.Region(gallery.RegionJersey); len(qv) > 0 {
		if pv := p.Region(gallery.RegionJersey); len(pv) > 0 {
			add(vecmath.CosineSimilarity(qv, pv), weightJersey)
		}
	}
	if pv := p.Region(gallery.RegionFoot); len(pv) > 0 {
		if qv := q.Region(gallery.RegionFoot); len(qv) > 0 {
			add(vecmath.CosineSimilarity(qv, pv), weightFoot)
		} else if qg := q.Region(gallery.RegionGeneral); len(qg) > 0 {
			// General embedding stands in for the missing foot crop.
			add(vecmath.CosineSimilarity(qg, pv), weightFootFallback)
		}
	}

	regionCount := len(sims)
	if regionCount < 2 {
		if qv := q.Region(gallery.RegionGeneral); len(qv) > 0 {
			if pv := p.Region(gallery.RegionGeneral); len(pv) > 0 {
				add(vecmath.CosineSimilarity(qv, pv), weightGeneral)
			}
		}
	}

	if len(sims) == 0 {
		return 0
	}

	var totalWeight, weighted, best float64
	for i, sim := range sims {
		totalWeight += weights[i]
		weighted += weights[i] * sim
		if i == 0 || sim > best {
			best = sim
		}
	}
	avg := weighted / totalWeight

	return ensembleAvgShare*avg + ensembleMaxShare*best
}
