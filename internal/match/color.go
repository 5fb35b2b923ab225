package match

import "math"

// HSV distance weights. Hue dominates because kit colors are mostly
// distinguished by hue; value is least reliable under stadium lighting.
const (
	hueWeight = 0.6
	satWeight = 0.25
	valWeight = 0.15
)

// ColorSimilarity computes a weighted-HSV similarity in [0,1] between two
// dominant colors given as [h, s, v] with h in degrees and s, v in [0,1].
// Returns 0 when either side is missing or malformed.
func ColorSimilarity(a, b []float64) float64 {
	if len(a) != 3 || len(b) != 3 {
		return 0
	}

	hueDiff := math.Abs(a[0] - b[0])
	hueDiff = math.Mod(hueDiff, 360)
	if hueDiff > 180 {
		hueDiff = 360 - hueDiff
	}
	hueDist := hueDiff / 180

	satDist := math.Abs(a[1] - b[1])
	valDist := math.Abs(a[2] - b[2])

	sim := 1 - (hueWeight*hueDist + satWeight*satDist + valWeight*valDist)
	return math.Max(0, math.Min(1, sim))
}
