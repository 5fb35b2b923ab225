// Package vecmath provides the small amount of vector arithmetic the gallery
// needs: cosine similarity, L2 normalization and embedding sanity checks.
package vecmath

import "math"

// normEpsilon guards divisions by (near) zero norms.
const normEpsilon = 1e-12

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths, empty or zero-norm inputs so that an
// invalid comparison can never look like a match.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA < normEpsilon || normB < normEpsilon {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// Normalize returns a copy of v scaled to unit L2 norm. A zero-norm input is
// returned unchanged rather than divided by zero.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < normEpsilon {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Valid reports whether v is usable as an embedding: non-empty, free of
// NaN/Inf components and with a norm in a sane range. This is the inline
// fallback for callers that do not wire an external quality pre-filter.
func Valid(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		sum += f * f
	}
	norm := math.Sqrt(sum)
	return norm > normEpsilon && norm < 1e6
}

// Blend averages two vectors with the given weights and renormalizes the
// result to unit norm. Used by profile merging (50/50) and aggregation.
func Blend(a []float32, wa float64, b []float32, wb float64) []float32 {
	if len(a) != len(b) {
		if len(a) == 0 {
			return Normalize(b)
		}
		return Normalize(a)
	}
	total := wa + wb
	if total < normEpsilon {
		// Degenerate weights, fall back to a plain average.
		wa, wb, total = 0.5, 0.5, 1.0
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = float32((wa*float64(a[i]) + wb*float64(b[i])) / total)
	}
	return Normalize(out)
}
