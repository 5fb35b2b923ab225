package match

import (
	"math"
	"testing"
)

func TestColorSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float64
		b        []float64
		expected float64
	}{
		{
			name:     "identical colors",
			a:        []float64{120, 0.8, 0.6},
			b:        []float64{120, 0.8, 0.6},
			expected: 1,
		},
		{
			name:     "hue wraps around the circle",
			a:        []float64{350, 0.5, 0.5},
			b:        []float64{10, 0.5, 0.5},
			expected: 1 - 0.6*(20.0/180),
		},
		{
			name:     "opposite hues",
			a:        []float64{0, 0.5, 0.5},
			b:        []float64{180, 0.5, 0.5},
			expected: 1 - 0.6,
		},
		{
			name:     "saturation and value differences",
			a:        []float64{100, 1, 1},
			b:        []float64{100, 0, 0},
			expected: 1 - 0.25 - 0.15,
		},
		{
			name:     "missing side",
			a:        nil,
			b:        []float64{100, 0.5, 0.5},
			expected: 0,
		},
		{
			name:     "malformed color",
			a:        []float64{100, 0.5},
			b:        []float64{100, 0.5, 0.5},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ColorSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("ColorSimilarity = %v, want %v", got, tt.expected)
			}
			if rev := ColorSimilarity(tt.b, tt.a); math.Abs(rev-got) > 0.0001 {
				t.Errorf("ColorSimilarity not symmetric: %v vs %v", got, rev)
			}
		})
	}
}
