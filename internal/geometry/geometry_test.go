package geometry

import (
	"math"
	"testing"
)

func TestComputeIoU_PerfectOverlap(t *testing.T) {
	bbox := []float64{0, 0, 100, 100}
	iou := ComputeIoU(bbox, bbox)
	if math.Abs(iou-1.0) > 1e-9 {
		t.Errorf("expected IoU 1.0 for identical boxes, got %f", iou)
	}
}

func TestComputeIoU_NoOverlap(t *testing.T) {
	bbox1 := []float64{0, 0, 10, 10}
	bbox2 := []float64{20, 20, 30, 30}
	if iou := ComputeIoU(bbox1, bbox2); iou != 0 {
		t.Errorf("expected IoU 0 for disjoint boxes, got %f", iou)
	}
}

func TestComputeIoU_PartialOverlap(t *testing.T) {
	bbox1 := []float64{0, 0, 10, 10}
	bbox2 := []float64{5, 5, 15, 15}
	// Intersection 25, union 175.
	expected := 25.0 / 175.0
	if iou := ComputeIoU(bbox1, bbox2); math.Abs(iou-expected) > 1e-9 {
		t.Errorf("expected IoU %f, got %f", expected, iou)
	}
}

func TestComputeIoU_Malformed(t *testing.T) {
	if iou := ComputeIoU([]float64{1, 2}, []float64{0, 0, 1, 1}); iou != 0 {
		t.Errorf("expected IoU 0 for malformed box, got %f", iou)
	}
}

func TestAreaAndAspect(t *testing.T) {
	bbox := []float64{10, 20, 60, 120}
	if a := Area(bbox); a != 5000 {
		t.Errorf("expected area 5000, got %f", a)
	}
	if r := AspectRatio(bbox); math.Abs(r-2.0) > 1e-9 {
		t.Errorf("expected aspect ratio 2.0, got %f", r)
	}
}

func TestValid(t *testing.T) {
	if Valid([]float64{0, 0, 0, 10}) {
		t.Error("zero-width box should be invalid")
	}
	if !Valid([]float64{0, 0, 1, 1}) {
		t.Error("unit box should be valid")
	}
	if Valid(nil) {
		t.Error("nil box should be invalid")
	}
}

func TestPositionBucket(t *testing.T) {
	cases := []struct {
		x, y     float64
		grid     int
		expected string
	}{
		{0.05, 0.05, 10, "0x0"},
		{0.95, 0.95, 10, "9x9"},
		{0.5, 0.25, 10, "5x2"},
		{1.0, 1.0, 10, "9x9"},  // Edge clamps into the last cell
		{-0.1, 0.5, 10, "0x5"}, // Out of range clamps
		{0.5, 0.5, 0, "5x5"},   // Zero grid falls back to 10x10
	}
	for _, tc := range cases {
		if got := PositionBucket(tc.x, tc.y, tc.grid); got != tc.expected {
			t.Errorf("PositionBucket(%f, %f, %d) = %q, want %q", tc.x, tc.y, tc.grid, got, tc.expected)
		}
	}
}
