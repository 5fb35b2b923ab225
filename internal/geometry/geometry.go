// Package geometry provides bounding-box helpers shared by the pool scoring,
// the tracker intake and the auxiliary index. Boxes are [x1, y1, x2, y2].
package geometry

import "fmt"

// Valid reports whether bbox is a well-formed, positive-area box.
func Valid(bbox []float64) bool {
	return len(bbox) == 4 && bbox[2] > bbox[0] && bbox[3] > bbox[1]
}

// Width returns the box width, 0 for malformed boxes.
func Width(bbox []float64) float64 {
	if !Valid(bbox) {
		return 0
	}
	return bbox[2] - bbox[0]
}

// Height returns the box height, 0 for malformed boxes.
func Height(bbox []float64) float64 {
	if !Valid(bbox) {
		return 0
	}
	return bbox[3] - bbox[1]
}

// Area returns the box area in square pixels, 0 for malformed boxes.
func Area(bbox []float64) float64 {
	return Width(bbox) * Height(bbox)
}

// AspectRatio returns height/width, 0 for malformed boxes.
func AspectRatio(bbox []float64) float64 {
	w := Width(bbox)
	if w <= 0 {
		return 0
	}
	return Height(bbox) / w
}

// ComputeIoU calculates Intersection over Union between two bounding boxes
// in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Center returns the box center, (0, 0) for malformed boxes.
func Center(bbox []float64) (float64, float64) {
	if !Valid(bbox) {
		return 0, 0
	}
	return (bbox[0] + bbox[2]) / 2, (bbox[1] + bbox[3]) / 2
}

// PositionBucket maps a normalized field position in [0,1]x[0,1] onto a
// grid cell label like "3x7". Out-of-range coordinates clamp into the grid
// so a detection at the touchline still gets a stable bucket.
func PositionBucket(x, y float64, grid int) string {
	if grid <= 0 {
		grid = 10
	}
	col := int(x * float64(grid))
	row := int(y * float64(grid))
	if col < 0 {
		col = 0
	}
	if col >= grid {
		col = grid - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= grid {
		row = grid - 1
	}
	return fmt.Sprintf("%dx%d", col, row)
}
