package extractor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/matchvision/player-gallery/internal/geometry"
)

// CropThumbnail decodes a frame image, cuts out the player bounding box and
// scales the crop to fit within maxSide pixels, keeping aspect ratio. The
// result is JPEG, which is what the embedding service accepts.
func CropThumbnail(frameData []byte, bbox []float64, maxSide int) ([]byte, error) {
	if !geometry.Valid(bbox) {
		return nil, fmt.Errorf("invalid bounding box %v", bbox)
	}
	if maxSide <= 0 {
		maxSide = 256
	}

	img, _, err := image.Decode(bytes.NewReader(frameData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	rect := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3]))
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("bounding box %v lies outside the frame", bbox)
	}

	width := rect.Dx()
	height := rect.Dy()
	var newWidth, newHeight int
	if width <= maxSide && height <= maxSide {
		newWidth, newHeight = width, height
	} else if width > height {
		newWidth = maxSide
		newHeight = int(float64(height) * float64(maxSide) / float64(width))
	} else {
		newHeight = maxSide
		newWidth = int(float64(width) * float64(maxSide) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	crop := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(crop, crop.Bounds(), img, rect, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
