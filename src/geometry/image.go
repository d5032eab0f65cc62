package geometry

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// ErrEmptyCrop is returned when a crop covers no pixels.
var ErrEmptyCrop = errors.New("crop rectangle is empty")

// CropImage cuts c out of src. Coordinates in c are relative to the
// bitmap's own origin, matching ComputeCrop output.
func CropImage(src image.Image, c Crop) (*image.NRGBA, error) {
	if src == nil {
		return nil, errors.New("nil source image")
	}
	if c.Empty() {
		return nil, ErrEmptyCrop
	}
	b := src.Bounds()
	r := c.Rectangle().Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("crop %+v outside image bounds %v: %w", c, b, ErrEmptyCrop)
	}
	return imaging.Crop(src, r), nil
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}
