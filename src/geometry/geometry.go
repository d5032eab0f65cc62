// Package geometry maps on-screen selections to source-image pixel bounds.
// Everything here is pure; callers own all state.
package geometry

import (
	"image"
	"math"
)

// MinSelectionSpan is the smallest width and height, in display pixels, of an
// actionable selection. Anything smaller is treated as an accidental click.
const MinSelectionSpan = 10

// Point is a position in display (CSS/device-independent) pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair in display pixel space.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle in display pixel space.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Size returns the rectangle's dimensions.
func (r Rect) Size() Size { return Size{Width: r.Width, Height: r.Height} }

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// Crop is a rectangle in source-image pixel space.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rectangle converts the crop into an image.Rectangle.
func (c Crop) Rectangle() image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
}

// Empty reports whether the crop covers no pixels.
func (c Crop) Empty() bool { return c.Width <= 0 || c.Height <= 0 }

// ClampPoint confines p to [0, size.Width] x [0, size.Height].
func ClampPoint(p Point, size Size) Point {
	return Point{
		X: clampFloat(p.X, 0, math.Max(size.Width, 0)),
		Y: clampFloat(p.Y, 0, math.Max(size.Height, 0)),
	}
}

// NormalizeSelection builds the rectangle spanned by a drag. The origin is the
// lesser coordinate per axis and the size the absolute difference, so dragging
// in any direction yields the same rectangle.
func NormalizeSelection(start, current Point) Rect {
	return Rect{
		X:      math.Min(start.X, current.X),
		Y:      math.Min(start.Y, current.Y),
		Width:  math.Abs(current.X - start.X),
		Height: math.Abs(current.Y - start.Y),
	}
}

// IsActionable reports whether sel is large enough to open the toolbar.
func IsActionable(sel Rect) bool {
	return sel.Width >= MinSelectionSpan && sel.Height >= MinSelectionSpan
}

// ComputeCrop converts sel, expressed in the coordinate space of an image
// element rendered at displayed size, into source pixels of a bitmap with the
// given natural size. The result always lies inside the bitmap. Non-positive
// sizes yield an empty crop.
func ComputeCrop(sel Rect, displayed Size, natural image.Point) Crop {
	if displayed.Width <= 0 || displayed.Height <= 0 || natural.X <= 0 || natural.Y <= 0 {
		return Crop{}
	}
	scaleX := float64(natural.X) / displayed.Width
	scaleY := float64(natural.Y) / displayed.Height

	cropX := int(math.Round(sel.X * scaleX))
	cropY := int(math.Round(sel.Y * scaleY))
	cropW := int(math.Round(sel.Width * scaleX))
	cropH := int(math.Round(sel.Height * scaleY))

	finalX := clampInt(cropX, 0, natural.X-1)
	finalY := clampInt(cropY, 0, natural.Y-1)
	finalW := minInt(cropW, natural.X-finalX)
	finalH := minInt(cropH, natural.Y-finalY)
	if finalW < 0 {
		finalW = 0
	}
	if finalH < 0 {
		finalH = 0
	}
	return Crop{X: finalX, Y: finalY, Width: finalW, Height: finalH}
}

// FitContain returns the box an image of natural size occupies when scaled to
// fit inside box while keeping its aspect ratio, centered on both axes.
func FitContain(natural image.Point, box Size) Rect {
	if natural.X <= 0 || natural.Y <= 0 || box.Width <= 0 || box.Height <= 0 {
		return Rect{}
	}
	scale := math.Min(box.Width/float64(natural.X), box.Height/float64(natural.Y))
	w := float64(natural.X) * scale
	h := float64(natural.Y) * scale
	return Rect{
		X:      (box.Width - w) / 2,
		Y:      (box.Height - h) / 2,
		Width:  w,
		Height: h,
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
