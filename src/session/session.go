// Package session holds the state of one capture: the captured source, how it
// is rendered, and the user's selection over it.
package session

import (
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"

	"screen-capture-stage/src/geometry"
	"screen-capture-stage/src/screenshot"
)

var (
	ErrNotRendered = errors.New("session image has not been rendered yet")
	ErrNoSelection = errors.New("selection is too small to act on")
	ErrNoBitmap    = errors.New("session has no decoded bitmap")
)

// Metrics describes how the captured image maps onto the screen and the
// content window.
type Metrics struct {
	Logical     image.Point
	ScaleFactor float64

	// Rendered is the image element box in window coordinates, reported by
	// content once the image has loaded.
	Rendered    geometry.Rect
	Viewport    geometry.Size
	HasRendered bool
}

// CaptureSession is owned by the orchestration loop; it is not safe for
// concurrent use.
type CaptureSession struct {
	ID             string
	Source         screenshot.Capture
	Metrics        Metrics
	Selection      geometry.Rect
	ToolbarVisible bool
	Released       bool
}

// New starts a session over a capture. Interactive captures are already
// cropped by the OS tool, so they start fully selected.
func New(c screenshot.Capture) *CaptureSession {
	s := &CaptureSession{
		ID:     uuid.NewString(),
		Source: c,
		Metrics: Metrics{
			Logical:     c.Logical,
			ScaleFactor: c.ScaleFactor,
		},
	}
	if c.Interactive {
		n := c.Image().NaturalSize()
		s.Selection = geometry.Rect{Width: float64(n.X), Height: float64(n.Y)}
		s.ToolbarVisible = true
		s.Released = true
	}
	return s
}

// Interactive reports whether the session came from the native tool.
func (s *CaptureSession) Interactive() bool { return s.Source.Interactive }

// Natural returns the bitmap's pixel size.
func (s *CaptureSession) Natural() image.Point { return s.Source.Image().NaturalSize() }

// SetRenderedBounds records the image element box. Selections are kept in
// element-local coordinates so the interactive full selection is rescaled.
func (s *CaptureSession) SetRenderedBounds(displayed geometry.Rect, viewport geometry.Size) {
	s.Metrics.Rendered = displayed
	s.Metrics.Viewport = viewport
	s.Metrics.HasRendered = true
	if s.Interactive() {
		s.Selection = geometry.Rect{Width: displayed.Width, Height: displayed.Height}
	}
}

// UpdateDrag tracks an in-progress drag. The toolbar stays hidden while the
// pointer is down.
func (s *CaptureSession) UpdateDrag(start, current geometry.Point) geometry.Rect {
	s.Selection = s.normalize(start, current)
	s.ToolbarVisible = false
	s.Released = false
	return s.Selection
}

// Release finishes a drag. Selections too small to act on are reset and
// false is returned.
func (s *CaptureSession) Release(start, current geometry.Point) (geometry.Rect, bool) {
	sel := s.normalize(start, current)
	if !geometry.IsActionable(sel) {
		s.ResetSelection()
		return s.Selection, false
	}
	s.Selection = sel
	s.ToolbarVisible = true
	s.Released = true
	return sel, true
}

// ResetSelection clears the selection and hides the toolbar.
func (s *CaptureSession) ResetSelection() {
	s.Selection = geometry.Rect{}
	s.ToolbarVisible = false
	s.Released = false
}

func (s *CaptureSession) normalize(start, current geometry.Point) geometry.Rect {
	if s.Metrics.HasRendered {
		size := s.Metrics.Rendered.Size()
		start = geometry.ClampPoint(start, size)
		current = geometry.ClampPoint(current, size)
	}
	return geometry.NormalizeSelection(start, current)
}

// Crop maps the selection into bitmap pixels.
func (s *CaptureSession) Crop() (geometry.Crop, error) {
	natural := s.Natural()
	if s.Interactive() && !s.Metrics.HasRendered {
		return geometry.Crop{Width: natural.X, Height: natural.Y}, nil
	}
	if !s.Metrics.HasRendered {
		return geometry.Crop{}, ErrNotRendered
	}
	if !s.ToolbarVisible || !geometry.IsActionable(s.Selection) {
		return geometry.Crop{}, ErrNoSelection
	}
	c := geometry.ComputeCrop(s.Selection, s.Metrics.Rendered.Size(), natural)
	if c.Empty() {
		return geometry.Crop{}, ErrNoSelection
	}
	return c, nil
}

// CropImage cuts the selected pixels out of the captured bitmap.
func (s *CaptureSession) CropImage() (*image.NRGBA, error) {
	bitmap := s.Source.Image().Bitmap
	if bitmap == nil {
		return nil, ErrNoBitmap
	}
	c, err := s.Crop()
	if err != nil {
		return nil, err
	}
	img, err := geometry.CropImage(bitmap, c)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}
	return img, nil
}

// CropPNG returns the selected pixels PNG-encoded.
func (s *CaptureSession) CropPNG() ([]byte, error) {
	img, err := s.CropImage()
	if err != nil {
		return nil, err
	}
	return geometry.EncodePNG(img)
}
