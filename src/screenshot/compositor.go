package screenshot

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/kbinani/screenshot"

	"screen-capture-stage/src/logutil"
)

// ThumbnailOptions controls the resolution sources are rendered at.
type ThumbnailOptions struct {
	// UsePhysicalResolution renders at logical size x scale factor.
	UsePhysicalResolution bool
	// MaxDimension clamps the larger side when > 0.
	MaxDimension int
}

// DefaultThumbnailOptions renders at physical resolution with no clamp.
func DefaultThumbnailOptions() ThumbnailOptions {
	return ThumbnailOptions{UsePhysicalResolution: true}
}

// ThumbnailSize computes the thumbnail resolution for a display of the given
// logical size and scale factor.
func ThumbnailSize(logical image.Point, scale float64, opts ThumbnailOptions) image.Point {
	if scale <= 0 {
		scale = 1
	}
	w, h := float64(logical.X), float64(logical.Y)
	if opts.UsePhysicalResolution {
		w *= scale
		h *= scale
	}
	w, h = math.Round(w), math.Round(h)

	if limit := float64(opts.MaxDimension); limit > 0 {
		if larger := math.Max(w, h); larger > limit {
			ratio := limit / larger
			w = math.Round(w * ratio)
			h = math.Round(h * ratio)
		}
	}
	return image.Pt(int(math.Max(w, 1)), int(math.Max(h, 1)))
}

// Display is one active monitor as seen by a Grabber.
type Display struct {
	Index int
	// Bounds in device pixels, the rectangle Grab reads.
	Bounds      image.Rectangle
	ScaleFactor float64
}

// Logical is the display size in logical pixels.
func (d Display) Logical() image.Point {
	scale := d.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	size := d.Bounds.Size()
	return image.Pt(
		int(math.Max(math.Round(float64(size.X)/scale), 1)),
		int(math.Max(math.Round(float64(size.Y)/scale), 1)),
	)
}

// Grabber reads pixels from the compositor.
type Grabber interface {
	Displays() ([]Display, error)
	Grab(d Display) (image.Image, error)
}

// kbinaniGrabber reads displays through kbinani/screenshot. With per-monitor
// DPI awareness enabled the bounds it returns are device pixels; scale
// reports each monitor's factor.
type kbinaniGrabber struct {
	scale func(bounds image.Rectangle) float64
}

func (g kbinaniGrabber) Displays() ([]Display, error) {
	n := screenshot.NumActiveDisplays()
	displays := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		displays = append(displays, Display{
			Index:       i,
			Bounds:      bounds,
			ScaleFactor: g.scale(bounds),
		})
	}
	return displays, nil
}

func (g kbinaniGrabber) Grab(d Display) (image.Image, error) {
	img, err := screenshot.CaptureRect(d.Bounds)
	if err != nil {
		return nil, fmt.Errorf("unable to screenshot bounds %v: %w", d.Bounds, err)
	}
	return img, nil
}

var fallbackScale atomic.Uint64

func init() { SetFallbackScale(1) }

// SetFallbackScale sets the scale factor reported for monitors the OS cannot
// be asked about. The UI sets it from its canvas scale.
func SetFallbackScale(scale float64) {
	if scale <= 0 {
		scale = 1
	}
	fallbackScale.Store(math.Float64bits(scale))
}

// FallbackScale returns the value set by SetFallbackScale.
func FallbackScale() float64 {
	return math.Float64frombits(fallbackScale.Load())
}

// CompositorCapture enumerates screens through the compositor.
type CompositorCapture struct {
	grabber Grabber
	opts    ThumbnailOptions
}

// NewCompositor builds a compositor backend. A nil grabber uses kbinani/screenshot.
func NewCompositor(g Grabber, opts ThumbnailOptions) *CompositorCapture {
	if g == nil {
		g = kbinaniGrabber{scale: displayScale}
	}
	return &CompositorCapture{grabber: g, opts: opts}
}

func (c *CompositorCapture) Name() string { return "compositor" }

// Sources renders every active screen at thumbnail resolution.
func (c *CompositorCapture) Sources(ctx context.Context) ([]Source, error) {
	sources, _, err := c.sources(ctx, false)
	return sources, err
}

// Capture returns the first screen source.
func (c *CompositorCapture) Capture(ctx context.Context) (Capture, error) {
	sources, displays, err := c.sources(ctx, true)
	if err != nil {
		return Capture{}, err
	}
	d := displays[0]
	return Capture{
		Source:      sources[0],
		ScaleFactor: d.ScaleFactor,
		Logical:     d.Logical(),
	}, nil
}

func (c *CompositorCapture) sources(ctx context.Context, firstOnly bool) ([]Source, []Display, error) {
	log := logutil.WithComponent("compositor")

	displays, err := c.grabber.Displays()
	if err != nil {
		return nil, nil, &CaptureError{Backend: c.Name(), Op: "enumerate", Err: err}
	}
	if len(displays) == 0 {
		return nil, nil, &CaptureError{Backend: c.Name(), Op: "enumerate", Err: ErrNoSources}
	}
	if firstOnly {
		displays = displays[:1]
	}

	sources := make([]Source, 0, len(displays))
	for _, d := range displays {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		raw, err := c.grabber.Grab(d)
		if err != nil {
			return nil, nil, &CaptureError{Backend: c.Name(), Op: "grab", Err: err}
		}
		target := ThumbnailSize(d.Logical(), d.ScaleFactor, c.opts)
		var thumb image.Image = raw
		if raw.Bounds().Size() != target {
			thumb = imaging.Resize(raw, target.X, target.Y, imaging.Lanczos)
		}
		img, err := NewDisplayImage(thumb)
		if err != nil {
			return nil, nil, &CaptureError{Backend: c.Name(), Op: "encode", Err: err}
		}
		log.Debug().
			Int("display", d.Index).
			Int("width", img.Width).
			Int("height", img.Height).
			Float64("scale", d.ScaleFactor).
			Msg("screen source rendered")
		sources = append(sources, Source{
			ID:        fmt.Sprintf("screen:%d:0", d.Index),
			Name:      fmt.Sprintf("Screen %d", d.Index+1),
			Thumbnail: img,
		})
	}
	return sources, displays, nil
}
