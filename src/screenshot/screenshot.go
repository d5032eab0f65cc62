// Package screenshot provides the capture backends that produce the raw
// screen image a capture session works on.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"image"

	"screen-capture-stage/src/geometry"
)

var (
	// ErrToolUnavailable means the platform has no interactive capture tool.
	ErrToolUnavailable = errors.New("interactive capture tool unavailable")
	// ErrCaptureCancelled means the user dismissed the capture. It is not a failure.
	ErrCaptureCancelled = errors.New("capture cancelled by user")
	// ErrNoSources means the compositor reported no screen sources.
	ErrNoSources = errors.New("no screen sources available")
)

// CaptureError wraps a backend failure with the backend and operation names.
type CaptureError struct {
	Backend string
	Op      string
	Err     error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s capture: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means the backend cannot run at all, as
// opposed to a transient failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrToolUnavailable) || errors.Is(err, ErrNoSources)
}

// DisplayImage is an encoded, display-ready bitmap plus its natural size.
type DisplayImage struct {
	PNG     []byte
	DataURL string
	Width   int
	Height  int
	// Bitmap keeps the decoded pixels so crops need no re-decode.
	Bitmap image.Image
}

// NaturalSize returns the bitmap's true pixel dimensions.
func (d DisplayImage) NaturalSize() image.Point { return image.Pt(d.Width, d.Height) }

// NewDisplayImage encodes img as PNG and as a data URL.
func NewDisplayImage(img image.Image) (DisplayImage, error) {
	if img == nil {
		return DisplayImage{}, errors.New("nil image")
	}
	data, err := geometry.EncodePNG(img)
	if err != nil {
		return DisplayImage{}, err
	}
	b := img.Bounds()
	return DisplayImage{
		PNG:     data,
		DataURL: EncodeDataURL("image/png", data),
		Width:   b.Dx(),
		Height:  b.Dy(),
		Bitmap:  img,
	}, nil
}

// Source describes one capturable screen.
type Source struct {
	ID        string
	Name      string
	Thumbnail DisplayImage
}

// Capture is what every backend hands to the capture flow.
type Capture struct {
	Source Source
	// Interactive is set when the user already picked the region in an
	// OS tool, so the whole image is the selection.
	Interactive bool
	// ScaleFactor of the display the image was taken from.
	ScaleFactor float64
	// Logical size of that display.
	Logical image.Point
}

// Image returns the captured display-ready image.
func (c Capture) Image() DisplayImage { return c.Source.Thumbnail }

// Backend produces a raw screen image.
type Backend interface {
	Name() string
	Capture(ctx context.Context) (Capture, error)
}

// AllDisplaysCapturer is implemented by backends that can inventory every display.
type AllDisplaysCapturer interface {
	Sources(ctx context.Context) ([]Source, error)
}

// InteractiveCapturer is implemented by backends driving an OS region picker.
type InteractiveCapturer interface {
	TakeInteractive(ctx context.Context) (string, error)
	ReadImage(path string) (DisplayImage, error)
	Cleanup(path string) error
}

// Options configures backend construction.
type Options struct {
	Thumbnail ThumbnailOptions
	// TempDir receives native tool output; os.TempDir() when empty.
	TempDir string
}

// ForPlatform selects the backend for goos once, at startup.
func ForPlatform(goos string, opts Options) Backend {
	if goos == "darwin" {
		return NewNativeInteractive(goos, opts.TempDir)
	}
	return NewCompositor(nil, opts.Thumbnail)
}
