package gui

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"fyne.io/fyne/v2"

	"screen-capture-stage/src/geometry"
	"screen-capture-stage/src/screenshot"
)

// decodeThumbnail turns a data URL from ScreenshotData or StickerData back
// into pixels.
func decodeThumbnail(dataURL string) (image.Image, error) {
	data, mimeType, err := screenshot.DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s thumbnail: %w", mimeType, err)
	}
	return img, nil
}

func toPos(p geometry.Point) fyne.Position {
	return fyne.NewPos(float32(p.X), float32(p.Y))
}

func toSize(s geometry.Size) fyne.Size {
	return fyne.NewSize(float32(s.Width), float32(s.Height))
}

func fromPos(p fyne.Position) geometry.Point {
	return geometry.Point{X: float64(p.X), Y: float64(p.Y)}
}

func fromSize(s fyne.Size) geometry.Size {
	return geometry.Size{Width: float64(s.Width), Height: float64(s.Height)}
}

// fitWithin scales natural down, never up, to fit inside limit.
func fitWithin(natural image.Point, limit geometry.Size) geometry.Size {
	n := geometry.Size{Width: float64(natural.X), Height: float64(natural.Y)}
	if n.Width <= limit.Width && n.Height <= limit.Height {
		return n
	}
	return geometry.FitContain(natural, limit).Size()
}
