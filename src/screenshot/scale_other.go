//go:build !windows

package screenshot

import "image"

func displayScale(image.Rectangle) float64 { return FallbackScale() }
