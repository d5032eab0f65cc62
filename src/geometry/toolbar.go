package geometry

// ToolbarMargin separates the toolbar from the edge it is anchored to.
const ToolbarMargin = 8

// ToolbarAnchor places a toolbar of the given size under the bottom-right
// corner of sel. When there is no room below, it flips above the selection,
// and when there is no room above either it sits inside the selection's
// bottom edge. The result is clamped into the viewport.
func ToolbarAnchor(sel Rect, toolbar, viewport Size) Point {
	x := sel.Right() - toolbar.Width
	y := sel.Bottom() + ToolbarMargin
	if y+toolbar.Height > viewport.Height {
		y = sel.Y - toolbar.Height - ToolbarMargin
		if y < 0 {
			y = sel.Bottom() - toolbar.Height - ToolbarMargin
		}
	}
	return clampIntoViewport(Point{X: x, Y: y}, toolbar, viewport)
}

// PreviewToolbarAnchor centers a toolbar under a whole-image preview.
func PreviewToolbarAnchor(image Rect, toolbar, viewport Size) Point {
	x := image.X + (image.Width-toolbar.Width)/2
	y := image.Bottom() + ToolbarMargin
	if y+toolbar.Height > viewport.Height {
		y = image.Bottom() - toolbar.Height - ToolbarMargin
	}
	return clampIntoViewport(Point{X: x, Y: y}, toolbar, viewport)
}

func clampIntoViewport(p Point, item, viewport Size) Point {
	maxX := viewport.Width - item.Width
	maxY := viewport.Height - item.Height
	if maxX < 0 {
		maxX = 0
	}
	if maxY < 0 {
		maxY = 0
	}
	return Point{X: clampFloat(p.X, 0, maxX), Y: clampFloat(p.Y, 0, maxY)}
}
