package gui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
)

var (
	_ fyne.Draggable    = (*selectionArea)(nil)
	_ desktop.Mouseable = (*selectionArea)(nil)
)

// selectionArea turns primary-button drags into start/current pairs. A
// press without movement is reported as a zero-size release.
type selectionArea struct {
	widget.BaseWidget

	onChange func(start, current fyne.Position, released bool)

	pressed bool
	start   fyne.Position
	current fyne.Position
}

func newSelectionArea(onChange func(start, current fyne.Position, released bool)) *selectionArea {
	a := &selectionArea{onChange: onChange}
	a.ExtendBaseWidget(a)
	return a
}

func (a *selectionArea) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(canvas.NewRectangle(color.Transparent))
}

func (a *selectionArea) MouseDown(ev *desktop.MouseEvent) {
	if ev.Button != desktop.MouseButtonPrimary {
		return
	}
	a.pressed = true
	a.start = ev.Position
	a.current = ev.Position
}

func (a *selectionArea) MouseUp(ev *desktop.MouseEvent) {
	if !a.pressed {
		return
	}
	a.current = ev.Position
	a.release()
}

func (a *selectionArea) Dragged(ev *fyne.DragEvent) {
	if !a.pressed {
		a.pressed = true
		a.start = ev.Position.Subtract(ev.Dragged)
	}
	a.current = ev.Position
	a.onChange(a.start, a.current, false)
}

func (a *selectionArea) DragEnd() {
	if a.pressed {
		a.release()
	}
}

func (a *selectionArea) release() {
	a.pressed = false
	a.onChange(a.start, a.current, true)
}

// reportingLayout stacks every object over the full size and reports each
// layout pass, flagging the ones that changed the size.
type reportingLayout struct {
	onLayout func(size fyne.Size, resized bool)
	last     fyne.Size
}

func (l *reportingLayout) Layout(objects []fyne.CanvasObject, size fyne.Size) {
	for _, o := range objects {
		o.Move(fyne.NewPos(0, 0))
		o.Resize(size)
	}
	resized := size != l.last
	l.last = size
	if l.onLayout != nil {
		l.onLayout(size, resized)
	}
}

func (l *reportingLayout) MinSize([]fyne.CanvasObject) fyne.Size {
	return fyne.NewSize(1, 1)
}
