package gui

import (
	"context"
	"image"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"screen-capture-stage/src/geometry"
	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/screenshot"
	"screen-capture-stage/src/window"
)

var (
	selectionFill   = color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0x30}
	selectionStroke = color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
	stageBackdrop   = color.NRGBA{A: 0xff}
)

// previewLimit caps the preview popup's image area.
var previewLimit = geometry.Size{Width: 800, Height: 560}

// captureView is the content of the screenshot stage and of the preview
// popup. The stage lets the user drag a selection; the preview shows an
// already cropped image with the toolbar centered under it.
type captureView struct {
	ui          *UI
	role        window.Role
	interactive bool
	win         fyne.Window
	native      *nativeWindow

	image   *canvas.Image
	frame   *canvas.Rectangle
	toolbar *fyne.Container
	buttons []*widget.Button
	status  *widget.Label

	// Acks owed to the loop, flushed after the next laid-out pass.
	pendingReady  bool
	pendingRender bool

	sessionID      string
	natural        image.Point
	viewport       fyne.Size
	displayed      geometry.Rect
	selection      geometry.Rect
	toolbarVisible bool
}

// StageFactory builds the full-screen selection stage.
func (u *UI) StageFactory() window.Factory {
	return u.captureFactory(window.ScreenshotStage, false)
}

// PreviewFactory builds the popup for natively cropped captures.
func (u *UI) PreviewFactory() window.Factory {
	return u.captureFactory(window.PreviewPopup, true)
}

func (u *UI) captureFactory(role window.Role, interactive bool) window.Factory {
	return func(ctx context.Context) (window.Window, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var v *captureView
		u.build(func() { v = newCaptureView(u, role, interactive) })
		u.attach(role, v)
		return v.native, nil
	}
}

func newCaptureView(u *UI, role window.Role, interactive bool) *captureView {
	title := "Screenshot"
	if interactive {
		title = "Screenshot preview"
	}
	w := u.app.NewWindow(title)
	v := &captureView{ui: u, role: role, interactive: interactive, win: w}
	v.pendingReady = role == window.ScreenshotStage

	v.image = canvas.NewImageFromImage(nil)
	v.image.FillMode = canvas.ImageFillStretch
	v.image.Hide()

	v.frame = canvas.NewRectangle(selectionFill)
	v.frame.StrokeColor = selectionStroke
	v.frame.StrokeWidth = 2
	v.frame.Hide()

	v.toolbar = container.NewHBox(
		v.actionButton("Confirm", theme.ConfirmIcon(), messages.ActionConfirm),
		v.actionButton("Copy", theme.ContentCopyIcon(), messages.ActionCopy),
		v.actionButton("Pin", theme.ViewRestoreIcon(), messages.ActionPin),
		v.actionButton("Cancel", theme.CancelIcon(), messages.ActionCancel),
	)
	v.toolbar.Hide()

	v.status = widget.NewLabel("")
	v.status.Wrapping = fyne.TextWrapWord
	v.status.Hide()

	layers := []fyne.CanvasObject{canvas.NewRectangle(stageBackdrop)}
	if !interactive {
		layers = append(layers, newSelectionArea(v.onDrag))
	}
	layers = append(layers, container.NewWithoutLayout(v.image, v.frame, v.toolbar, v.status))

	w.SetContent(container.New(&reportingLayout{onLayout: v.onLayout}, layers...))
	w.SetPadded(false)
	w.Canvas().SetOnTypedKey(v.onKey)
	w.SetCloseIntercept(func() {
		v.ui.send(v.role, messages.CancelCapture{SessionID: v.sessionID})
	})
	if interactive {
		w.Resize(fyne.NewSize(640, 480))
		w.CenterOnScreen()
	} else {
		w.SetFullScreen(true)
	}

	v.native = newNativeWindow(u, w, func() { u.detach(role, v) })
	return v
}

func (v *captureView) actionButton(label string, icon fyne.Resource, action messages.Action) *widget.Button {
	b := widget.NewButtonWithIcon(label, icon, func() {
		if v.sessionID == "" {
			return
		}
		if action != messages.ActionCancel {
			v.setBusy(true)
		}
		v.ui.send(v.role, messages.ToolbarAction{SessionID: v.sessionID, Action: action})
	})
	v.buttons = append(v.buttons, b)
	return b
}

func (v *captureView) handle(msg messages.Message) {
	switch m := msg.(type) {
	case messages.ScreenshotData:
		v.onData(m)
	case messages.SelectionUpdate:
		if m.SessionID != v.sessionID {
			return
		}
		v.selection = m.Selection
		v.toolbarVisible = m.ToolbarVisible
		v.placeSelection()
	case messages.ActionStatus:
		if m.SessionID != v.sessionID {
			return
		}
		v.setBusy(false)
		if m.Response.Success {
			v.hideStatus()
		} else {
			v.showStatus(m.Response.Error)
		}
	case messages.StageError:
		v.showStatus(m.Message)
	case messages.ScreenshotWindowHide:
		v.reset()
	}
}

func (v *captureView) onData(m messages.ScreenshotData) {
	img, err := decodeThumbnail(m.Thumbnail)
	if err != nil {
		// No image-ready ack follows; the loop times out and reports it.
		v.ui.log.Error().Err(err).Str("session", m.SessionID).Msg("decode screenshot")
		return
	}
	v.reset()
	v.sessionID = m.SessionID
	v.natural = image.Pt(m.Width, m.Height)
	v.image.Image = img
	v.image.Show()
	v.image.Refresh()

	if v.interactive {
		area := fitWithin(v.natural, previewLimit)
		tb := v.toolbar.MinSize()
		v.win.Resize(fyne.NewSize(float32(area.Width), float32(area.Height)+tb.Height+2*geometry.ToolbarMargin))
	}
	if size := v.win.Content().Size(); !size.IsZero() {
		v.viewport = size
	} else if v.viewport.IsZero() {
		// Not laid out yet; the real size is reported again once shown.
		v.viewport = fyne.NewSize(float32(m.Width), float32(m.Height))
	}
	v.layoutContent()
	v.pendingRender = true
	// Re-runs the layout, which queues the image-ready ack.
	v.win.Content().Refresh()
}

// onLayout runs on the fyne thread for every layout pass of the content.
// Acks are queued behind the pass so they follow the frame it produces.
func (v *captureView) onLayout(size fyne.Size, resized bool) {
	if size.IsZero() {
		return
	}
	if resized {
		if v.role == window.ScreenshotStage {
			screenshot.SetFallbackScale(float64(v.win.Canvas().Scale()))
		}
		v.viewport = size
		v.layoutContent()
		if v.sessionID != "" {
			v.pendingRender = true
		}
	}
	if v.pendingReady || v.pendingRender {
		v.ui.do(v.flushAcks)
	}
}

func (v *captureView) flushAcks() {
	if v.pendingReady {
		v.pendingReady = false
		v.ui.send(v.role, messages.StageReady{})
	}
	if v.pendingRender {
		v.pendingRender = false
		v.reportRendered()
	}
}

func (v *captureView) layoutContent() {
	if v.natural.X == 0 || v.natural.Y == 0 {
		return
	}
	box := fromSize(v.viewport)
	if v.interactive {
		box.Height -= float64(v.toolbar.MinSize().Height) + 2*geometry.ToolbarMargin
	}
	v.displayed = geometry.FitContain(v.natural, box)
	v.image.Move(toPos(geometry.Point{X: v.displayed.X, Y: v.displayed.Y}))
	v.image.Resize(toSize(v.displayed.Size()))
	v.placeSelection()
}

func (v *captureView) reportRendered() {
	if v.sessionID == "" || v.displayed.Width <= 0 || v.displayed.Height <= 0 {
		return
	}
	v.ui.send(v.role, messages.ScreenshotImageReady{
		SessionID: v.sessionID,
		Displayed: v.displayed,
		Viewport:  fromSize(v.viewport),
	})
}

func (v *captureView) onDrag(start, current fyne.Position, released bool) {
	if v.sessionID == "" || v.displayed.Width <= 0 {
		return
	}
	s, c := v.local(start), v.local(current)
	bounds := v.displayed.Size()
	v.selection = geometry.NormalizeSelection(geometry.ClampPoint(s, bounds), geometry.ClampPoint(c, bounds))
	v.toolbarVisible = false
	v.placeSelection()
	v.ui.send(v.role, messages.SelectionChanged{SessionID: v.sessionID, Start: s, Current: c, Released: released})
}

func (v *captureView) placeSelection() {
	abs := v.absolute(v.selection)
	if v.interactive || v.selection.Width <= 0 || v.selection.Height <= 0 {
		v.frame.Hide()
	} else {
		v.frame.Move(toPos(geometry.Point{X: abs.X, Y: abs.Y}))
		v.frame.Resize(toSize(abs.Size()))
		v.frame.Show()
	}

	if !v.toolbarVisible {
		v.toolbar.Hide()
		return
	}
	tb := v.toolbar.MinSize()
	p := toolbarPosition(v.interactive, v.displayed, abs, fromSize(tb), fromSize(v.viewport))
	v.toolbar.Resize(tb)
	v.toolbar.Move(toPos(p))
	v.toolbar.Show()
}

// toolbarPosition returns the toolbar's top-left corner in window
// coordinates. selection is in window coordinates too.
func toolbarPosition(interactive bool, displayed, selection geometry.Rect, toolbar, viewport geometry.Size) geometry.Point {
	if interactive {
		return geometry.PreviewToolbarAnchor(displayed, toolbar, viewport)
	}
	return geometry.ToolbarAnchor(selection, toolbar, viewport)
}

func (v *captureView) local(p fyne.Position) geometry.Point {
	g := fromPos(p)
	return geometry.Point{X: g.X - v.displayed.X, Y: g.Y - v.displayed.Y}
}

func (v *captureView) absolute(r geometry.Rect) geometry.Rect {
	r.X += v.displayed.X
	r.Y += v.displayed.Y
	return r
}

func (v *captureView) onKey(ev *fyne.KeyEvent) {
	if ev.Name == fyne.KeyEscape {
		v.ui.send(v.role, messages.CancelCapture{SessionID: v.sessionID})
	}
}

func (v *captureView) setBusy(busy bool) {
	for _, b := range v.buttons {
		if busy {
			b.Disable()
		} else {
			b.Enable()
		}
	}
}

func (v *captureView) showStatus(text string) {
	v.status.SetText(text)
	size := v.status.MinSize()
	if limit := v.viewport.Width - 2*geometry.ToolbarMargin; limit > 0 && size.Width > limit {
		size.Width = limit
	}
	v.status.Resize(size)
	v.status.Move(fyne.NewPos(geometry.ToolbarMargin, geometry.ToolbarMargin))
	v.status.Show()
}

func (v *captureView) hideStatus() {
	v.status.Hide()
}

// reset drops all per-session state so a reused stage never shows stale
// pixels or an old selection.
func (v *captureView) reset() {
	v.sessionID = ""
	v.pendingRender = false
	v.selection = geometry.Rect{}
	v.toolbarVisible = false
	v.image.Image = nil
	v.image.Hide()
	v.image.Refresh()
	v.frame.Hide()
	v.toolbar.Hide()
	v.hideStatus()
	v.setBusy(false)
}
