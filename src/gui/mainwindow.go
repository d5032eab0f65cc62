package gui

import (
	"context"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/window"
)

// AppName is shown in window titles and the tray.
const AppName = "Screen Capture Stage"

type mainWindow struct {
	ui      *UI
	native  *nativeWindow
	hotkeys *widget.Label
}

// MainFactory builds the main window. Closing it hides it; the app keeps
// running in the tray.
func (u *UI) MainFactory() window.Factory {
	return func(ctx context.Context) (window.Window, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var v *mainWindow
		u.build(func() { v = newMainWindow(u) })
		u.attach(window.Main, v)
		return v.native, nil
	}
}

func newMainWindow(u *UI) *mainWindow {
	w := u.app.NewWindow(AppName)
	v := &mainWindow{ui: u}

	u.mu.Lock()
	summary := u.hotkeys
	u.mu.Unlock()
	v.hotkeys = widget.NewLabel(summary)

	capture := widget.NewButtonWithIcon("Capture screen", theme.MediaRecordIcon(), func() {
		u.send(window.Main, messages.TriggerCapture{})
	})
	w.SetContent(container.NewVBox(
		widget.NewLabelWithStyle(AppName, fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		v.hotkeys,
		capture,
	))
	w.SetCloseIntercept(func() { u.hide(window.Main) })
	w.Resize(fyne.NewSize(360, 160))
	w.CenterOnScreen()

	v.native = newNativeWindow(u, w, func() { u.detach(window.Main, v) })
	return v
}

func (v *mainWindow) handle(messages.Message) {}

func (v *mainWindow) setHotkeys(summary string) {
	v.hotkeys.SetText(summary)
}
