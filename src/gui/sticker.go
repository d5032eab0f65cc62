package gui

import (
	"context"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"

	"screen-capture-stage/src/geometry"
	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/window"
)

// stickerLimit caps a pinned crop's window size.
var stickerLimit = geometry.Size{Width: 600, Height: 600}

// stickerView pins a crop on screen.
type stickerView struct {
	ui     *UI
	win    fyne.Window
	native *nativeWindow
	image  *canvas.Image
}

// StickerFactory builds the sticker overlay.
func (u *UI) StickerFactory() window.Factory {
	return func(ctx context.Context) (window.Window, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var v *stickerView
		u.build(func() { v = newStickerView(u) })
		u.attach(window.StickerOverlay, v)
		return v.native, nil
	}
}

func newStickerView(u *UI) *stickerView {
	w := u.app.NewWindow("Sticker")
	v := &stickerView{ui: u, win: w}
	v.image = canvas.NewImageFromImage(nil)
	v.image.FillMode = canvas.ImageFillContain
	w.SetContent(container.NewStack(v.image))
	w.SetPadded(false)
	w.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		if ev.Name == fyne.KeyEscape {
			w.Close()
		}
	})
	v.native = newNativeWindow(u, w, func() { u.detach(window.StickerOverlay, v) })
	return v
}

func (v *stickerView) handle(msg messages.Message) {
	m, ok := msg.(messages.StickerData)
	if !ok {
		return
	}
	img, err := decodeThumbnail(m.Thumbnail)
	if err != nil {
		v.ui.log.Error().Err(err).Msg("decode sticker")
		return
	}
	v.image.Image = img
	v.image.Refresh()
	size := fitWithin(img.Bounds().Size(), stickerLimit)
	v.win.Resize(toSize(size))
}
