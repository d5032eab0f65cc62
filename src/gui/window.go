package gui

import (
	"sync"
	"sync/atomic"

	"fyne.io/fyne/v2"
)

// nativeWindow adapts a fyne.Window to window.Window.
type nativeWindow struct {
	ui  *UI
	win fyne.Window

	visible   atomic.Bool
	gone      atomic.Bool
	closeOnce sync.Once

	mu       sync.Mutex
	onClosed func()
	detach   func()
}

func newNativeWindow(u *UI, w fyne.Window, detach func()) *nativeWindow {
	n := &nativeWindow{ui: u, win: w, detach: detach}
	w.SetOnClosed(n.closed)
	return n
}

func (n *nativeWindow) Show() {
	n.visible.Store(true)
	n.ui.do(func() {
		n.win.Show()
		n.win.RequestFocus()
	})
}

func (n *nativeWindow) Hide() {
	n.visible.Store(false)
	n.ui.do(n.win.Hide)
}

func (n *nativeWindow) IsVisible() bool { return n.visible.Load() }

func (n *nativeWindow) OnClosed(fn func()) {
	n.mu.Lock()
	n.onClosed = fn
	n.mu.Unlock()
}

// Destroy closes the fyne window. After the app stopped there is no fyne
// thread left to close on, so only the bookkeeping runs.
func (n *nativeWindow) Destroy() error {
	if !n.gone.Load() && !n.ui.stopped.Load() {
		n.ui.doAndWait(n.win.Close)
	}
	n.closed()
	return nil
}

func (n *nativeWindow) closed() {
	n.closeOnce.Do(func() {
		n.gone.Store(true)
		n.visible.Store(false)
		if n.detach != nil {
			n.detach()
		}
		n.mu.Lock()
		fn := n.onClosed
		n.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
