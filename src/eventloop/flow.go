package eventloop

import (
	"context"
	"errors"
	"time"

	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/screenshot"
	"screen-capture-stage/src/session"
	"screen-capture-stage/src/toolbar"
	"screen-capture-stage/src/window"
)

type hideDone struct {
	gen    uint64
	hidden []window.Role
	err    error
}

type captureDone struct {
	gen     uint64
	capture screenshot.Capture
	err     error
}

// presented reports that the capture data reached its window content.
type presented struct {
	gen       uint64
	sessionID string
	err       error
}

type imageReadyTimeout struct {
	gen       uint64
	sessionID string
}

type settingsChanged struct {
	settings Settings
}

type stageLost struct{}

func (l *Loop) handleTrigger(ctx context.Context, t trigger) {
	if l.state != Idle {
		l.log.Info().Str("source", t.source).Str("state", l.state.String()).Msg("capture already in progress, dropping trigger")
		if t.reply != nil {
			t.reply(ErrBusy)
		}
		return
	}
	if l.opts.Backend == nil {
		l.log.Error().Msg("no capture backend configured")
		if t.reply != nil {
			t.reply(errors.New("no capture backend"))
		}
		return
	}

	l.gen++
	gen := l.gen
	l.hidden = nil
	l.hasOrphan = false
	l.setState(HidingWindows)
	l.log.Info().Str("source", t.source).Str("backend", l.opts.Backend.Name()).Uint64("gen", gen).Msg("capture triggered")
	if t.reply != nil {
		t.reply(nil)
	}

	go func() {
		hidden, err := l.opts.Windows.HideAll(ctx)
		l.post(hideDone{gen: gen, hidden: hidden, err: err})
	}()
}

func (l *Loop) onHideDone(ctx context.Context, e hideDone) {
	if e.gen != l.gen || l.state != HidingWindows {
		return
	}
	l.hidden = e.hidden
	if e.err != nil {
		l.fail(ctx, e.err, "hide windows")
		return
	}

	l.setState(Capturing)
	gen := e.gen
	go func() {
		c, err := l.opts.Backend.Capture(ctx)
		l.post(captureDone{gen: gen, capture: c, err: err})
	}()
}

func (l *Loop) onCaptureDone(ctx context.Context, e captureDone) {
	if e.gen != l.gen || l.state != Capturing {
		return
	}
	if e.err != nil {
		if errors.Is(e.err, screenshot.ErrCaptureCancelled) {
			l.log.Info().Msg("capture dismissed by user")
			l.setState(Cancelled)
			l.restoreHidden()
			l.finish()
			return
		}
		l.fail(ctx, e.err, "capture")
		return
	}

	s := session.New(e.capture)
	l.sess = s
	l.ctrl = toolbar.New(s.ID)
	l.setState(Populated)

	img := e.capture.Image()
	data := messages.ScreenshotData{
		ID:          e.capture.Source.ID,
		Name:        e.capture.Source.Name,
		Thumbnail:   img.DataURL,
		SessionID:   s.ID,
		Width:       img.Width,
		Height:      img.Height,
		Interactive: s.Interactive(),
	}

	gen := e.gen
	windows := l.opts.Windows
	factories := l.opts.Factories
	prewarm := l.opts.Prewarm
	if s.Interactive() {
		go func() {
			_, err := windows.Replace(ctx, window.PreviewPopup, factories.Preview)
			if err == nil {
				err = windows.Send(window.PreviewPopup, data)
			}
			l.post(presented{gen: gen, sessionID: data.SessionID, err: err})
		}()
	} else {
		go func() {
			var err error
			if prewarm != nil {
				err = prewarm.Await(ctx)
			}
			if err == nil {
				_, err = windows.Ensure(ctx, window.ScreenshotStage, factories.Stage)
			}
			if err == nil {
				err = windows.Send(window.ScreenshotStage, data)
			}
			l.post(presented{gen: gen, sessionID: data.SessionID, err: err})
		}()
	}
}

func (l *Loop) onPresented(ctx context.Context, e presented) {
	if e.gen != l.gen || l.state != Populated || l.sess == nil || l.sess.ID != e.sessionID {
		return
	}
	if e.err != nil {
		l.fail(ctx, e.err, "present capture")
		return
	}

	gen, id := e.gen, e.sessionID
	l.stopReadyTimer()
	l.readyTo = time.AfterFunc(l.settings.ImageReadyTimeout, func() {
		l.post(imageReadyTimeout{gen: gen, sessionID: id})
	})
}

// onImageReady handles the content's first-paint acknowledgment and any
// later re-report after a resize.
func (l *Loop) onImageReady(ctx context.Context, m messages.ScreenshotImageReady) {
	if l.sess == nil || l.sess.ID != m.SessionID {
		l.log.Debug().Str("session", m.SessionID).Msg("image-ready for stale session")
		return
	}
	l.sess.SetRenderedBounds(m.Displayed, m.Viewport)
	if l.state != Populated {
		return
	}
	l.stopReadyTimer()

	role := l.sessionRole()
	if err := l.opts.Windows.Show(role); err != nil {
		l.fail(ctx, err, "show "+role.String())
		return
	}
	l.setState(AwaitingSelection)

	if l.sess.Interactive() {
		l.sendSelection()
	}
}

func (l *Loop) onImageReadyTimeout(e imageReadyTimeout) {
	if e.gen != l.gen || l.state != Populated || l.sess == nil || l.sess.ID != e.sessionID {
		return
	}
	role := l.sessionRole()
	l.log.Warn().Dur("timeout", l.settings.ImageReadyTimeout).Str("session", e.sessionID).Msg("content never reported the image")

	// Leave the window up with an inline note; ESC closes it.
	if err := l.opts.Windows.Send(role, messages.StageError{Message: "The screenshot could not be displayed. Press Esc to close."}); err != nil {
		l.log.Warn().Err(err).Msg("send stage error")
	}
	if err := l.opts.Windows.Show(role); err != nil {
		l.log.Warn().Err(err).Msg("show after timeout")
	}
	l.setState(Failed)
	l.finish()
	l.orphan, l.hasOrphan = role, true
}

func (l *Loop) onSelectionChanged(m messages.SelectionChanged) {
	if l.state != AwaitingSelection || l.sess == nil || l.sess.ID != m.SessionID || l.sess.Interactive() {
		return
	}
	if l.ctrl.Finished() {
		return
	}
	if _, busy := l.ctrl.InFlight(); busy {
		return
	}

	if !m.Released {
		wasVisible := l.sess.ToolbarVisible
		l.sess.UpdateDrag(m.Start, m.Current)
		if wasVisible {
			l.sendSelection()
		}
		return
	}

	if _, ok := l.sess.Release(m.Start, m.Current); !ok {
		l.log.Debug().Str("session", m.SessionID).Msg("selection too small, reset")
	}
	l.sendSelection()
}

func (l *Loop) sendSelection() {
	role := l.sessionRole()
	err := l.opts.Windows.Send(role, messages.SelectionUpdate{
		SessionID:      l.sess.ID,
		Selection:      l.sess.Selection,
		ToolbarVisible: l.sess.ToolbarVisible,
	})
	if err != nil {
		l.log.Warn().Err(err).Str("role", role.String()).Msg("send selection update")
	}
}

func (l *Loop) onCancelCapture(ctx context.Context, m messages.CancelCapture, from string) {
	if l.sess != nil && (m.SessionID == "" || m.SessionID == l.sess.ID) {
		if l.state != Populated && l.state != AwaitingSelection {
			return
		}
		l.log.Info().Str("session", l.sess.ID).Msg("capture cancelled")
		l.setState(Cancelled)
		l.endSession()
		l.restoreHidden()
		l.finish()
		return
	}
	// A window left open by a failed presentation.
	if l.state != Idle || !l.hasOrphan {
		return
	}
	role, ok := roleForEndpoint(from)
	if !ok || role != l.orphan {
		return
	}
	l.hasOrphan = false
	_ = l.opts.Windows.Send(role, messages.ScreenshotWindowHide{})
	_ = l.opts.Windows.Hide(role)
	if len(l.hidden) > 0 {
		l.restoreHidden()
		return
	}
	if err := l.showMain(ctx); err != nil {
		l.log.Error().Err(err).Msg("restore main window")
	}
}

func (l *Loop) onStageLost() {
	if l.sess == nil || l.sess.Interactive() {
		return
	}
	if l.state == Populated || l.state == AwaitingSelection {
		l.log.Warn().Str("session", l.sess.ID).Msg("stage closed during capture")
		l.setState(Failed)
		l.restoreHidden()
		l.finish()
	}
}

// sessionRole is the window presenting the current session.
func (l *Loop) sessionRole() window.Role {
	if l.sess != nil && l.sess.Interactive() {
		return window.PreviewPopup
	}
	return window.ScreenshotStage
}

// endSession tells content to drop its state and hides the presenting
// window. The stage is hidden, never destroyed.
func (l *Loop) endSession() {
	if l.sess == nil {
		return
	}
	role := l.sessionRole()
	if err := l.opts.Windows.Send(role, messages.ScreenshotWindowHide{}); err != nil {
		l.log.Debug().Err(err).Str("role", role.String()).Msg("send hide")
	}
	if err := l.opts.Windows.Hide(role); err != nil {
		l.log.Debug().Err(err).Str("role", role.String()).Msg("hide")
	}
}

// restoreHidden shows again the windows this run hid.
func (l *Loop) restoreHidden() {
	for _, role := range l.hidden {
		if err := l.opts.Windows.Show(role); err != nil {
			l.log.Debug().Err(err).Str("role", role.String()).Msg("restore window")
		}
	}
	l.hidden = nil
}

// fail logs err, discards the session and brings the main window back.
func (l *Loop) fail(ctx context.Context, err error, step string) {
	l.log.Error().Err(err).Str("step", step).Msg("capture failed")
	l.setState(Failed)
	l.endSession()
	l.hidden = nil
	if mainErr := l.showMain(ctx); mainErr != nil {
		l.log.Error().Err(mainErr).Msg("restore main window")
	}
	l.finish()
}

// finish discards the session and returns to Idle. Bumping the generation
// makes every in-flight result stale.
func (l *Loop) finish() {
	l.stopReadyTimer()
	l.sess = nil
	l.ctrl = nil
	l.gen++
	l.setState(Idle)
}

func (l *Loop) stopReadyTimer() {
	if l.readyTo != nil {
		l.readyTo.Stop()
		l.readyTo = nil
	}
}

func roleForEndpoint(endpoint string) (window.Role, bool) {
	for _, role := range window.Roles {
		if role.Endpoint() == endpoint {
			return role, true
		}
	}
	return 0, false
}
