// Package gui renders the window content for every role with fyne. Content
// talks to the orchestration loop only through router endpoints.
package gui

import (
	"context"
	"sync"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"github.com/rs/zerolog"

	"screen-capture-stage/src/logutil"
	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/router"
	"screen-capture-stage/src/window"
)

// content receives the messages addressed to its role. handle always runs
// on the fyne thread.
type content interface {
	handle(msg messages.Message)
}

// Hider hides a role through the registry so its recorded state stays in
// sync with what the user did.
type Hider interface {
	Hide(role window.Role) error
}

// UI owns the fyne app and the content attached to each role.
type UI struct {
	app fyne.App
	rt  *router.Router
	log *zerolog.Logger

	do        func(func())
	doAndWait func(func())

	mu       sync.Mutex
	contents map[window.Role]content
	hider    Hider
	hotkeys  string
	stopped  atomic.Bool
}

// New creates the UI. Start must run before any factory is used.
func New(app fyne.App, rt *router.Router) *UI {
	u := &UI{
		app:       app,
		rt:        rt,
		log:       logutil.WithComponent("gui"),
		do:        fyne.Do,
		doAndWait: fyne.DoAndWait,
		contents:  make(map[window.Role]content),
	}
	if app != nil {
		app.Lifecycle().SetOnStopped(func() { u.stopped.Store(true) })
	}
	return u
}

// SetHider routes user-initiated hides through h.
func (u *UI) SetHider(h Hider) {
	u.mu.Lock()
	u.hider = h
	u.mu.Unlock()
}

// SetHotkeys sets the shortcut summary shown on the main window.
func (u *UI) SetHotkeys(summary string) {
	u.mu.Lock()
	u.hotkeys = summary
	c := u.contents[window.Main]
	u.mu.Unlock()
	if mw, ok := c.(*mainWindow); ok {
		u.do(func() { mw.setHotkeys(summary) })
	}
}

// Start registers one endpoint per role and pumps its messages to whatever
// content is currently attached.
func (u *UI) Start(ctx context.Context) error {
	for _, role := range window.Roles {
		ch, err := u.rt.Register(role.Endpoint(), 32)
		if err != nil {
			return err
		}
		go u.pump(ctx, role, ch)
	}
	return nil
}

func (u *UI) pump(ctx context.Context, role window.Role, ch <-chan messages.MessageEnvelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			msg := env.Message
			u.do(func() {
				c := u.current(role)
				if c == nil {
					u.log.Debug().Str("role", role.String()).Str("type", msg.Type()).Msg("no content attached, dropping")
					return
				}
				c.handle(msg)
			})
		}
	}
}

func (u *UI) current(role window.Role) content {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.contents[role]
}

func (u *UI) attach(role window.Role, c content) {
	u.mu.Lock()
	u.contents[role] = c
	u.mu.Unlock()
}

// detach clears role only while c is still the attached content, so a
// replaced window closing late cannot unhook its successor.
func (u *UI) detach(role window.Role, c content) {
	u.mu.Lock()
	if u.contents[role] == c {
		delete(u.contents, role)
	}
	u.mu.Unlock()
}

// send posts msg from role's endpoint to the orchestration loop.
func (u *UI) send(role window.Role, msg messages.Message) {
	if err := u.rt.SendToMain(role.Endpoint(), msg); err != nil {
		u.log.Warn().Err(err).Str("role", role.String()).Str("type", msg.Type()).Msg("send to main")
	}
}

func (u *UI) hide(role window.Role) {
	u.mu.Lock()
	h := u.hider
	u.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.Hide(role); err != nil {
		u.log.Debug().Err(err).Str("role", role.String()).Msg("hide")
	}
}

// build runs fn on the fyne thread and waits for it.
func (u *UI) build(fn func()) {
	u.doAndWait(fn)
}
