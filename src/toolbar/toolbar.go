// Package toolbar guards the actions offered on a finished selection. A
// session runs at most one action at a time and none after one succeeded.
package toolbar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"screen-capture-stage/src/messages"
)

var (
	ErrActionInFlight  = errors.New("another toolbar action is still running")
	ErrSessionFinished = errors.New("capture session already finished")
	ErrUnknownAction   = errors.New("unknown toolbar action")
)

// Known reports whether a is one of the toolbar buttons.
func Known(a messages.Action) bool {
	switch a {
	case messages.ActionConfirm, messages.ActionCopy, messages.ActionCancel, messages.ActionPin:
		return true
	}
	return false
}

// Controller tracks action state for one session.
type Controller struct {
	mu        sync.Mutex
	sessionID string
	inFlight  messages.Action
	finished  bool
}

// New returns a controller for sessionID.
func New(sessionID string) *Controller {
	return &Controller{sessionID: sessionID}
}

// SessionID returns the session the controller guards.
func (c *Controller) SessionID() string { return c.sessionID }

// Begin claims the session for action.
func (c *Controller) Begin(action messages.Action) error {
	if !Known(action) {
		return fmt.Errorf("%q: %w", action, ErrUnknownAction)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return ErrSessionFinished
	}
	if c.inFlight != "" {
		return fmt.Errorf("%s running: %w", c.inFlight, ErrActionInFlight)
	}
	c.inFlight = action
	return nil
}

// Finish releases the claim taken by Begin. A nil err finishes the session;
// a failure leaves it open for another attempt.
func (c *Controller) Finish(action messages.Action, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight != action {
		return
	}
	c.inFlight = ""
	if err == nil {
		c.finished = true
	}
}

// Execute runs fn between Begin and Finish.
func (c *Controller) Execute(ctx context.Context, action messages.Action, fn func(ctx context.Context) error) error {
	if err := c.Begin(action); err != nil {
		return err
	}
	err := fn(ctx)
	c.Finish(action, err)
	return err
}

// InFlight returns the running action, if any.
func (c *Controller) InFlight() (messages.Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight, c.inFlight != ""
}

// Finished reports whether an action already succeeded.
func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Status builds the ActionStatus reply content shows inline.
func Status(sessionID string, action messages.Action, err error) messages.ActionStatus {
	resp := messages.OK()
	if err != nil {
		resp = messages.Fail(err)
	}
	return messages.ActionStatus{SessionID: sessionID, Action: action, Response: resp}
}
