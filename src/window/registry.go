// Package window owns the application's top-level windows. Callers address
// windows by Role and get Info snapshots back; the underlying Window values
// never leave the registry.
package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"screen-capture-stage/src/logutil"
	"screen-capture-stage/src/messages"
)

var (
	ErrNotFound       = errors.New("window not available")
	ErrPinned         = errors.New("window is pinned for the application lifetime")
	ErrNotReplaceable = errors.New("role is not replace-on-create")
	ErrClosed         = errors.New("registry closed")
	ErrNoSender       = errors.New("registry has no message sender")
)

// DefaultSettleDelay is how long HideAll waits after hiding so the
// compositor drops the windows from the next frame.
const DefaultSettleDelay = 100 * time.Millisecond

// Window is the native window behind a role.
type Window interface {
	Show()
	Hide()
	Destroy() error
	IsVisible() bool
	// OnClosed registers a callback run once when the window goes away,
	// whether closed by the user or destroyed.
	OnClosed(func())
}

// Factory builds the window for a role.
type Factory func(ctx context.Context) (Window, error)

// Sender delivers a message to a content endpoint.
type Sender interface {
	SendTo(from, to string, msg messages.Message) error
}

// Info is a snapshot of a handle.
type Info struct {
	Role  Role
	ID    string
	State State
}

type handle struct {
	id     string
	win    Window
	state  State
	closed bool
}

// Registry tracks one handle per role.
type Registry struct {
	mu        sync.Mutex
	handles   map[Role]*handle
	loading   map[Role]bool
	observers []func(Role)
	closed    bool

	group     singleflight.Group
	replaceMu sync.Mutex

	settle time.Duration
	sender Sender
	log    *zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSettleDelay overrides DefaultSettleDelay. Zero disables the wait.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.settle = d
		}
	}
}

// WithSender sets where Send routes messages.
func WithSender(s Sender) Option {
	return func(r *Registry) { r.sender = s }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handles: make(map[Role]*handle),
		loading: make(map[Role]bool),
		settle:  DefaultSettleDelay,
		log:     logutil.WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnDestroyed registers fn to run after any window is destroyed or closed.
func (r *Registry) OnDestroyed(fn func(Role)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Get returns the live handle for role.
func (r *Registry) Get(role Role) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[role]
	if !ok || !h.state.Alive() {
		return Info{Role: role, State: r.stateLocked(role)}, false
	}
	return Info{Role: role, ID: h.id, State: h.state}, true
}

// State returns the current lifecycle state of role.
func (r *Registry) State(role Role) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked(role)
}

func (r *Registry) stateLocked(role Role) State {
	if h, ok := r.handles[role]; ok {
		return h.state
	}
	if r.loading[role] {
		return Loading
	}
	return Uninitialized
}

// Ensure returns the live window for role, building it with factory when
// needed. Concurrent callers share one construction.
func (r *Registry) Ensure(ctx context.Context, role Role, factory Factory) (Info, error) {
	if info, ok := r.Get(role); ok {
		return info, nil
	}

	v, err, shared := r.group.Do(role.String(), func() (interface{}, error) {
		if info, ok := r.Get(role); ok {
			return info, nil
		}
		return r.create(ctx, role, factory)
	})
	if shared {
		r.log.Debug().Str("role", role.String()).Msg("joined in-flight construction")
	}
	if err != nil {
		return Info{Role: role, State: Uninitialized}, err
	}
	return v.(Info), nil
}

// Replace destroys the current window for a replace-on-create role and
// stores a freshly built one.
func (r *Registry) Replace(ctx context.Context, role Role, factory Factory) (Info, error) {
	if !role.ReplaceOnCreate() {
		return Info{Role: role}, fmt.Errorf("%s: %w", role, ErrNotReplaceable)
	}

	r.replaceMu.Lock()
	defer r.replaceMu.Unlock()

	if err := r.destroy(role); err != nil && !errors.Is(err, ErrNotFound) {
		r.log.Warn().Err(err).Str("role", role.String()).Msg("old window did not close cleanly")
	}
	return r.create(ctx, role, factory)
}

func (r *Registry) create(ctx context.Context, role Role, factory Factory) (Info, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Info{Role: role}, ErrClosed
	}
	r.loading[role] = true
	r.mu.Unlock()

	win, err := factory(ctx)

	r.mu.Lock()
	delete(r.loading, role)
	if err != nil {
		r.mu.Unlock()
		r.log.Error().Err(err).Str("role", role.String()).Msg("window factory failed")
		return Info{Role: role, State: Uninitialized}, fmt.Errorf("create %s: %w", role, err)
	}
	if win == nil {
		r.mu.Unlock()
		return Info{Role: role, State: Uninitialized}, fmt.Errorf("create %s: factory returned no window", role)
	}
	if r.closed {
		r.mu.Unlock()
		_ = win.Destroy()
		return Info{Role: role}, ErrClosed
	}

	h := &handle{id: uuid.NewString(), win: win, state: Ready}
	if win.IsVisible() {
		h.state = Visible
	}
	r.handles[role] = h
	r.mu.Unlock()

	win.OnClosed(func() { r.closedByWindow(role, h) })

	r.log.Debug().Str("role", role.String()).Str("id", h.id).Msg("window created")
	return Info{Role: role, ID: h.id, State: h.state}, nil
}

// closedByWindow clears the slot when the window reports it went away.
func (r *Registry) closedByWindow(role Role, h *handle) {
	r.mu.Lock()
	if h.closed {
		r.mu.Unlock()
		return
	}
	h.closed = true
	h.state = Destroyed
	if cur, ok := r.handles[role]; ok && cur == h {
		delete(r.handles, role)
	}
	observers := append([]func(Role){}, r.observers...)
	r.mu.Unlock()

	r.log.Debug().Str("role", role.String()).Str("id", h.id).Msg("window closed")
	for _, fn := range observers {
		fn(role)
	}
}

// Show makes the role's window visible.
func (r *Registry) Show(role Role) error {
	return r.setVisible(role, true)
}

// Hide hides the role's window without destroying it.
func (r *Registry) Hide(role Role) error {
	return r.setVisible(role, false)
}

func (r *Registry) setVisible(role Role, visible bool) error {
	r.mu.Lock()
	h, ok := r.handles[role]
	if !ok || !h.state.Alive() {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", role, ErrNotFound)
	}
	if visible {
		h.state = Visible
	} else {
		h.state = Hidden
	}
	win := h.win
	r.mu.Unlock()

	if visible {
		win.Show()
	} else {
		win.Hide()
	}
	return nil
}

// HideAll hides every visible window not in excluding, waits the settle
// delay and returns the roles it hid.
func (r *Registry) HideAll(ctx context.Context, excluding ...Role) ([]Role, error) {
	skip := make(map[Role]bool, len(excluding))
	for _, role := range excluding {
		skip[role] = true
	}

	r.mu.Lock()
	var hidden []Role
	var wins []Window
	for _, role := range Roles {
		h, ok := r.handles[role]
		if !ok || skip[role] || !h.state.Alive() {
			continue
		}
		if h.state != Visible && !h.win.IsVisible() {
			continue
		}
		h.state = Hidden
		hidden = append(hidden, role)
		wins = append(wins, h.win)
	}
	r.mu.Unlock()

	for _, w := range wins {
		w.Hide()
	}

	if len(hidden) == 0 || r.settle == 0 {
		return hidden, ctx.Err()
	}

	timer := time.NewTimer(r.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return hidden, nil
	case <-ctx.Done():
		return hidden, ctx.Err()
	}
}

// Destroy tears down the role's window. ScreenshotStage is refused.
func (r *Registry) Destroy(role Role) error {
	if role == ScreenshotStage {
		return fmt.Errorf("%s: %w", role, ErrPinned)
	}
	return r.destroy(role)
}

func (r *Registry) destroy(role Role) error {
	r.mu.Lock()
	h, ok := r.handles[role]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", role, ErrNotFound)
	}
	delete(r.handles, role)
	r.mu.Unlock()

	err := h.win.Destroy()
	// Windows that do not report their own close still count as gone.
	r.closedByWindow(role, h)
	if err != nil {
		return fmt.Errorf("destroy %s: %w", role, err)
	}
	return nil
}

// Send routes msg to the content endpoint of role. The window must exist.
func (r *Registry) Send(role Role, msg messages.Message) error {
	if _, ok := r.Get(role); !ok {
		return fmt.Errorf("%s: %w", role, ErrNotFound)
	}
	if r.sender == nil {
		return ErrNoSender
	}
	return r.sender.SendTo(messages.EndpointMain, role.Endpoint(), msg)
}

// Snapshot returns Info for every live handle.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Info
	for _, role := range Roles {
		if h, ok := r.handles[role]; ok {
			out = append(out, Info{Role: role, ID: h.id, State: h.state})
		}
	}
	return out
}

// Close destroys every window, the stage included, and rejects further
// construction.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var result *multierror.Error
	for _, role := range Roles {
		if err := r.destroy(role); err != nil && !errors.Is(err, ErrNotFound) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
