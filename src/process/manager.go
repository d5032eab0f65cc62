// Package process supervises the resident's long-running background
// services: the capture loop, the config watcher and the signal handler.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"screen-capture-stage/src/logutil"
)

var (
	ErrExists  = errors.New("process already registered")
	ErrStarted = errors.New("processes already started")
)

const (
	maxRestarts    = 5
	defaultBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Func runs until ctx ends. Returning nil or ctx.Err() is a clean exit.
type Func func(ctx context.Context) error

type State int

const (
	StateStopped State = iota
	StateRunning
	StateExited
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Info is a snapshot of one process.
type Info struct {
	State      State
	StartTime  time.Time
	CrashCount int
	LastError  error
}

type proc struct {
	name     string
	run      Func
	critical bool
	info     Info
}

// Manager runs registered processes and tracks their state. A critical
// process that fails stops every other process; a non-critical one is
// restarted with backoff up to maxRestarts times.
type Manager struct {
	mu      sync.RWMutex
	procs   map[string]*proc
	log     *zerolog.Logger
	backoff time.Duration
	onFatal func(name string, err error)

	group   *errgroup.Group
	cancel  context.CancelFunc
	started bool
}

type Option func(*Manager)

// WithBackoff sets the first restart delay; it doubles per crash.
func WithBackoff(d time.Duration) Option {
	return func(m *Manager) { m.backoff = d }
}

// OnFatal is called from the failing goroutine when a critical process
// fails.
func OnFatal(fn func(name string, err error)) Option {
	return func(m *Manager) { m.onFatal = fn }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		procs:   make(map[string]*proc),
		log:     logutil.WithComponent("process"),
		backoff: defaultBackoff,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register adds a process. It must be called before StartAll.
func (m *Manager) Register(name string, critical bool, run Func) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrStarted
	}
	if _, exists := m.procs[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrExists)
	}
	m.procs[name] = &proc{name: name, run: run, critical: critical}
	m.log.Debug().Str("process", name).Bool("critical", critical).Msg("registered")
	return nil
}

// StartAll launches every registered process under ctx.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrStarted
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.group, ctx = errgroup.WithContext(ctx)
	for _, p := range m.procs {
		p := p
		m.group.Go(func() error { return m.supervise(ctx, p) })
	}
	return nil
}

func (m *Manager) supervise(ctx context.Context, p *proc) error {
	delay := m.backoff
	for {
		err := m.runOnce(ctx, p)
		if err == nil || ctx.Err() != nil {
			m.setState(p, StateExited)
			return nil
		}

		crashes := m.crashed(p, err)
		if p.critical {
			m.log.Error().Err(err).Str("process", p.name).Msg("critical process failed")
			if m.onFatal != nil {
				m.onFatal(p.name, err)
			}
			return fmt.Errorf("%s: %w", p.name, err)
		}
		if crashes >= maxRestarts {
			m.log.Error().Err(err).Str("process", p.name).Int("crashes", crashes).Msg("giving up")
			return nil
		}

		m.log.Warn().Err(err).Str("process", p.name).Dur("backoff", delay).Msg("restarting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// runOnce turns a panic into an error.
func (m *Manager) runOnce(ctx context.Context, p *proc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	m.mu.Lock()
	p.info.State = StateRunning
	p.info.StartTime = time.Now()
	m.mu.Unlock()

	err = p.run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) setState(p *proc, s State) {
	m.mu.Lock()
	p.info.State = s
	m.mu.Unlock()
}

func (m *Manager) crashed(p *proc, err error) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.info.State = StateCrashed
	p.info.LastError = err
	p.info.CrashCount++
	return p.info.CrashCount
}

// StopAll cancels every process and waits for them. It returns the first
// critical failure, if any.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	group, cancel := m.group, m.cancel
	m.mu.Unlock()
	if group == nil {
		return nil
	}
	cancel()
	return group.Wait()
}

// Info returns the snapshot of one process.
func (m *Manager) Info(name string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.procs[name]
	if !ok {
		return Info{}, false
	}
	return p.info, true
}

// Status returns every process state keyed by name.
func (m *Manager) Status() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]State, len(m.procs))
	for name, p := range m.procs {
		status[name] = p.info.State
	}
	return status
}
