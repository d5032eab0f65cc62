// Package prewarm builds the screenshot stage ahead of the first capture so
// showing it later never waits on window construction.
package prewarm

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"screen-capture-stage/src/logutil"
)

// ErrReset resolves a pending readiness when the stage went away before
// acknowledging.
var ErrReset = errors.New("prewarm reset before stage was ready")

// State of the coordinator.
type State int

const (
	Cold State = iota
	Prewarming
	Ready
)

func (s State) String() string {
	switch s {
	case Cold:
		return "cold"
	case Prewarming:
		return "prewarming"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Readiness resolves once, either when the stage acknowledges its first
// frame or when prewarming fails.
type Readiness struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

func (r *Readiness) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done is closed when the readiness resolves.
func (r *Readiness) Done() <-chan struct{} { return r.done }

// Err is valid after Done is closed.
func (r *Readiness) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// StartFunc constructs the stage window. The stage reports its first frame
// separately through Acknowledge.
type StartFunc func(ctx context.Context) error

// Coordinator tracks Cold -> Prewarming -> Ready for the stage.
type Coordinator struct {
	mu        sync.Mutex
	state     State
	readiness *Readiness
	start     StartFunc
	log       *zerolog.Logger
}

// New creates a cold coordinator.
func New(start StartFunc) *Coordinator {
	return &Coordinator{start: start, log: logutil.WithComponent("prewarm")}
}

// Startup begins stage construction if cold and returns the current
// readiness. Repeated calls return the same readiness until Reset.
func (c *Coordinator) Startup(ctx context.Context) *Readiness {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Cold {
		return c.readiness
	}
	c.state = Prewarming
	rd := newReadiness()
	c.readiness = rd
	c.log.Debug().Msg("prewarming stage")

	go func() {
		if err := c.start(ctx); err != nil {
			c.fail(rd, err)
		}
	}()
	return rd
}

func (c *Coordinator) fail(rd *Readiness, err error) {
	c.mu.Lock()
	if c.readiness == rd {
		c.state = Cold
		c.readiness = nil
	}
	c.mu.Unlock()
	c.log.Error().Err(err).Msg("stage prewarm failed")
	rd.resolve(err)
}

// Acknowledge marks the stage ready. It is a no-op unless prewarming.
func (c *Coordinator) Acknowledge() {
	c.mu.Lock()
	if c.state != Prewarming {
		c.mu.Unlock()
		return
	}
	c.state = Ready
	rd := c.readiness
	c.mu.Unlock()

	c.log.Debug().Msg("stage ready")
	rd.resolve(nil)
}

// Await starts prewarming if needed and blocks until the stage is ready.
func (c *Coordinator) Await(ctx context.Context) error {
	rd := c.Startup(ctx)
	select {
	case <-rd.Done():
		return rd.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset returns to Cold. Waiters on an unresolved readiness get ErrReset.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	rd := c.readiness
	prev := c.state
	c.state = Cold
	c.readiness = nil
	c.mu.Unlock()

	if prev != Cold {
		c.log.Info().Str("from", prev.String()).Msg("prewarm reset")
	}
	if rd != nil {
		rd.resolve(ErrReset)
	}
}
