// Package router delivers messages between the orchestration loop and the
// content of each managed window. Every window content registers an endpoint
// and receives envelopes on a buffered channel.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"screen-capture-stage/src/logutil"
	"screen-capture-stage/src/messages"
)

var (
	ErrEndpointNotFound = errors.New("endpoint not registered")
	ErrEndpointExists   = errors.New("endpoint already registered")
	ErrShutdown         = errors.New("router is shutting down")
)

const (
	DefaultSendTimeout      = 5 * time.Second
	DefaultBroadcastTimeout = time.Second
)

type endpoint struct {
	ch     chan messages.MessageEnvelope
	active bool
}

// Router handles message routing between endpoints
type Router struct {
	mu          sync.RWMutex
	endpoints   map[string]*endpoint
	ctx         context.Context
	cancel      context.CancelFunc
	sendTimeout time.Duration
	logMessages bool
	log         *zerolog.Logger
}

// New creates a router with the default send timeout.
func New() *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		endpoints:   make(map[string]*endpoint),
		ctx:         ctx,
		cancel:      cancel,
		sendTimeout: DefaultSendTimeout,
		logMessages: true,
		log:         logutil.WithComponent("router"),
	}
}

// SetSendTimeout changes how long Send waits on a full endpoint buffer.
func (r *Router) SetSendTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.sendTimeout = d
	}
}

// SetMessageLogging enables or disables per-message debug logs.
func (r *Router) SetMessageLogging(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logMessages = enabled
}

// Register creates an endpoint and returns its receive channel.
func (r *Router) Register(name string, bufferSize int) (<-chan messages.MessageEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return nil, ErrShutdown
	}
	if _, exists := r.endpoints[name]; exists {
		return nil, fmt.Errorf("%s: %w", name, ErrEndpointExists)
	}

	ch := make(chan messages.MessageEnvelope, bufferSize)
	r.endpoints[name] = &endpoint{ch: ch, active: true}
	r.log.Debug().Str("endpoint", name).Int("buffer", bufferSize).Msg("registered")
	return ch, nil
}

// Unregister closes and removes an endpoint. Unknown names are ignored.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, exists := r.endpoints[name]; exists {
		ep.active = false
		close(ep.ch)
		delete(r.endpoints, name)
		r.log.Debug().Str("endpoint", name).Msg("unregistered")
	}
}

// Has reports whether name is currently registered.
func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.endpoints[name]
	return ok
}

// Send delivers an envelope to its destination, waiting at most the send
// timeout for buffer space. To "*" broadcasts to everyone but the sender.
func (r *Router) Send(envelope messages.MessageEnvelope) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.logMessages {
		r.log.Debug().Str("from", envelope.From).Str("to", envelope.To).Str("type", envelope.Message.Type()).Msg("send")
	}

	if envelope.To == "*" {
		r.broadcast(envelope)
		return nil
	}

	ep, exists := r.endpoints[envelope.To]
	if !exists || !ep.active {
		return fmt.Errorf("%s: %w", envelope.To, ErrEndpointNotFound)
	}

	timer := time.NewTimer(r.sendTimeout)
	defer timer.Stop()

	select {
	case ep.ch <- envelope:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout sending %s to %s", envelope.Message.Type(), envelope.To)
	case <-r.ctx.Done():
		return ErrShutdown
	}
}

// SendTo is shorthand for Send with a constructed envelope.
func (r *Router) SendTo(from, to string, msg messages.Message) error {
	return r.Send(messages.MessageEnvelope{From: from, To: to, Message: msg})
}

// SendToMain sends a message to the orchestration loop endpoint.
func (r *Router) SendToMain(from string, msg messages.Message) error {
	return r.SendTo(from, messages.EndpointMain, msg)
}

// Broadcast sends a message to every active endpoint except the sender.
func (r *Router) Broadcast(from string, msg messages.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.broadcast(messages.MessageEnvelope{From: from, To: "*", Message: msg})
}

func (r *Router) broadcast(envelope messages.MessageEnvelope) {
	var failed []string
	for name, ep := range r.endpoints {
		if !ep.active || name == envelope.From {
			continue
		}
		copyEnv := messages.MessageEnvelope{From: envelope.From, To: name, Message: envelope.Message}
		timer := time.NewTimer(DefaultBroadcastTimeout)
		select {
		case ep.ch <- copyEnv:
		case <-timer.C:
			failed = append(failed, name)
		case <-r.ctx.Done():
			timer.Stop()
			return
		}
		timer.Stop()
	}
	if len(failed) > 0 {
		r.log.Warn().Strs("endpoints", failed).Str("type", envelope.Message.Type()).Msg("broadcast timed out")
	}
}

// Endpoints returns the names of active endpoints.
func (r *Router) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name, ep := range r.endpoints {
		if ep.active {
			names = append(names, name)
		}
	}
	return names
}

// Stats returns the number of queued envelopes per endpoint.
func (r *Router) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]int, len(r.endpoints))
	for name, ep := range r.endpoints {
		if ep.active {
			stats[name] = len(ep.ch)
		}
	}
	return stats
}

// Shutdown closes every endpoint. Subsequent sends fail.
func (r *Router) Shutdown() {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, ep := range r.endpoints {
		if ep.active {
			ep.active = false
			close(ep.ch)
		}
		delete(r.endpoints, name)
	}
	r.log.Debug().Msg("shutdown complete")
}

// IsHealthy reports whether the router still accepts messages.
func (r *Router) IsHealthy() bool {
	return r.ctx.Err() == nil
}

// WaitFor reads envelopes from ch until one of messageType arrives, the
// timeout elapses or ctx ends. Other messages are discarded.
func WaitFor(ctx context.Context, ch <-chan messages.MessageEnvelope, messageType string, timeout time.Duration) (messages.MessageEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case envelope, ok := <-ch:
			if !ok {
				return messages.MessageEnvelope{}, ErrShutdown
			}
			if envelope.Message.Type() == messageType {
				return envelope, nil
			}
		case <-timer.C:
			return messages.MessageEnvelope{}, fmt.Errorf("timeout waiting for %s", messageType)
		case <-ctx.Done():
			return messages.MessageEnvelope{}, ctx.Err()
		}
	}
}

// Drain discards queued envelopes and returns how many were dropped.
func Drain(ch <-chan messages.MessageEnvelope) int {
	count := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return count
			}
			count++
		default:
			return count
		}
	}
}
