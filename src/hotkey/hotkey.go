// Package hotkey registers global key combinations through gohook. Several
// named bindings share one hook; each fires its callback when every key of
// its combination is held.
package hotkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gohook "github.com/robotn/gohook"
	"github.com/rs/zerolog"

	"screen-capture-stage/src/logutil"
)

var (
	ErrInvalidHotkey = errors.New("invalid hotkey")
	ErrNotRunning    = errors.New("hotkey manager not running")
)

type keyState struct {
	name     string
	rawcodes []uint16
	pressed  bool
}

type binding struct {
	combo    string
	keys     []keyState
	callback func()
}

const stopTimeout = 2 * time.Second

// Manager owns the global hook.
type Manager struct {
	mu       sync.Mutex
	bindings map[string]*binding
	running  bool
	done     chan struct{}

	start func() chan gohook.Event
	end   func()
	log   *zerolog.Logger
}

// NewManager returns a manager backed by gohook.
func NewManager() *Manager {
	return &Manager{
		bindings: make(map[string]*binding),
		start:    gohook.Start,
		end:      gohook.End,
		log:      logutil.WithComponent("hotkey"),
	}
}

// Bind registers or replaces the binding called name.
func (m *Manager) Bind(name, combo string, callback func()) error {
	keys, err := compile(combo)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[name] = &binding{combo: combo, keys: keys, callback: callback}
	m.log.Info().Str("binding", name).Str("combo", combo).Msg("hotkey bound")
	return nil
}

// Unbind removes a binding. Unknown names are ignored.
func (m *Manager) Unbind(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bindings[name]; ok {
		delete(m.bindings, name)
		m.log.Info().Str("binding", name).Msg("hotkey unbound")
	}
}

// Combo returns the combination bound to name.
func (m *Manager) Combo(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[name]
	if !ok {
		return "", false
	}
	return b.combo, true
}

// Start begins listening. Calling Start twice is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	evChan := m.start()
	if evChan == nil {
		m.mu.Unlock()
		return errors.New("gohook returned no event channel")
	}
	m.running = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				m.log.Error().Interface("panic", r).Msg("hotkey goroutine panicked")
			}
		}()
		for ev := range evChan {
			m.handle(ev)
		}
		m.log.Debug().Msg("event channel closed")
	}()
	return nil
}

// Stop ends the hook and waits for the listener to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	done := m.done
	m.mu.Unlock()

	m.end()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		m.log.Warn().Msg("hotkey listener did not exit")
	}
	return nil
}

// handle updates key state for every binding and fires completed ones.
func (m *Manager) handle(ev gohook.Event) {
	if ev.Kind != gohook.KeyDown && ev.Kind != gohook.KeyUp {
		return
	}
	down := ev.Kind == gohook.KeyDown

	var fire []func()
	m.mu.Lock()
	for name, b := range m.bindings {
		if !b.apply(ev.Rawcode, down) {
			continue
		}
		m.log.Debug().Str("binding", name).Str("combo", b.combo).Msg("hotkey combination detected")
		if b.callback != nil {
			fire = append(fire, b.callback)
		}
	}
	m.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// apply records a key transition and reports whether the combination just
// completed. Completion resets the pressed state.
func (b *binding) apply(rawcode uint16, down bool) bool {
	matched := false
	for i := range b.keys {
		for _, rc := range b.keys[i].rawcodes {
			if rc == rawcode {
				b.keys[i].pressed = down
				matched = true
				break
			}
		}
	}
	if !down || !matched {
		return false
	}
	for i := range b.keys {
		if !b.keys[i].pressed {
			return false
		}
	}
	for i := range b.keys {
		b.keys[i].pressed = false
	}
	return true
}

func compile(combo string) ([]keyState, error) {
	names := parseHotkey(combo)
	if len(names) == 0 {
		return nil, fmt.Errorf("%q: %w", combo, ErrInvalidHotkey)
	}
	keys := make([]keyState, 0, len(names))
	for _, name := range names {
		rawcodes := keyNameToRawcodes(name)
		if len(rawcodes) == 0 {
			return nil, fmt.Errorf("%q: unknown key %q: %w", combo, name, ErrInvalidHotkey)
		}
		keys = append(keys, keyState{name: name, rawcodes: rawcodes})
	}
	return keys, nil
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to normalized key names
func parseHotkey(combo string) []string {
	var keys []string
	for _, part := range strings.Split(strings.ToLower(combo), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "control":
			part = "ctrl"
		case "option":
			part = "alt"
		case "win", "super", "meta":
			part = "cmd"
		}
		keys = append(keys, part)
	}
	return keys
}

var namedKeys = map[string][]uint16{
	// Modifiers: left and right variants
	"ctrl":  {162, 163}, // VK_LCONTROL, VK_RCONTROL
	"alt":   {164, 165}, // VK_LMENU, VK_RMENU
	"shift": {160, 161}, // VK_LSHIFT, VK_RSHIFT
	"cmd":   {91, 92},   // VK_LWIN, VK_RWIN

	"space":       {32},
	"enter":       {13},
	"return":      {13},
	"esc":         {27},
	"escape":      {27},
	"tab":         {9},
	"backspace":   {8},
	"delete":      {46},
	"del":         {46},
	"insert":      {45},
	"ins":         {45},
	"home":        {36},
	"end":         {35},
	"pageup":      {33},
	"pgup":        {33},
	"pagedown":    {34},
	"pgdn":        {34},
	"left":        {37},
	"up":          {38},
	"right":       {39},
	"down":        {40},
	"printscreen": {44},
	"prtsc":       {44},
}

// keyNameToRawcodes maps a key name to its Windows virtual key codes.
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	if codes, ok := namedKeys[keyName]; ok {
		return codes
	}
	if len(keyName) == 1 {
		c := keyName[0]
		switch {
		case c >= 'a' && c <= 'z':
			return []uint16{uint16(c-'a') + 65}
		case c >= '0' && c <= '9':
			return []uint16{uint16(c-'0') + 48}
		}
	}
	if len(keyName) >= 2 && keyName[0] == 'f' {
		if n, err := strconv.Atoi(keyName[1:]); err == nil && n >= 1 && n <= 24 && strconv.Itoa(n) == keyName[1:] {
			return []uint16{uint16(111 + n)} // VK_F1 = 112
		}
	}
	return nil
}

// Validate reports whether combo can be bound.
func Validate(combo string) error {
	_, err := compile(combo)
	return err
}
