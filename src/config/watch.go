package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"screen-capture-stage/src/logutil"
)

// ErrNoEnvFile is returned by NewWatcher when there is no env file to watch.
var ErrNoEnvFile = errors.New("no env file to watch")

const reloadDebounce = 150 * time.Millisecond

// Watcher reloads the configuration whenever its env file changes.
type Watcher struct {
	opts    LoadOptions
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the env file opts resolves to. The directory is
// watched so editors that replace the file are still seen.
func NewWatcher(opts LoadOptions) (*Watcher, error) {
	path := opts.EnvPath
	if path == "" {
		path = resolveEnvPath()
	}
	if path == "" {
		return nil, ErrNoEnvFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	opts.EnvPath = abs
	return &Watcher{opts: opts, path: abs, watcher: fw}, nil
}

// Path returns the watched env file.
func (w *Watcher) Path() string { return w.path }

// Run delivers a freshly loaded Config to onChange after each burst of
// changes to the file, until ctx ends.
func (w *Watcher) Run(ctx context.Context, onChange func(*Config)) error {
	log := logutil.WithComponent("config")
	defer w.watcher.Close()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(reloadDebounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		case <-debounce:
			debounce = nil
			cfg, err := LoadWithOptions(w.opts)
			if err != nil {
				log.Error().Err(err).Msg("config reload failed")
				continue
			}
			log.Info().Str("path", w.path).Msg("config reloaded")
			onChange(cfg)
		}
	}
}

// Watch is NewWatcher followed by Run.
func Watch(ctx context.Context, opts LoadOptions, onChange func(*Config)) error {
	w, err := NewWatcher(opts)
	if err != nil {
		return err
	}
	return w.Run(ctx, onChange)
}
