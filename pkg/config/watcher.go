package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes and pushes the new
// overrides into a Resolver. A file that fails to load or validate is
// logged and the previous configuration stays active.
type Watcher struct {
	path     string
	resolver *Resolver
	logger   zerolog.Logger
	delay    time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onReload []func(*Config)
	done     chan struct{}
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(path string, resolver *Resolver, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		resolver: resolver,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		delay:    DefaultReloadDelay,
	}
}

// SetReloadDelay changes the debounce delay. It must be called before Start.
func (w *Watcher) SetReloadDelay(d time.Duration) {
	w.delay = d
}

// OnReload registers a callback invoked with every successfully reloaded configuration.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Start begins watching. The containing directory is watched so that
// editors replacing the file by rename are noticed. Watching stops when ctx
// ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return fmt.Errorf("config watcher already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.processEvents(ctx, watcher, w.done)

	w.logger.Info().Str("path", w.path).Msg("Started watching configuration")
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	watcher, done := w.watcher, w.done
	w.watcher, w.done = nil, nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

// processEvents processes file system events and triggers reloads.
func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() {
				if err := w.Reload(); err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload configuration, keeping previous")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Reload loads the file now and applies it.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}

	w.resolver.Update(cfg)

	w.mu.Lock()
	callbacks := append([]func(*Config){}, w.onReload...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}

	w.logger.Info().
		Int("connectors", len(cfg.Connectors)).
		Msg("Configuration reloaded")
	return nil
}
