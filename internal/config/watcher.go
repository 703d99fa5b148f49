package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes and hands every valid
// reload to onChange. Invalid files are logged and skipped, so the last good
// configuration stays in effect.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	path     string
	logger   zerolog.Logger
	onChange func(*Config)
	onError  func(error)
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
	done   chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithErrorHandler is called with every failed reload.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher starts watching the config file at path. The parent directory
// is watched so editors that replace the file on save are still seen.
func NewWatcher(path string, logger zerolog.Logger, onChange func(*Config), opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		loader:   NewLoader(abs),
		path:     abs,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		onChange: onChange,
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()

	w.logger.Info().Str("path", abs).Msg("Watching config file")
	return w, nil
}

// Stop stops the watcher and cancels a pending reload.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.done

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Config change detected")

				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload debounces reloads
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	// Editors that save by rename briefly leave no file behind.
	if _, err := os.Stat(w.path); err != nil {
		return
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Config reload failed, keeping previous config")
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.logger.Info().Msg("Config reloaded")
	w.onChange(cfg)
}
