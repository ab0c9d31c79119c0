// Package watcher reruns a handler whenever a watched file changes.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
)

// DefaultDebounce coalesces the bursts of writes an index append produces.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called after the watched file settles.
type Handler func(ctx context.Context) error

// Config configures a Watcher.
type Config struct {
	Path     string
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher monitors one file. The file need not exist yet; its directory must.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	log      *slog.Logger
}

// New watches the directory containing cfg.Path, creating it if needed.
func New(cfg Config) (*Watcher, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create watched directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// fsnotify works better on the directory than on the file itself.
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		watcher:  fsWatcher,
		path:     absPath,
		debounce: debounce,
		log:      logging.Component(cfg.Logger, "watcher").With("path", absPath),
	}, nil
}

// Run calls fn once per settled burst of writes to the watched file until
// ctx is done. Handler errors are logged and do not stop the watch. Runs
// never overlap.
func (w *Watcher) Run(ctx context.Context, fn Handler) error {
	defer w.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	w.log.Info("watching for changes")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if abs, err := filepath.Abs(event.Name); err != nil || abs != w.path {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.log.Debug("change detected")
			if err := fn(ctx); err != nil {
				w.log.Error("handler failed", "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// Close stops the watcher without running it.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
