package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// ReloadFunc receives a freshly loaded configuration
type ReloadFunc func(*Config) error

// Watcher reloads a config file whenever it changes on disk
type Watcher struct {
	path           string
	watcher        *fsnotify.Watcher
	logger         hclog.Logger
	onReload       ReloadFunc
	debouncePeriod time.Duration

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher watches the directory holding path so that editors which
// replace the file on save are still observed.
func NewWatcher(path string, logger hclog.Logger, onReload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory for %s: %w", abs, err)
	}

	return &Watcher{
		path:           abs,
		watcher:        fw,
		logger:         logger.Named("config-watcher"),
		onReload:       onReload,
		debouncePeriod: 250 * time.Millisecond,
	}, nil
}

// Run processes file events until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("config change detected", "op", event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed", "path", w.path, "error", err)
		return
	}
	if err := w.onReload(cfg); err != nil {
		w.logger.Warn("config reload rejected", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
}
