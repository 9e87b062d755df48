package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EnvironmentsWatcher watches the environments file and delivers
// re-parsed declarations on change. Rapid successive writes are
// debounced so editors that write in multiple steps trigger one
// reload.
type EnvironmentsWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEnvironmentsWatcher creates a watcher for the given file.
func NewEnvironmentsWatcher(path string, debounce time.Duration) (*EnvironmentsWatcher, error) {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &EnvironmentsWatcher{
		path:     path,
		watcher:  watcher,
		logger:   slog.Default().With("component", "config.watcher"),
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks, delivering each successfully parsed revision of the
// environments file to onReload, until the context is cancelled or
// Stop is called. A revision that fails to parse is logged and
// skipped; the previous declarations stay in effect.
func (w *EnvironmentsWatcher) Watch(ctx context.Context, onReload func([]EnvironmentConfig) error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	w.logger.Info("environments watcher started", "path", w.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("environments watcher stopped", "reason", "context cancelled")
			return nil

		case <-w.stopCh:
			w.logger.Info("environments watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			w.logger.Debug("environments file event", "path", event.Name, "op", event.Op.String())

			// Some editors replace the file, which removes the watch.
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				_ = w.watcher.Add(w.path)
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Stop()
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload(onReload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("environments watcher error", "error", err)
		}
	}
}

func (w *EnvironmentsWatcher) reload(onReload func([]EnvironmentConfig) error) {
	envs, err := LoadEnvironmentsFile(w.path)
	if err != nil {
		w.logger.Error("environments reload failed", "error", err)
		return
	}
	if err := onReload(envs); err != nil {
		w.logger.Error("environments reload rejected", "error", err)
		return
	}
	w.logger.Info("environments reloaded", "count", len(envs))
}

// Stop stops the watcher and waits for Watch to return.
func (w *EnvironmentsWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}
