package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ChangeHandler is called with the previous and the reloaded configuration
type ChangeHandler func(old, updated *Config)

// Watcher reloads the configuration file when it changes on disk.
// An invalid file keeps the previous configuration.
type Watcher struct {
	path     string
	current  *Config
	handlers []ChangeHandler
	debounce time.Duration
	logger   *zap.Logger
	mu       sync.RWMutex
}

func NewWatcher(path string, initial *Config, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: path, current: initial, debounce: 200 * time.Millisecond, logger: logger}
}

// OnChange registers a handler for successful reloads
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Current returns the active configuration
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload re-reads the file and notifies handlers
func (w *Watcher) Reload() error {
	updated, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	old := w.current
	w.current = updated
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	for _, h := range handlers {
		h(old, updated)
	}
	w.logger.Info("Configuration reloaded", zap.String("path", w.path))
	return nil
}

// Run watches the config directory until ctx is done. Editors that replace
// the file are handled by watching the directory rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(w.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Warn("Configuration reload rejected; keeping previous", zap.String("path", w.path), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Config watcher error", zap.Error(err))
		}
	}
}

// LevelUpdater applies logging.level changes to an atomic zap level
func LevelUpdater(level zap.AtomicLevel, logger *zap.Logger) ChangeHandler {
	return func(old, updated *Config) {
		if old != nil && old.Logging.Level == updated.Logging.Level {
			return
		}
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(updated.Logging.Level)); err != nil {
			logger.Warn("Ignoring invalid log level", zap.String("level", updated.Logging.Level))
			return
		}
		level.SetLevel(l)
		logger.Info("Log level changed", zap.String("level", l.String()))
	}
}
