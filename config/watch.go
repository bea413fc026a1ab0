package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the file whenever it changes and passes the new
// configuration to onChange. It returns once the watch is established and
// stops when ctx is done. Files that fail to load or validate are logged and
// ignored; the previous configuration stays in effect.
func (s *FileStore) Watch(ctx context.Context, onChange func(*Config) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so atomic replacement is seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go s.watchLoop(ctx, watcher, onChange)
	return nil
}

func (s *FileStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(*Config) error) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				s.reload(onChange)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}

func (s *FileStore) reload(onChange func(*Config) error) {
	cfg, err := s.Load()
	if err != nil {
		slog.Error("Failed to reload config", "path", s.path, "error", err)
		return
	}
	if err := onChange(cfg); err != nil {
		slog.Warn("Config reload rejected", "error", err)
		return
	}
	slog.Info("Config reloaded", "path", s.path)
}
