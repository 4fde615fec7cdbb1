package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever the file changes and hands each valid
// new snapshot to onChange. Invalid edits are logged and the running
// config stays in place. Blocks until ctx is done.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file (rename over it) keep triggering.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		return err
	}

	// Editors fire several events per save; coalesce them.
	var debounce *time.Timer
	const settle = 200 * time.Millisecond

	reload := func() {
		cfg, err := m.Load()
		if err != nil {
			slog.Warn("config reload rejected", "path", m.configPath, "error", err)
			return
		}

		slog.Info("config reloaded", "path", m.configPath)
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != filepath.Clean(m.configPath) {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}

			debounce = time.AfterFunc(settle, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			slog.Warn("config watcher error", "error", err)
		}
	}
}
