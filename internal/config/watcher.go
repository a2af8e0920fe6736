package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent is one watched-file change notification.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher watches config.json and device-tokens.json for changes so the
// daemon can hot-reload without a restart.
type Watcher struct {
	stateDir string
	logger   *slog.Logger
	events   chan ReloadEvent
}

// NewWatcher builds a Watcher rooted at stateDir (typically ~/.flux).
func NewWatcher(stateDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		stateDir: stateDir,
		logger:   logger,
		events:   make(chan ReloadEvent, 16),
	}
}

// Events returns the channel of reload notifications.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching. The channel is closed when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	files := []string{
		filepath.Join(w.stateDir, "config.json"),
		filepath.Join(w.stateDir, "device-tokens.json"),
	}
	for _, file := range files {
		_ = fsw.Add(file)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
