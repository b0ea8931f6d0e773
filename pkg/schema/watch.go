package schema

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a registry when YAML files in a directory change.
type Watcher struct {
	registry *Registry
	dir      string
	base     fs.FS
	debounce time.Duration
	logger   *slog.Logger
	onReload func(error)
}

// NewWatcher watches dir; base is the layer loaded underneath it (usually DefaultFS).
func NewWatcher(registry *Registry, base fs.FS, dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		registry: registry,
		dir:      dir,
		base:     base,
		debounce: 300 * time.Millisecond,
		logger:   logger,
	}
}

// OnReload registers a callback invoked after every reload attempt.
func (w *Watcher) OnReload(fn func(error)) { w.onReload = fn }

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watching schema directory", "dir", w.dir)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isSchemaFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("schema watcher error", "err", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	err := w.registry.Reload(w.base, os.DirFS(w.dir))
	if err != nil {
		w.logger.Error("❌ schema reload failed, keeping previous declarations", "dir", w.dir, "err", err)
	} else {
		w.logger.Info("✅ schemas reloaded", "dir", w.dir, "variants", len(w.registry.Variants()))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

func isSchemaFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
