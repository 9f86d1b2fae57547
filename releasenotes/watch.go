package releasenotes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch caches directory listings until ctx is done, dropping the cache
// whenever anything under the root or a locale directory changes.
func (r *Reader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := r.addDirs(w); err != nil {
		return err
	}

	r.mu.Lock()
	r.watching = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.watching = false
		r.generation++
		r.listings = make(map[string][]string)
		r.mu.Unlock()
	}()

	slog.Info("Watching release notes", "root", r.root)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			slog.Debug("Release notes changed", "path", ev.Name, "op", ev.Op.String())
			r.invalidate()
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						slog.Warn("Failed to watch directory", "path", ev.Name, "error", err)
					}
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Release notes watcher error", "error", err)
			r.invalidate()
		}
	}
}

func (r *Reader) addDirs(w *fsnotify.Watcher) error {
	if err := w.Add(r.root); err != nil {
		return fmt.Errorf("watching %s: %w", r.root, err)
	}
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("reading %s: %w", r.root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(r.root, e.Name())
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return nil
}

func (r *Reader) invalidate() {
	r.mu.Lock()
	r.generation++
	r.listings = make(map[string][]string)
	r.mu.Unlock()
}
