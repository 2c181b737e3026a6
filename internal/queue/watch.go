package queue

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn with the pending tasks once immediately and again after every
// change to the queue file, until ctx is done. The directory is watched rather
// than the file because MarkResolved replaces the file by rename.
func (s *Store) Watch(ctx context.Context, fn func([]Task)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("queue: watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("queue: watch %s: %w", filepath.Dir(s.path), err)
	}

	notify := func() {
		pending, err := s.Pending()
		if err != nil {
			slog.Warn("queue: watch read failed", "error", err)
			return
		}
		fn(pending)
	}
	notify()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("queue: watcher error", "error", err)
		}
	}
}
