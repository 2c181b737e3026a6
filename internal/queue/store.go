// Package queue implements the durable task queue: an append-only markdown
// file of task blocks shared with external workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/larkbridge/pkg/protocol"
)

const (
	defaultDirPerm  os.FileMode = 0o755
	defaultFilePerm os.FileMode = 0o644
)

// Store is the queue file. Mutations hold an in-process mutex and an advisory
// lock on a sibling ".lock" file so separate processes serialize as well.
type Store struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// Open returns a Store for path, creating the file with its header if absent.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("queue: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("queue: resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), defaultDirPerm); err != nil {
		return nil, fmt.Errorf("queue: create dir: %w", err)
	}

	s := &Store{path: abs, lockPath: abs + ".lock"}
	err = s.withLock(context.Background(), func() error {
		f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, defaultFilePerm)
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteString(protocol.QueueHeader)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("queue: init %s: %w", abs, err)
	}
	return s, nil
}

// Path returns the absolute queue file path.
func (s *Store) Path() string { return s.path }

// AppendIfAbsent appends t unless a block with the same key already exists.
// The block is written with a single write call on an O_APPEND descriptor.
func (s *Store) AppendIfAbsent(ctx context.Context, t Task) (AppendResult, error) {
	if err := t.validate(); err != nil {
		return Appended, err
	}

	result := Appended
	err := s.withLock(ctx, func() error {
		data, err := s.read()
		if err != nil {
			return err
		}
		if _, ok := findBlock(parseBlocks(data), t.Key); ok {
			result = Duplicate
			return nil
		}

		t.Resolved = false
		block := encodeBlock(t)
		switch {
		case len(data) == 0:
			block = append([]byte(protocol.QueueHeader), block...)
		case data[len(data)-1] != '\n':
			block = append([]byte("\n"), block...)
		}

		f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, defaultFilePerm)
		if err != nil {
			return fmt.Errorf("open for append: %w", err)
		}
		if _, err := f.Write(block); err != nil {
			f.Close()
			return fmt.Errorf("append block: %w", err)
		}
		return f.Close()
	})
	if err != nil {
		return result, fmt.Errorf("queue: append %s: %w", t.Key, err)
	}
	return result, nil
}

// MarkResolved inserts the resolved marker into key's block. The file is
// replaced atomically; every other byte is preserved. NotFound and
// AlreadyMarked leave the file untouched.
func (s *Store) MarkResolved(ctx context.Context, key string) (MarkResult, error) {
	result := NotFound
	err := s.withLock(ctx, func() error {
		data, err := s.read()
		if err != nil {
			return err
		}
		span, ok := findBlock(parseBlocks(data), key)
		if !ok {
			result = NotFound
			return nil
		}
		if span.Resolved {
			result = AlreadyMarked
			return nil
		}
		if err := writeAtomic(s.path, withResolvedMarker(data, span)); err != nil {
			return err
		}
		result = Marked
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("queue: mark %s: %w", key, err)
	}
	return result, nil
}

// IsResolved reports whether key's block carries the resolved marker.
// Unknown keys are not resolved.
func (s *Store) IsResolved(key string) (bool, error) {
	t, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	return t.Resolved, nil
}

// Get returns the task stored under key.
func (s *Store) Get(key string) (Task, bool, error) {
	data, err := s.read()
	if err != nil {
		return Task{}, false, fmt.Errorf("queue: read: %w", err)
	}
	span, ok := findBlock(parseBlocks(data), key)
	return span.Task, ok, nil
}

// List returns every task in arrival order.
func (s *Store) List() ([]Task, error) {
	data, err := s.read()
	if err != nil {
		return nil, fmt.Errorf("queue: read: %w", err)
	}
	spans := parseBlocks(data)
	tasks := make([]Task, 0, len(spans))
	for _, sp := range spans {
		tasks = append(tasks, sp.Task)
	}
	return tasks, nil
}

// Pending returns unresolved tasks in arrival order.
func (s *Store) Pending() ([]Task, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, t := range all {
		if !t.Resolved {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

func (s *Store) read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withLockFile(ctx, s.lockPath, fn)
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	perm := defaultFilePerm
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			slog.Debug("queue: dir sync failed", "dir", dir, "error", err)
		}
		_ = d.Close()
	}
	return nil
}
