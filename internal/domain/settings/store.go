package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Store is the key-value backing store for the settings blob.
type Store interface {
	// Load returns the persisted blob, or nil when nothing was saved yet.
	Load() ([]byte, error)
	// Save persists the blob.
	Save(data []byte) error
	// Watch registers a callback for external changes to the blob. The
	// returned stop function releases the watch.
	Watch(onChange func(data []byte)) (stop func(), err error)
}

// FileStore persists the settings blob as a JSON file and watches it with
// fsnotify, so edits made by the extension's options UI show up as external
// change notifications.
type FileStore struct {
	path string

	mu     sync.Mutex
	saving bool
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the blob. A missing file is not an error; it returns nil.
func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	return data, nil
}

// Save writes the blob atomically (write temp file, rename over).
func (s *FileStore) Save(data []byte) error {
	s.mu.Lock()
	s.saving = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}

// Watch reports external writes to the settings file. Writes made through
// Save are suppressed so the service doesn't reload its own updates.
func (s *FileStore) Watch(onChange func(data []byte)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	// Watch the directory: editors and atomic renames replace the inode.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("creating settings dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching settings dir: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				s.mu.Lock()
				own := s.saving
				s.mu.Unlock()
				if own {
					continue
				}
				data, err := s.Load()
				if err != nil || data == nil {
					continue
				}
				onChange(data)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
