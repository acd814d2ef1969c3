package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const fileExt = ".json"

// FileBackend stores one JSON file per key under root. Writes go through a
// temporary file and a rename so readers never see partial data.
type FileBackend struct {
	root     string
	fileMode os.FileMode
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileBackend creates root if needed.
func NewFileBackend(root string, logger *slog.Logger) (*FileBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: file backend root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBackend{root: abs, fileMode: 0o600, logger: logger}, nil
}

// Root returns the absolute storage directory.
func (f *FileBackend) Root() string { return f.root }

func (f *FileBackend) path(key string) (string, error) {
	if err := ValidKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.root, key+fileExt), nil
}

func (f *FileBackend) Read(key string) ([]byte, error) {
	full, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FileBackend) Write(key string, data []byte) error {
	full, err := f.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.root, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Chmod(f.fileMode); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, full); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

func (f *FileBackend) Delete(key string) error {
	full, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Notify watches root and reports every key whose file was created,
// written, renamed or removed, whichever process made the change.
func (f *FileBackend) Notify(fn func(key string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return errors.New("storage: file backend already watched")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(f.root); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", f.root, err)
	}
	f.watcher = w
	f.done = make(chan struct{})
	f.wg.Add(1)
	go f.loop(w, f.done, fn)
	return nil
}

func (f *FileBackend) loop(w *fsnotify.Watcher, done <-chan struct{}, fn func(string)) {
	defer f.wg.Done()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if key, ok := keyFromPath(ev.Name); ok {
				fn(key)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Warn("storage: watcher error", "root", f.root, "error", err)
		}
	}
}

func keyFromPath(p string) (string, bool) {
	base := filepath.Base(p)
	if strings.HasPrefix(base, ".") || filepath.Ext(base) != fileExt {
		return "", false
	}
	key := strings.TrimSuffix(base, fileExt)
	return key, ValidKey(key) == nil
}

// Close stops the watcher.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	w, done := f.watcher, f.done
	f.watcher, f.done = nil, nil
	f.mu.Unlock()
	if w == nil {
		return nil
	}
	close(done)
	err := w.Close()
	f.wg.Wait()
	return err
}
