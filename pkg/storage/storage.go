// Package storage persists JSON values under string keys and notifies
// subscribers when a key changes, including changes made by other processes
// when the backend can observe them.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

var (
	// ErrNotFound reports a missing key.
	ErrNotFound   = errors.New("storage: key not found")
	ErrInvalidKey = errors.New("storage: invalid key")
	ErrClosed     = errors.New("storage: closed")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidKey reports whether key can be stored by every backend.
func ValidKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Backend is the raw key/value persistence layer.
type Backend interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Delete(key string) error
	Close() error
}

// Notifier is implemented by backends that observe changes themselves,
// including writes from other processes. The store then relies on the
// backend for all notifications.
type Notifier interface {
	Notify(fn func(key string)) error
}

// Change describes a key update delivered to subscribers.
type Change struct {
	Key     string
	Data    []byte
	Deleted bool
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store wraps a Backend with change notifications.
type Store struct {
	backend Backend
	logger  *slog.Logger
	remote  bool

	mu     sync.RWMutex
	subs   map[string]map[int]func(Change)
	nextID int
	closed bool
}

// NewStore builds a store over backend.
func NewStore(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("storage: backend is nil")
	}
	s := &Store{backend: backend, logger: slog.Default(), subs: map[string]map[int]func(Change){}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if n, ok := backend.(Notifier); ok {
		if err := n.Notify(s.observed); err != nil {
			return nil, fmt.Errorf("storage: watch backend: %w", err)
		}
		s.remote = true
	}
	return s, nil
}

// Get returns the raw value stored under key or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.backend.Read(key)
}

// Set stores data under key.
func (s *Store) Set(key string, data []byte) error {
	if err := ValidKey(key); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.backend.Write(key, data); err != nil {
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if !s.remote {
		s.publish(Change{Key: key, Data: append([]byte(nil), data...)})
	}
	return nil
}

// Clear removes key. Clearing a missing key is not an error.
func (s *Store) Clear(key string) error {
	if err := ValidKey(key); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.backend.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	if !s.remote {
		s.publish(Change{Key: key, Deleted: true})
	}
	return nil
}

// Subscribe registers fn for changes to key and returns a cancel function.
// Callbacks run synchronously on the goroutine that observed the change.
func (s *Store) Subscribe(key string, fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	if s.subs[key] == nil {
		s.subs[key] = map[int]func(Change){}
	}
	s.subs[key][id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[key], id)
			if len(s.subs[key]) == 0 {
				delete(s.subs, key)
			}
		})
	}
}

// Close releases the backend. Subscribers receive nothing afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = map[string]map[int]func(Change){}
	s.mu.Unlock()
	return s.backend.Close()
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// observed handles a change reported by a Notifier backend.
func (s *Store) observed(key string) {
	data, err := s.backend.Read(key)
	switch {
	case errors.Is(err, ErrNotFound):
		s.publish(Change{Key: key, Deleted: true})
	case err != nil:
		s.logger.Warn("storage: read changed key", "key", key, "error", err)
	default:
		s.publish(Change{Key: key, Data: data})
	}
}

func (s *Store) publish(c Change) {
	s.mu.RLock()
	fns := make([]func(Change), 0, len(s.subs[c.Key]))
	for _, fn := range s.subs[c.Key] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}
