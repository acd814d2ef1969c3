package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Value is a typed JSON view of one key. Missing or undecodable data reads
// as the default.
type Value[T any] struct {
	store *Store
	key   string
	def   func() T
	mu    sync.Mutex
}

// NewValue binds key in s to type T.
func NewValue[T any](s *Store, key string, def func() T) *Value[T] {
	if def == nil {
		def = func() T {
			var zero T
			return zero
		}
	}
	return &Value[T]{store: s, key: key, def: def}
}

// Key returns the bound key.
func (v *Value[T]) Key() string { return v.key }

// Get decodes the stored value.
func (v *Value[T]) Get() T {
	raw, err := v.store.Get(v.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			v.store.logger.Warn("storage: read value", "key", v.key, "error", err)
		}
		return v.def()
	}
	return v.decode(raw)
}

func (v *Value[T]) decode(raw []byte) T {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		v.store.logger.Warn("storage: decode value", "key", v.key, "error", err)
		return v.def()
	}
	return out
}

// Set replaces the stored value.
func (v *Value[T]) Set(val T) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set(val)
}

func (v *Value[T]) set(val T) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", v.key, err)
	}
	return v.store.Set(v.key, raw)
}

// Update applies fn to the current value and stores the result. Updates
// through the same Value are serialised.
func (v *Value[T]) Update(fn func(T) (T, error)) (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next, err := fn(v.Get())
	if err != nil {
		var zero T
		return zero, err
	}
	if err := v.set(next); err != nil {
		var zero T
		return zero, err
	}
	return next, nil
}

// Clear removes the key so Get returns the default.
func (v *Value[T]) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.Clear(v.key)
}

// Watch calls fn with the decoded value whenever the key changes.
func (v *Value[T]) Watch(fn func(T)) func() {
	return v.store.Subscribe(v.key, func(c Change) {
		if c.Deleted {
			fn(v.def())
			return
		}
		fn(v.decode(c.Data))
	})
}
