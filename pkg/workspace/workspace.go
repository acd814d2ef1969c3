// Package workspace keeps the persisted client state: chats, prompt
// templates, settings, enabled tools and the provider selection.
package workspace

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cexll/chatstream-go/pkg/chat"
	"github.com/cexll/chatstream-go/pkg/message"
	"github.com/cexll/chatstream-go/pkg/provider"
	"github.com/cexll/chatstream-go/pkg/storage"
)

// Storage keys.
const (
	KeyChats     = "chats"
	KeyTemplates = "templates"
	KeySettings  = "settings"
	KeyTools     = "tools"
	KeyProvider  = "llm-provider"
)

var (
	ErrChatNotFound     = errors.New("workspace: chat not found")
	ErrTemplateNotFound = errors.New("workspace: template not found")
	ErrPresetTemplate   = errors.New("workspace: preset templates are read-only")
	ErrEmptyName        = errors.New("workspace: name is empty")
)

// Option customises a Workspace.
type Option func(*Workspace)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workspace) {
		if now != nil {
			w.now = now
		}
	}
}

// WithIDGenerator overrides chat, template and message ids.
func WithIDGenerator(fn func() string) Option {
	return func(w *Workspace) {
		if fn != nil {
			w.newID = fn
		}
	}
}

// Workspace is a typed facade over a storage.Store.
type Workspace struct {
	store     *storage.Store
	chats     *storage.Value[[]Chat]
	templates *storage.Value[[]Template]
	settings  *storage.Value[chat.Settings]
	tools     *storage.Value[[]string]
	provider  *storage.Value[provider.State]
	now       func() time.Time
	newID     func() string
}

// New binds a workspace to store.
func New(store *storage.Store, opts ...Option) *Workspace {
	w := &Workspace{
		store:     store,
		chats:     storage.NewValue(store, KeyChats, func() []Chat { return []Chat{} }),
		templates: storage.NewValue(store, KeyTemplates, func() []Template { return []Template{} }),
		settings:  storage.NewValue(store, KeySettings, chat.DefaultSettings),
		tools:     storage.NewValue(store, KeyTools, func() []string { return []string{} }),
		provider:  storage.NewValue(store, KeyProvider, provider.DefaultState),
		now:       time.Now,
		newID:     message.NewID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Store exposes the underlying store.
func (w *Workspace) Store() *storage.Store { return w.store }

// Watch subscribes to raw changes of one workspace key.
func (w *Workspace) Watch(key string, fn func(storage.Change)) func() {
	return w.store.Subscribe(key, fn)
}

// Settings returns the completion settings.
func (w *Workspace) Settings() chat.Settings { return w.settings.Get() }

// SetSettings validates and stores s.
func (w *Workspace) SetSettings(s chat.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return w.settings.Set(s)
}

// EnabledTools returns the enabled tool names.
func (w *Workspace) EnabledTools() []string { return w.tools.Get() }

// SetEnabledTools replaces the enabled tool names, dropping duplicates.
func (w *Workspace) SetEnabledTools(names []string) error {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return w.tools.Set(out)
}

// SetToolEnabled toggles one tool.
func (w *Workspace) SetToolEnabled(name string, enabled bool) ([]string, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	return w.tools.Update(func(cur []string) ([]string, error) {
		cur = slices.DeleteFunc(cur, func(n string) bool { return n == name })
		if enabled {
			cur = append(cur, name)
		}
		return cur, nil
	})
}

// ProviderState returns the provider selection.
func (w *Workspace) ProviderState() provider.State {
	s := w.provider.Get()
	if s.APIKeysPerProvider == nil {
		s.APIKeysPerProvider = map[string][]provider.APIKey{}
	}
	return s
}

// UpdateProvider applies fn to the provider selection and stores the result.
func (w *Workspace) UpdateProvider(fn func(provider.State) provider.State) (provider.State, error) {
	return w.provider.Update(func(cur provider.State) (provider.State, error) {
		if cur.APIKeysPerProvider == nil {
			cur.APIKeysPerProvider = map[string][]provider.APIKey{}
		}
		return fn(cur), nil
	})
}

// Now returns the workspace clock reading.
func (w *Workspace) Now() time.Time { return w.now() }

// ClearData removes chats, settings, custom templates and enabled tools.
// The provider selection and saved keys are kept.
func (w *Workspace) ClearData() error {
	for _, key := range []string{KeyChats, KeySettings, KeyTemplates, KeyTools} {
		if err := w.store.Clear(key); err != nil {
			return fmt.Errorf("workspace: clear %s: %w", key, err)
		}
	}
	return nil
}
