package provider

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/model/demo"
)

var (
	ErrNoProvider = errors.New("no provider selected")
	ErrNoAPIKey   = errors.New("no api key provided")
	ErrNoModel    = errors.New("no chat model selected")
)

// APIKey is a named credential saved for a provider.
type APIKey struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Created string `json:"created"`
}

// State is the persisted provider selection. Methods return modified copies.
type State struct {
	ProviderID         string              `json:"providerId"`
	Model              *model.ChatModel    `json:"model,omitempty"`
	APIKey             string              `json:"apiKey"`
	APIKeysPerProvider map[string][]APIKey `json:"apiKeysPerProvider"`
}

// DefaultState selects the demo provider and model.
func DefaultState() State {
	m := demo.ChatModel
	return State{ProviderID: DemoID, Model: &m, APIKeysPerProvider: map[string][]APIKey{}}
}

func (s State) clone() State {
	out := s
	if s.Model != nil {
		m := *s.Model
		out.Model = &m
	}
	out.APIKeysPerProvider = make(map[string][]APIKey, len(s.APIKeysPerProvider))
	for id, keys := range s.APIKeysPerProvider {
		out.APIKeysPerProvider[id] = append([]APIKey(nil), keys...)
	}
	return out
}

// WithProvider switches provider, clearing model and active key when the
// provider changes.
func (s State) WithProvider(id string) State {
	if s.ProviderID == id {
		return s
	}
	out := s.clone()
	out.ProviderID = id
	out.Model = nil
	out.APIKey = ""
	return out
}

// WithModel selects a model.
func (s State) WithModel(m model.ChatModel) State {
	out := s.clone()
	out.Model = &m
	return out
}

// WithAPIKey sets the active key.
func (s State) WithAPIKey(key string) State {
	out := s.clone()
	out.APIKey = key
	return out
}

// WithSavedKey stores a named key for providerID, activating it if enable is
// set.
func (s State) WithSavedKey(providerID, name, key string, enable bool, now time.Time) State {
	out := s.clone()
	if enable {
		out.APIKey = key
	}
	out.APIKeysPerProvider[providerID] = append(out.APIKeysPerProvider[providerID], APIKey{
		Key:     key,
		Name:    name,
		Created: now.UTC().Format(time.RFC3339Nano),
	})
	return out
}

// WithoutKey removes key from providerID and clears the active key.
func (s State) WithoutKey(providerID, key string) State {
	out := s.clone()
	out.APIKey = ""
	if _, ok := out.APIKeysPerProvider[providerID]; !ok {
		return out
	}
	kept := out.APIKeysPerProvider[providerID][:0]
	for _, k := range out.APIKeysPerProvider[providerID] {
		if k.Key != key {
			kept = append(kept, k)
		}
	}
	out.APIKeysPerProvider[providerID] = kept
	return out
}

// Keys returns the keys saved for providerID.
func (s State) Keys(providerID string) []APIKey {
	return append([]APIKey(nil), s.APIKeysPerProvider[providerID]...)
}

// ModelID returns the selected model id or "".
func (s State) ModelID() string {
	if s.Model == nil {
		return ""
	}
	return s.Model.ID
}

// Problem reports why s cannot start a turn, or nil.
func (r *Registry) Problem(s State) error {
	if strings.TrimSpace(s.ProviderID) == "" {
		return ErrNoProvider
	}
	p := r.Lookup(s.ProviderID)
	if p.RequiresAPIKey && strings.TrimSpace(s.APIKey) == "" {
		return ErrNoAPIKey
	}
	if s.ModelID() == "" {
		return ErrNoModel
	}
	return nil
}

// ProviderIDs lists providers that have saved keys, sorted.
func (s State) ProviderIDs() []string {
	return slices.Sorted(maps.Keys(s.APIKeysPerProvider))
}
