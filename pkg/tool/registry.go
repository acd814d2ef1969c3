package tool

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cexll/chatstream-go/pkg/model"
)

var (
	ErrNilTool     = errors.New("tool is nil")
	ErrEmptyName   = errors.New("tool name is empty")
	ErrInvalidName = errors.New("tool name has surrounding whitespace")
	ErrDuplicate   = errors.New("tool already registered")
	ErrNotFound    = errors.New("tool not found")
)

// Registry holds the tools a client can offer to a model.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
	order []string
}

// NewRegistry registers the given descriptors in order.
func NewRegistry(tools ...*Descriptor) (*Registry, error) {
	r := &Registry{tools: map[string]*Descriptor{}}
	for _, d := range tools {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a descriptor. Its schema is resolved eagerly so broken
// schemas fail here instead of at call time.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return ErrNilTool
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return ErrEmptyName
	}
	// Declarations and call matching use d.Name as is.
	if name != d.Name {
		return fmt.Errorf("%w: %q", ErrInvalidName, d.Name)
	}
	if _, err := d.resolve(); err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.tools[name] = d
	r.order = append(r.order, name)
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// List returns all tools in registration order.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Resolve maps enabled tool names to descriptors, dropping unknown names and
// duplicates while keeping the requested order.
func (r *Registry) Resolve(names []string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(names))
	out := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		d, ok := r.tools[name]
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Declarations renders tools for a completion request.
func Declarations(tools []*Descriptor) []model.ToolDeclaration {
	if len(tools) == 0 {
		return nil
	}
	out := make([]model.ToolDeclaration, len(tools))
	for i, d := range tools {
		out[i] = d.Declaration()
	}
	return out
}

// Find returns the descriptor named name within tools.
func Find(tools []*Descriptor, name string) (*Descriptor, bool) {
	for _, d := range tools {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}
