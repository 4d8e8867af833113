package tool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/reagent/core"
)

// ErrRegistryFrozen is returned when registering into a frozen registry.
var ErrRegistryFrozen = errors.New("tool registry is frozen")

// Registry maps tool names to tools. Names are unique. After Freeze the
// registry is read-only and safe for concurrent lookups.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	frozen bool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	if err := r.Register(tools...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds tools. A name clash (with an existing tool or within tools)
// fails with core.ErrDuplicateTool and registers nothing.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}

	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return ErrMissingName
		}
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("%w: %s", core.ErrDuplicateTool, name)
		}
		if _, exists := seen[name]; exists {
			return fmt.Errorf("%w: %s", core.ErrDuplicateTool, name)
		}
		seen[name] = struct{}{}
	}

	for _, t := range tools {
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}

	return nil
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Tools returns the tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns the provider declarations in registration order.
func (r *Registry) Definitions() []core.ToolDefinition {
	tools := r.Tools()
	defs := make([]core.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, Definition(t))
	}
	return defs
}
