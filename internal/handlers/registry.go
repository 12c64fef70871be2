package handlers

import (
	"sort"
	"sync"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Tier tells where a registered handler came from.
type Tier string

const (
	TierCustom  Tier = "custom"
	TierBuiltin Tier = "builtin"
)

// Info is a summary of a registered handler for listing.
type Info struct {
	Type string `json:"type"`
	Tier Tier   `json:"tier"`
}

// Registry maps normalized node types to handlers. Custom handlers shadow
// built-ins registered under the same key. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	custom  map[string]Handler
	builtin map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		custom:  make(map[string]Handler),
		builtin: make(map[string]Handler),
	}
}

// Register adds a custom handler. Returns error on nil handler, empty type or
// a duplicate custom registration.
func (r *Registry) Register(nodeType string, h Handler) error {
	return r.register(r.custom, nodeType, h)
}

// RegisterBuiltin adds a built-in handler.
func (r *Registry) RegisterBuiltin(nodeType string, h Handler) error {
	return r.register(r.builtin, nodeType, h)
}

func (r *Registry) register(tier map[string]Handler, nodeType string, h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	key := schema.NormalizeType(nodeType)
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "node type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := tier[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for node type %q already registered", nodeType)
	}
	tier[key] = h
	return nil
}

// Alias makes alias resolve to the handler registered for target.
func (r *Registry) Alias(alias, target string) error {
	r.mu.RLock()
	h, tier, ok := r.lookup(schema.NormalizeType(target))
	r.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "cannot alias %q: node type %q not registered", alias, target)
	}
	if tier == TierCustom {
		return r.Register(alias, h)
	}
	return r.RegisterBuiltin(alias, h)
}

// Resolve returns the handler for a node type: custom first, then built-in.
func (r *Registry) Resolve(nodeType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, _, ok := r.lookup(schema.NormalizeType(nodeType)); ok {
		return h, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "unknown node type %q", nodeType)
}

func (r *Registry) lookup(key string) (Handler, Tier, bool) {
	if h, ok := r.custom[key]; ok {
		return h, TierCustom, true
	}
	if h, ok := r.builtin[key]; ok {
		return h, TierBuiltin, true
	}
	return nil, "", false
}

// Has checks if a node type resolves to a handler.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, _, ok := r.lookup(schema.NormalizeType(nodeType))
	return ok
}

// Count returns the number of resolvable node types.
func (r *Registry) Count() int {
	return len(r.List())
}

// List returns every resolvable type, sorted. A type present in both tiers is
// reported once as custom.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.custom)+len(r.builtin))
	for k := range r.custom {
		infos = append(infos, Info{Type: k, Tier: TierCustom})
	}
	for k := range r.builtin {
		if _, shadowed := r.custom[k]; shadowed {
			continue
		}
		infos = append(infos, Info{Type: k, Tier: TierBuiltin})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}
