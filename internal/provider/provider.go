// Package provider loads diagrams by id or trigger code for the engine.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Provider resolves diagrams. Missing diagrams are reported as NOT_FOUND.
type Provider interface {
	Load(ctx context.Context, id string) (*schema.Diagram, error)
	LoadByTrigger(ctx context.Context, code string) (*schema.Diagram, error)
}

// MemoryProvider holds diagrams in a map.
type MemoryProvider struct {
	mu        sync.RWMutex
	diagrams  map[string]*schema.Diagram
	byTrigger map[string]string
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		diagrams:  make(map[string]*schema.Diagram),
		byTrigger: make(map[string]string),
	}
}

// Put registers d, replacing any diagram with the same id.
func (p *MemoryProvider) Put(d *schema.Diagram) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.diagrams[d.ID]; ok && old.TriggerCode != "" {
		delete(p.byTrigger, old.TriggerCode)
	}
	p.diagrams[d.ID] = d
	if d.TriggerCode != "" {
		p.byTrigger[d.TriggerCode] = d.ID
	}
}

// Remove deletes the diagram with the given id.
func (p *MemoryProvider) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.diagrams[id]; ok {
		delete(p.byTrigger, d.TriggerCode)
		delete(p.diagrams, id)
	}
}

// IDs returns the registered diagram ids, sorted.
func (p *MemoryProvider) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.diagrams))
	for id := range p.diagrams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *MemoryProvider) Load(_ context.Context, id string) (*schema.Diagram, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.diagrams[id]
	if !ok {
		return nil, notFound("diagram %q not found", id)
	}
	return d, nil
}

func (p *MemoryProvider) LoadByTrigger(ctx context.Context, code string) (*schema.Diagram, error) {
	p.mu.RLock()
	id, ok := p.byTrigger[code]
	p.mu.RUnlock()
	if !ok {
		return nil, notFound("no diagram for trigger code %q", code)
	}
	return p.Load(ctx, id)
}

func notFound(format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, format, args...)
}

var (
	_ Provider               = (*MemoryProvider)(nil)
	_ engine.DiagramProvider = (*MemoryProvider)(nil)
)
