package schema

import (
	"strings"
	"sync"
)

// Node is a typed step of a diagram. Data holds handler-specific configuration.
type Node struct {
	ID   string         `json:"id" yaml:"id"`
	Type string         `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Label returns the human readable name of the node: data.label, then
// data.customTitle, then the node type.
func (n Node) Label() string {
	for _, key := range []string{"label", "customTitle"} {
		if s, ok := n.Data[key].(string); ok && s != "" {
			return s
		}
	}
	return n.Type
}

// Edge is a directed connection. A nil SourceHandle means an unconditional edge.
type Edge struct {
	ID           string  `json:"id,omitempty" yaml:"id,omitempty"`
	Source       string  `json:"source" yaml:"source"`
	Target       string  `json:"target" yaml:"target"`
	SourceHandle *string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle *string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Handle returns the source handle or "" when absent.
func (e Edge) Handle() string {
	if e.SourceHandle == nil {
		return ""
	}
	return *e.SourceHandle
}

// Diagram is a directed graph of nodes and edges representing one workflow.
// Nodes and Edges must not be modified once the diagram is handed to an engine.
type Diagram struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	TriggerCode string `json:"triggerCode,omitempty" yaml:"triggerCode,omitempty"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`
	Edges       []Edge `json:"edges" yaml:"edges"`

	// InputSchema is an optional JSON Schema the initial variables must satisfy.
	InputSchema map[string]any `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`

	once  sync.Once
	index *diagramIndex
}

type diagramIndex struct {
	byID     map[string]int
	outgoing map[string][]Edge
	incoming map[string][]Edge
}

func (d *Diagram) idx() *diagramIndex {
	d.once.Do(func() {
		ix := &diagramIndex{
			byID:     make(map[string]int, len(d.Nodes)),
			outgoing: make(map[string][]Edge),
			incoming: make(map[string][]Edge),
		}
		for i, n := range d.Nodes {
			if _, dup := ix.byID[n.ID]; !dup {
				ix.byID[n.ID] = i
			}
		}
		for _, e := range d.Edges {
			ix.outgoing[e.Source] = append(ix.outgoing[e.Source], e)
			ix.incoming[e.Target] = append(ix.incoming[e.Target], e)
		}
		d.index = ix
	})
	return d.index
}

// Node looks up a node by id.
func (d *Diagram) Node(id string) (*Node, bool) {
	i, ok := d.idx().byID[id]
	if !ok {
		return nil, false
	}
	return &d.Nodes[i], true
}

// HasNode reports whether a node with the given id exists.
func (d *Diagram) HasNode(id string) bool {
	_, ok := d.idx().byID[id]
	return ok
}

// Outgoing returns the edges leaving id in declaration order.
func (d *Diagram) Outgoing(id string) []Edge {
	return d.idx().outgoing[id]
}

// Incoming returns the edges entering id in declaration order.
func (d *Diagram) Incoming(id string) []Edge {
	return d.idx().incoming[id]
}

// StartNodes returns the nodes with no incoming edge, in declaration order.
func (d *Diagram) StartNodes() []Node {
	ix := d.idx()
	var out []Node
	for _, n := range d.Nodes {
		if len(ix.incoming[n.ID]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// NormalizeType lower-cases a node type and strips separators so that
// "switch-case", "SwitchCase" and "switch_case" compare equal.
func NormalizeType(t string) string {
	var b strings.Builder
	b.Grow(len(t))
	for _, r := range strings.ToLower(strings.TrimSpace(t)) {
		switch r {
		case '-', '_', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsAnnotation reports whether a node is a documentation-only node that the
// engine skips without invoking a handler.
func IsAnnotation(n Node) bool {
	switch NormalizeType(n.Type) {
	case "comment", "sticker", "commentnode", "stickernode":
		return true
	}
	if b, ok := n.Data["isComment"].(bool); ok && b {
		return true
	}
	if s, ok := n.Data["selectedEmoji"].(string); ok && s != "" {
		return true
	}
	if s, ok := n.Data["customTitle"].(string); ok && s == "Comment" {
		return true
	}
	return false
}

// StrPtr returns a pointer to s. Handy for building edge handles.
func StrPtr(s string) *string {
	return &s
}
