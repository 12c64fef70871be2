package validation

import "github.com/rendis/flowgraph/pkg/schema"

// Validator checks diagrams before they run.
// Initial variables may additionally be checked against a JSON Schema (Draft 2020-12).
type Validator interface {
	ValidateDiagram(d *schema.Diagram) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// TypeLookup reports whether a node type resolves to a handler.
// *handlers.Registry satisfies it.
type TypeLookup interface {
	Has(nodeType string) bool
}
