package validation

import (
	"github.com/rendis/flowgraph/internal/planner"
	"github.com/rendis/flowgraph/pkg/schema"
)

// DiagramValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (ids, edge references, node types, branch handles)
// 3. Plan (start nodes, cycles, isolated nodes)
type DiagramValidator struct {
	jsonSchema *JSONSchemaValidator
	types      TypeLookup
}

// NewDiagramValidator creates a DiagramValidator.
// lookup may be nil to skip node type checks.
func NewDiagramValidator(lookup TypeLookup) (*DiagramValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DiagramValidator{jsonSchema: jsv, types: lookup}, nil
}

// Validate runs the pipeline and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (dv *DiagramValidator) Validate(d *schema.Diagram) *schema.ValidationResult {
	if d == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "diagram is nil")
		return r
	}

	result := validateStructural(dv.jsonSchema, d)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(d, dv.types))
	result.Merge(planner.Validate(d))
	return result
}

// ValidateDiagram satisfies the Validator interface.
func (dv *DiagramValidator) ValidateDiagram(d *schema.Diagram) error {
	return dv.Validate(d).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (dv *DiagramValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return dv.jsonSchema.ValidateInput(input, inputSchema)
}

func validateStructural(v *JSONSchemaValidator, d *schema.Diagram) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDiagram(d)
	if err == nil {
		return result
	}

	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}

var _ Validator = (*DiagramValidator)(nil)
