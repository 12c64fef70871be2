package validation

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/flowgraph/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const diagramSchemaURL = "https://flowgraph.dev/schemas/diagram.json"

//go:embed schemas/diagram.schema.json
var diagramSchemaJSON []byte

// JSONSchemaValidator checks diagram documents and run variables against
// JSON Schema (Draft 2020-12). Safe for concurrent use.
type JSONSchemaValidator struct {
	diagramSchema *jsonschema.Schema

	// input schemas compiled on demand, keyed by content hash
	inputs sync.Map
}

func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	compiled, err := compileSchema(diagramSchemaURL, diagramSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("diagram schema: %w", err)
	}
	return &JSONSchemaValidator{diagramSchema: compiled}, nil
}

// ValidateDiagram checks an already decoded diagram.
func (v *JSONSchemaValidator) ValidateDiagram(d *schema.Diagram) error {
	if d == nil {
		return schema.NewError(schema.ErrCodeValidation, "diagram is nil")
	}
	doc, err := toJSONValue(d)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize diagram").WithCause(err)
	}
	return v.check(v.diagramSchema, doc)
}

// ValidateRaw checks an encoded JSON diagram before it is decoded.
func (v *JSONSchemaValidator) ValidateRaw(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "diagram is not valid JSON").WithCause(err)
	}
	return v.check(v.diagramSchema, doc)
}

// ValidateInput checks run variables against inputSchema. An empty schema
// accepts anything.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}
	compiled, err := v.inputSchema(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	if input == nil {
		input = map[string]any{}
	}
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}
	return v.check(compiled, doc)
}

func (v *JSONSchemaValidator) check(s *jsonschema.Schema, doc any) error {
	if err := s.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) inputSchema(raw []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])
	if cached, ok := v.inputs.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := compileSchema("flowgraph://input-schema/"+key, raw)
	if err != nil {
		return nil, err
	}
	actual, _ := v.inputs.LoadOrStore(key, compiled)
	return actual.(*jsonschema.Schema), nil
}

func compileSchema(url string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// toJSONValue round-trips v through JSON so numbers become json.Number,
// which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr, nil)
	fe := schema.NewError(schema.ErrCodeValidation, verr.Error())
	switch n := len(violations); {
	case n == 1:
		fe.Message = violations[0]
	case n > 1:
		fe.Message = fmt.Sprintf("validation failed with %d errors", n)
	}
	if len(violations) > 0 {
		fe.WithDetails(map[string]any{"violations": violations})
	}
	return fe
}

// collectViolations appends the leaf messages of a ValidationError tree,
// each prefixed with its instance location.
func collectViolations(verr *jsonschema.ValidationError, out []string) []string {
	if len(verr.Causes) == 0 {
		return append(out, fmt.Sprintf("/%s: %s", strings.Join(verr.InstanceLocation, "/"), verr.Error()))
	}
	for _, cause := range verr.Causes {
		out = collectViolations(cause, out)
	}
	return out
}
