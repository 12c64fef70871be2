package expressions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"
	"github.com/rendis/flowgraph/pkg/schema"
)

// GoJQEngine runs jq programs. The parsejson node uses it when a path is
// written as a jq program (".items[0].id").
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs a jq program against data.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.Query(ctx, expression, data)
}

// Query runs a jq program against an arbitrary JSON-compatible input.
// Zero outputs yield nil, one output is returned as is, several are
// collected into a []any.
func (e *GoJQEngine) Query(ctx context.Context, expression string, input any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.cache.get(expression, compileJQ)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(input))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, evalError("jq", expression, err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, compileError("jq", expression, err)
	}
	// No $ENV access from diagrams.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, compileError("jq", expression, err)
	}
	return code, nil
}

// normalizeForJQ converts Go values into the types gojq accepts. Values of
// other types (typed slices, structs) are round-tripped through JSON.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case nil, bool, string, float64, int:
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	case json.Number:
		f, _ := val.Float64()
		return f
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return v
		}
		return out
	}
}

var _ Engine = (*GoJQEngine)(nil)
