package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/rendis/flowgraph/pkg/schema"
)

// celVariables are the top-level names visible to condition expressions.
var celVariables = []string{"vars", "value", "expected", "node"}

// CELEngine evaluates condition node expressions such as
// `vars.age >= 18 && value != ""`. Safe for concurrent use.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a new CEL expression engine with a sandboxed environment.
// The environment exposes:
//   - vars:     map(string, dyn), the run variables
//   - value:    dyn, the value under test (extractedValue or the configured field)
//   - expected: dyn, the configured expected value
//   - node:     map(string, dyn), the node's own data
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("vars", mapType),
		cel.Variable("value", cel.DynType),
		cel.Variable("expected", cel.DynType),
		cel.Variable("node", mapType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: newProgramCache[cel.Program](),
	}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs a CEL expression. Keys of data that match the declared
// variables are bound; the rest is ignored.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, evalError("CEL", expression, err)
	}

	return out.Value(), nil
}

// EvaluateBool evaluates an expression that must produce a boolean.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL expression %q returned %T, expected bool", expression, out)
	}
	return b, nil
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	return e.cache.get(expression, e.compile)
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, compileError("CEL", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, compileError("CEL", expression, err)
	}
	return prg, nil
}

// buildActivation binds every declared variable. Missing maps default to empty
// maps and missing scalars to null so lookups fail with a clear message instead
// of an unbound-variable error.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(celVariables))
	for _, key := range celVariables {
		v, ok := data[key]
		switch {
		case ok && v != nil:
			activation[key] = v
		case key == "vars" || key == "node":
			activation[key] = map[string]any{}
		default:
			activation[key] = nil
		}
	}
	return activation
}
