package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/flowgraph/pkg/schema"
)

// ExprEngine backs the calculation node: arithmetic, ternaries and builtins
// such as round, abs, min and max.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with data as the environment. Programs are
// compiled untyped, so one cached program serves variables of any shape.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prg, err := e.cache.get(expression, compileExpr)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, evalError("expr", expression, err)
	}
	return out, nil
}

func compileExpr(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, compileError("expr", expression, err)
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
