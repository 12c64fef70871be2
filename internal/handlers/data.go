package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// ParseJSONHandler extracts a value from a JSON document held in a variable.
// Paths starting with "." are jq programs; other paths are dot paths.
type ParseJSONHandler struct {
	jq *expressions.GoJQEngine
}

// NewParseJSONHandler creates a parsejson handler.
func NewParseJSONHandler(jq *expressions.GoJQEngine) *ParseJSONHandler {
	if jq == nil {
		jq = expressions.NewGoJQEngine()
	}
	return &ParseJSONHandler{jq: jq}
}

func (h *ParseJSONHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	source := stringParam(config, "sourceVariable", "")
	path := stringParam(config, "jsonPath", "")
	outputKey := stringParam(config, "outputKey", "extractedValue")
	if source == "" || path == "" {
		return schema.Fail("Source variable and JSON path are required"), nil
	}

	doc, ok := vars[source]
	if !ok || isEmpty(doc) {
		return schema.Fail(fmt.Sprintf("Source variable %s not found", source)), nil
	}
	if s, ok := doc.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return schema.Fail(fmt.Sprintf("Source variable %s is not valid JSON: %s", source, err.Error())), nil
		}
		doc = decoded
	}

	var extracted any
	if strings.HasPrefix(path, ".") {
		v, err := h.jq.Query(ctx, path, doc)
		if err != nil {
			return schema.Fail(fmt.Sprintf("JSON path %s failed: %s", path, err.Error())), nil
		}
		extracted = v
	} else {
		extracted, _ = expressions.Extract(doc, path)
	}

	res := schema.Ok(map[string]any{outputKey: extracted, "extractedValue": extracted})
	res.Message = fmt.Sprintf("Extracted %s from %s", path, source)
	return res, nil
}

// CalculationHandler evaluates an arithmetic expression. {{path}} placeholders
// are replaced by numbers before evaluation.
type CalculationHandler struct {
	expr *expressions.ExprEngine
}

// NewCalculationHandler creates a calculation handler.
func NewCalculationHandler(expr *expressions.ExprEngine) *CalculationHandler {
	if expr == nil {
		expr = expressions.NewExprEngine()
	}
	return &CalculationHandler{expr: expr}
}

func (h *CalculationHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	expression := stringParam(config, "expression", "")
	outputVar := stringParam(config, "outputVariable", "calculatedValue")
	if strings.TrimSpace(expression) == "" {
		return schema.Fail("Expression is required"), nil
	}

	rendered := expressions.RenderNumeric(expression, vars)
	out, err := h.expr.Evaluate(ctx, rendered, nil)
	if err != nil {
		return schema.Fail("Calculation failed: " + err.Error()), nil
	}

	f, ok := expressions.ToFloat(out)
	if !ok {
		if b, isBool := out.(bool); isBool {
			f, ok = 0, true
			if b {
				f = 1
			}
		}
	}
	if !ok {
		return schema.Fail(fmt.Sprintf("Calculation failed: result %v is not a number", out)), nil
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return schema.Fail("Calculation failed: Division by zero"), nil
	}
	if p := intParam(config, "precision", -1); p >= 0 {
		pow := math.Pow(10, float64(p))
		f = math.Round(f*pow) / pow
	}

	res := schema.Ok(map[string]any{
		outputVar:             f,
		"extractedValue":      f,
		"originalExpression":  expression,
		"processedExpression": rendered,
	})
	res.Message = fmt.Sprintf("Calculation result: %s", expressions.Stringify(f))
	return res, nil
}
