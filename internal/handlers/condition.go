package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// ConditionHandler compares the value under test with an expected value and
// reports the outcome through ConditionResult.
type ConditionHandler struct {
	cel *expressions.CELEngine
}

// NewConditionHandler creates a condition handler. cel may be nil, in which
// case the "expression" condition type fails.
func NewConditionHandler(cel *expressions.CELEngine) *ConditionHandler {
	return &ConditionHandler{cel: cel}
}

func (h *ConditionHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	actual := subjectValue(config, vars)
	expected := config["expectedValue"]
	if s, ok := expected.(string); ok {
		expected = expressions.Render(s, vars)
	}
	conditionType := stringParam(config, "conditionType", "equals")

	var result bool
	switch conditionType {
	case "equals":
		result = looseEqual(actual, expected)
	case "notEquals":
		result = !looseEqual(actual, expected)
	case "contains":
		a, aok := actual.(string)
		e, eok := expected.(string)
		result = aok && eok && strings.Contains(a, e)
	case "changed":
		result = !looseEqual(actual, config["previousValue"])
	case "greaterThan", "lessThan":
		a, aok := expressions.ToFloat(actual)
		e, eok := expressions.ToFloat(expected)
		if aok && eok {
			result = a > e
			if conditionType == "lessThan" {
				result = a < e
			}
		}
	case "isEmpty":
		result = isEmpty(actual)
	case "isNotEmpty":
		result = !isEmpty(actual)
	case "expression":
		expr := stringParam(config, "expression", "")
		if h.cel == nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "condition: expression engine not configured")
		}
		b, err := h.cel.EvaluateBool(ctx, expr, map[string]any{
			"vars":     vars,
			"value":    actual,
			"expected": expected,
			"node":     config,
		})
		if err != nil {
			return schema.Fail(fmt.Sprintf("Condition expression failed: %s", err.Error())), nil
		}
		result = b
	}

	res := schema.Ok(map[string]any{
		"result":         result,
		"actualValue":    actual,
		"expectedValue":  expected,
		"extractedValue": actual,
	})
	res.Message = fmt.Sprintf("Condition evaluated to: %t", result)
	res.ConditionResult = schema.BoolPtr(result)
	return res, nil
}

// subjectValue is the value a branching node inspects: the "field" path when
// configured, extractedValue otherwise.
func subjectValue(config, vars map[string]any) any {
	if field := stringParam(config, "field", ""); field != "" {
		v, _ := expressions.Lookup(vars, field)
		return v
	}
	return vars["extractedValue"]
}

// looseEqual compares numerically when both sides are numeric and by string
// form otherwise, so 18, 18.0 and "18" are equal.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return isEmpty(a) && isEmpty(b)
	}
	af, aok := expressions.ToFloat(a)
	bf, bok := expressions.ToFloat(b)
	if aok && bok {
		return af == bf
	}
	if ab, ok := a.(bool); ok {
		return ab == !isEmpty(b)
	}
	if bb, ok := b.(bool); ok {
		return bb == !isEmpty(a)
	}
	return expressions.Stringify(a) == expressions.Stringify(b)
}
