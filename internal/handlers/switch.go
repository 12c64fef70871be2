package handlers

import (
	"context"
	"fmt"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// SwitchHandler picks a case index for the value under test and reports it
// through SelectedCase. Matching compares string forms.
type SwitchHandler struct{}

func (SwitchHandler) Handle(_ context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	value := subjectValue(config, vars)
	cases := listParam(config, "cases")
	if len(cases) == 0 {
		return schema.Fail("Switch cases are required"), nil
	}

	selected := -1
	want := expressions.Stringify(value)
	for i, c := range cases {
		if boolParam(c, "isDefault", false) {
			continue
		}
		if expressions.Stringify(c["value"]) == want {
			selected = i
			break
		}
	}
	if selected < 0 {
		for i, c := range cases {
			if boolParam(c, "isDefault", false) {
				selected = i
				break
			}
		}
	}
	if selected < 0 {
		selected = len(cases) - 1
	}

	matched := cases[selected]["value"]
	label := "default"
	if matched != nil {
		label = expressions.Stringify(matched)
	}

	res := schema.Ok(map[string]any{
		"switchValue":    value,
		"selectedCase":   selected,
		"matchedValue":   matched,
		"extractedValue": value,
	})
	res.Message = fmt.Sprintf("Switch evaluated: %s matched case %s", want, label)
	res.SelectedCase = schema.IntPtr(selected)
	return res, nil
}
