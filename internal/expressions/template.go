package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Resolver turns a resolved template value into its textual replacement.
// found is false when the path does not exist in the variables.
type Resolver func(path string, value any, found bool) string

// Render replaces every {{path}} placeholder in tmpl with the variable it
// names. Unknown placeholders are left untouched.
func Render(tmpl string, vars map[string]any) string {
	return RenderWith(tmpl, vars, func(path string, value any, found bool) string {
		if !found {
			return "{{" + path + "}}"
		}
		return Stringify(value)
	})
}

// RenderNumeric replaces placeholders with numeric literals for arithmetic:
// booleans become 1 or 0; missing, null and non-numeric values become 0.
func RenderNumeric(tmpl string, vars map[string]any) string {
	return RenderWith(tmpl, vars, func(_ string, value any, found bool) string {
		if !found {
			return "0"
		}
		switch v := value.(type) {
		case bool:
			if v {
				return "1"
			}
			return "0"
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return strings.TrimSpace(v)
			}
			return "0"
		}
		if f, ok := ToFloat(value); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return "0"
	})
}

// RenderWith scans tmpl for {{...}} markers and substitutes the output of fn.
// An unclosed marker is copied through verbatim.
func RenderWith(tmpl string, vars map[string]any, fn Resolver) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	var out strings.Builder
	out.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		idx := strings.Index(tmpl[i:], "{{")
		if idx == -1 {
			out.WriteString(tmpl[i:])
			break
		}
		out.WriteString(tmpl[i : i+idx])
		start := i + idx + 2

		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			out.WriteString(tmpl[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(tmpl[start:end])
		if path == "" || strings.Contains(path, "{{") {
			out.WriteString(tmpl[i+idx : end+2])
		} else {
			val, found := Lookup(vars, path)
			out.WriteString(fn(path, val, found))
		}
		i = end + 2
	}

	return out.String()
}

// RenderValue applies Render to every string inside v, descending into maps and slices.
func RenderValue(v any, vars map[string]any) any {
	switch val := v.(type) {
	case string:
		return Render(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = RenderValue(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = RenderValue(item, vars)
		}
		return out
	default:
		return v
	}
}

// HasPlaceholders reports whether s contains a {{...}} marker.
func HasPlaceholders(s string) bool {
	i := strings.Index(s, "{{")
	return i >= 0 && strings.Contains(s[i:], "}}")
}

// Stringify converts a value to the text used in templates and comparisons.
func Stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// ToFloat converts numbers and numeric strings to float64.
func ToFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
