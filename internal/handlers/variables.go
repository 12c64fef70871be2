package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SetVariableHandler writes a typed variable, optionally persisting it in the
// variable cache so later runs can read it back.
type SetVariableHandler struct {
	cache VariableCache
}

// NewSetVariableHandler creates a setvariable handler. cache may be nil.
func NewSetVariableHandler(cache VariableCache) *SetVariableHandler {
	return &SetVariableHandler{cache: cache}
}

func (h *SetVariableHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	name := stringParam(config, "variableName", "")
	if name == "" {
		return schema.Fail("Variable name is required"), nil
	}
	valueType := stringParam(config, "valueType", "string")

	var raw any
	var msg string
	if boolParam(config, "useExtractedValue", false) {
		source := stringParam(config, "sourceVariable", "extractedValue")
		v, ok := vars[source]
		if !ok {
			return schema.Fail(fmt.Sprintf("Source variable '%s' not found in workflow variables", source)), nil
		}
		raw = v
		msg = fmt.Sprintf("Variable '%s' set from source variable '%s'", name, source)
		if path := stringParam(config, "extractPath", ""); path != "" {
			extracted, ok := expressions.Extract(v, path)
			if !ok || extracted == nil {
				return schema.Fail(fmt.Sprintf("Path '%s' not found in source variable '%s'", path, source)), nil
			}
			raw = extracted
			msg = fmt.Sprintf("Variable '%s' set from source variable '%s.%s'", name, source, path)
		}
	} else {
		v, ok := config["variableValue"]
		if !ok || v == nil || v == "" {
			return schema.Fail("Variable value is required when not using extracted value"), nil
		}
		raw = expressions.RenderValue(v, vars)
		msg = fmt.Sprintf("Variable '%s' set from manual input", name)
	}

	value := convertValue(raw, valueType)

	if boolParam(config, "persistent", false) {
		if h.cache == nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "setvariable: persistent variables need a variable cache")
		}
		var ttl time.Duration
		if minutes := intParam(config, "cacheExpiry", 0); minutes > 0 {
			ttl = time.Duration(minutes) * time.Minute
		}
		if err := h.cache.SetVariable(ctx, name, value, ttl); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "setvariable: persist %q", name).WithCause(err)
		}
		if ttl > 0 {
			msg += fmt.Sprintf(" in cache with %d minute expiry", int(ttl.Minutes()))
		} else {
			msg += " in persistent cache"
		}
	} else {
		msg += " in workflow memory"
	}

	res := schema.Ok(map[string]any{name: value, "extractedValue": value})
	res.Message = msg
	return res, nil
}

// convertValue coerces raw into one of the editor's value types.
func convertValue(raw any, valueType string) any {
	switch valueType {
	case "number":
		if f, ok := expressions.ToFloat(raw); ok {
			return f
		}
		return float64(0)
	case "boolean":
		switch v := raw.(type) {
		case bool:
			return v
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "on", "yes":
				return true
			}
			return false
		default:
			return !isEmpty(v)
		}
	case "json":
		if s, ok := raw.(string); ok && json.Valid([]byte(s)) {
			return s
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return `{"error":"Failed to encode to JSON"}`
		}
		return string(b)
	case "array":
		switch v := raw.(type) {
		case []any:
			return v
		case map[string]any:
			out := make([]any, 0, len(v))
			for _, k := range sortedKeys(v) {
				out = append(out, v[k])
			}
			return out
		case string:
			var decoded []any
			if err := json.Unmarshal([]byte(v), &decoded); err == nil {
				return decoded
			}
			parts := strings.Split(v, ",")
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = strings.TrimSpace(p)
			}
			return out
		default:
			return []any{v}
		}
	case "object":
		switch v := raw.(type) {
		case map[string]any:
			return v
		case []any:
			out := make(map[string]any, len(v))
			for i, item := range v {
				out[strconv.Itoa(i)] = item
			}
			return out
		case string:
			var decoded map[string]any
			if err := json.Unmarshal([]byte(v), &decoded); err == nil {
				return decoded
			}
		}
		return map[string]any{"value": raw}
	default:
		return expressions.Stringify(raw)
	}
}

// GetVariableHandler reads a variable from the cache or the run, falling back
// to a default.
type GetVariableHandler struct {
	cache VariableCache
}

// NewGetVariableHandler creates a getvariable handler. cache may be nil.
func NewGetVariableHandler(cache VariableCache) *GetVariableHandler {
	return &GetVariableHandler{cache: cache}
}

func (h *GetVariableHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	name := stringParam(config, "variableName", "")
	if name == "" {
		return schema.Fail("Variable name is required"), nil
	}
	outputVar := stringParam(config, "outputVariable", "retrievedValue")

	var value any
	source := "not found"
	if boolParam(config, "fromCache", false) && h.cache != nil {
		v, ok, err := h.cache.GetVariable(ctx, name)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "getvariable: read %q", name).WithCause(err)
		}
		if ok && v != nil {
			value, source = v, "cache"
		}
	}
	if value == nil {
		if v, ok := vars[name]; ok && v != nil {
			value, source = v, "workflow"
		}
	}
	if value == nil {
		if boolParam(config, "failIfNotFound", false) {
			return schema.Fail(fmt.Sprintf("Variable '%s' not found and failIfNotFound is enabled", name)), nil
		}
		value, source = config["defaultValue"], "default"
	}

	res := schema.Ok(map[string]any{
		outputVar:        value,
		"variableSource": source,
		"extractedValue": value,
	})
	res.Message = fmt.Sprintf("Retrieved variable '%s' from %s", name, source)
	return res, nil
}

// FlowVariableHandler exposes a run variable, or a path inside it, as extractedValue.
type FlowVariableHandler struct{}

func (FlowVariableHandler) Handle(_ context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	name := stringParam(config, "variableName", "")
	if name == "" {
		return schema.Fail("Variable name is required"), nil
	}
	defaultValue := config["defaultValue"]

	original, ok := vars[name]
	if !ok || original == nil {
		if boolParam(config, "failIfNotFound", false) {
			return schema.Fail(fmt.Sprintf("Variable '%s' not found in workflow variables", name)), nil
		}
		res := schema.Ok(map[string]any{
			"extractedValue": defaultValue,
			"variableSource": "default",
			"variableName":   name,
			"originalValue":  nil,
		})
		res.Message = fmt.Sprintf("Variable '%s' not found, using default value", name)
		return res, nil
	}

	out := map[string]any{
		"extractedValue": original,
		"variableSource": "workflow",
		"variableName":   name,
		"originalValue":  original,
	}
	msg := fmt.Sprintf("Successfully retrieved variable '%s'", name)
	if path := stringParam(config, "extractPath", ""); path != "" {
		extracted, _ := expressions.Extract(original, path)
		if extracted == nil && defaultValue != nil {
			extracted = defaultValue
		}
		out["extractedValue"] = extracted
		out["extractPath"] = path
		out["pathExtracted"] = true
		msg = fmt.Sprintf("Extracted value from '%s.%s'", name, path)
	}

	res := schema.Ok(out)
	res.Message = msg
	return res, nil
}

// CombineVariablesHandler gathers several variables into one array or object.
type CombineVariablesHandler struct{}

func (CombineVariablesHandler) Handle(_ context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	entries := listParam(config, "variablesToCombine")
	outputType := stringParam(config, "outputType", "array")
	returnName := stringParam(config, "returnVariableName", "combinedResult")

	if !identifierPattern.MatchString(returnName) {
		return schema.Fail(fmt.Sprintf("Invalid return variable name '%s'. Must be a valid identifier.", returnName)), nil
	}
	if len(entries) == 0 {
		return schema.Fail("No variables specified for combination"), nil
	}
	if outputType != "array" && outputType != "object" {
		return schema.Fail(fmt.Sprintf("Invalid output type '%s'. Must be 'array' or 'object'.", outputType)), nil
	}

	var (
		list      []any
		obj       = map[string]any{}
		found     []any
		succeeded int
	)
	for i, entry := range entries {
		source := stringParam(entry, "source", "")
		if source == "" {
			continue
		}
		v, ok := expressions.Lookup(vars, source)
		if ok && v != nil {
			succeeded++
			found = append(found, source)
		}
		if outputType == "array" {
			list = append(list, v)
			continue
		}
		key := stringParam(entry, "key", "")
		if key == "" {
			key = strings.ReplaceAll(source, ".", "_")
		}
		if _, dup := obj[key]; dup {
			key = fmt.Sprintf("%s_%d", key, i)
		}
		obj[key] = v
	}

	var combined any = obj
	if outputType == "array" {
		if list == nil {
			list = []any{}
		}
		combined = list
	}

	failed := len(entries) - succeeded
	msg := fmt.Sprintf("Successfully combined %d variables into %s as '%s'", succeeded, outputType, returnName)
	if failed > 0 {
		msg += fmt.Sprintf(" (%d variables not found)", failed)
	}
	if found == nil {
		found = []any{}
	}

	res := schema.Ok(map[string]any{
		"extractedValue":        combined,
		returnName:              combined,
		"combinedType":          outputType,
		"combinedCount":         len(entries),
		"successfulExtractions": succeeded,
		"failedExtractions":     failed,
		"extractedVariables":    found,
	})
	res.Message = msg
	return res, nil
}
