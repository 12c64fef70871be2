package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Lookup resolves a dot-delimited path ("user.address.city", "items.0.id")
// against a variable map. A direct key match wins over traversal so keys
// containing dots stay reachable.
func Lookup(vars map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if v, ok := vars[path]; ok {
		return v, true
	}
	return traverse(vars, strings.Split(path, "."))
}

// Extract resolves a path inside an arbitrary value. An empty path returns
// the value itself. JSON strings are decoded before traversal.
func Extract(root any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return root, true
	}
	if s, ok := root.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			root = decoded
		}
	}
	return traverse(root, strings.Split(path, "."))
}

func traverse(current any, segments []string) (any, bool) {
	for _, seg := range segments {
		if seg == "" {
			return nil, false
		}
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			current = v[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// CopyMap returns a deep copy of m so handlers can never alias the caller's state.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = CopyValue(v)
	}
	return cp
}

// CopyValue recursively deep-copies maps and slices. Primitives are returned as is.
func CopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = CopyValue(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
