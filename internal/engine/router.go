package engine

import (
	"strconv"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Route selects which outgoing edges of node to follow after it produced
// result. Rules, in priority order:
//
//  1. trigger-flow nodes follow every edge;
//  2. a condition result follows the "true" or "false" handle;
//  3. a selected case follows the handle equal to the case index, else the
//     "default" handle, else the last edge;
//  4. anything else follows every edge.
//
// Each target appears at most once in the returned slice.
func Route(node schema.Node, result *schema.ExecutionResult, outgoing []schema.Edge) []schema.Edge {
	if len(outgoing) == 0 {
		return nil
	}

	switch schema.NormalizeType(node.Type) {
	case "triggerflow", "triggerflownode":
		return dedupTargets(outgoing)
	}

	if cond, ok := conditionOf(result); ok {
		want := strconv.FormatBool(cond)
		var taken []schema.Edge
		for _, e := range outgoing {
			if e.Handle() == want {
				taken = append(taken, e)
			}
		}
		return dedupTargets(taken)
	}

	if sel, ok := selectedCaseOf(result); ok {
		var taken []schema.Edge
		for _, e := range outgoing {
			if h, err := strconv.Atoi(e.Handle()); err == nil && h == sel {
				taken = append(taken, e)
			}
		}
		if len(taken) == 0 {
			for _, e := range outgoing {
				if e.Handle() == "default" {
					taken = append(taken, e)
				}
			}
		}
		if len(taken) == 0 {
			taken = outgoing[len(outgoing)-1:]
		}
		return dedupTargets(taken)
	}

	return dedupTargets(outgoing)
}

func conditionOf(r *schema.ExecutionResult) (bool, bool) {
	if r == nil {
		return false, false
	}
	if r.ConditionResult != nil {
		return *r.ConditionResult, true
	}
	b, ok := r.Output["conditionResult"].(bool)
	return b, ok
}

func selectedCaseOf(r *schema.ExecutionResult) (int, bool) {
	if r == nil {
		return 0, false
	}
	if r.SelectedCase != nil {
		return *r.SelectedCase, true
	}
	switch v := r.Output["selectedCase"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func dedupTargets(edges []schema.Edge) []schema.Edge {
	if len(edges) < 2 {
		return edges
	}
	seen := make(map[string]bool, len(edges))
	out := make([]schema.Edge, 0, len(edges))
	for _, e := range edges {
		if seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		out = append(out, e)
	}
	return out
}
