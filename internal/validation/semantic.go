package validation

import (
	"fmt"
	"strconv"

	"github.com/rendis/flowgraph/pkg/schema"
)

// validateSemantic checks what the structural schema cannot express: duplicate
// node ids, edges that reference unknown nodes, unresolvable node types and
// branch handles that can never be taken.
func validateSemantic(d *schema.Diagram, lookup TypeLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if first, dup := seen[n.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q (first declared at nodes[%d])", n.ID, first), n.ID)
			continue
		}
		seen[n.ID] = i

		if lookup != nil && !schema.IsAnnotation(n) && !lookup.Has(n.Type) {
			result.AddError(path+".type", schema.ErrCodeUnknownNodeType,
				fmt.Sprintf("no handler registered for node type %q", n.Type), n.ID)
		}
	}

	for i, e := range d.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := seen[e.Source]; !ok {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("edge references non-existent source node %q", e.Source))
		}
		if _, ok := seen[e.Target]; !ok {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("edge references non-existent target node %q", e.Target))
		}
		if e.Source == e.Target {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q is connected to itself", e.Source), e.Source)
		}
	}

	for i, n := range d.Nodes {
		validateHandles(d, n, fmt.Sprintf("nodes[%d]", i), result)
	}

	return result
}

// validateHandles warns about branch handles the router will never match.
func validateHandles(d *schema.Diagram, n schema.Node, path string, result *schema.ValidationResult) {
	switch schema.NormalizeType(n.Type) {
	case "condition", "if", "ifcondition", "datecondition":
		for _, e := range d.Outgoing(n.ID) {
			if h := e.Handle(); h != "true" && h != "false" {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("edge %s -> %s has handle %q and is never followed from a condition", e.Source, e.Target, h), n.ID)
			}
		}
	case "switchcase", "switch":
		cases, _ := n.Data["cases"].([]any)
		for _, e := range d.Outgoing(n.ID) {
			h := e.Handle()
			if h == "default" {
				continue
			}
			idx, err := strconv.Atoi(h)
			if err != nil {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("edge %s -> %s has non numeric switch handle %q", e.Source, e.Target, h), n.ID)
				continue
			}
			if len(cases) > 0 && (idx < 0 || idx >= len(cases)) {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("edge %s -> %s handle %d is outside the %d declared cases", e.Source, e.Target, idx, len(cases)), n.ID)
			}
		}
	}
}
