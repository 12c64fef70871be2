package diagram

import (
	"github.com/rendis/flowgraph/internal/handlers"
	"github.com/rendis/flowgraph/internal/planner"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Build constructs a DiagramModel from a diagram, its plan and optional node
// statuses from a run. A nil plan is computed with planner.Build. Nodes are
// ordered level by level; nodes stuck in a cycle come last.
func Build(d *schema.Diagram, plan *planner.Plan, statuses map[string]schema.NodeStatus) *DiagramModel {
	model := &DiagramModel{Title: titleOf(d)}
	if d == nil {
		return model
	}
	if plan == nil {
		plan = planner.Build(d)
	}

	for _, level := range plan.Levels {
		model.Levels = append(model.Levels, append([]string(nil), level...))
		for _, id := range level {
			model.addNode(d, id, statuses)
		}
	}
	for _, id := range plan.Unprocessed {
		model.Cyclic = append(model.Cyclic, id)
		model.addNode(d, id, statuses)
	}

	for _, e := range d.Edges {
		if !d.HasNode(e.Source) || !d.HasNode(e.Target) {
			continue
		}
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target, Label: e.Handle()})
	}
	return model
}

// BuildFromRun is Build with the statuses and failure of a finished run.
func BuildFromRun(d *schema.Diagram, res *schema.RunResult) *DiagramModel {
	if res == nil {
		return Build(d, nil, nil)
	}
	model := Build(d, nil, res.NodeStatuses)
	if res.FailedNode != "" {
		if n := model.Node(res.FailedNode); n != nil && n.Status != nil {
			n.Status.Error = res.Error
		}
	}
	return model
}

func (m *DiagramModel) addNode(d *schema.Diagram, id string, statuses map[string]schema.NodeStatus) {
	src, ok := d.Node(id)
	if !ok {
		return
	}
	n := &Node{
		ID:    src.ID,
		Label: src.Label(),
		Type:  src.Type,
		Kind:  kindOf(*src),
	}
	if st, ok := statuses[id]; ok {
		n.Status = &StatusOverlay{Status: st}
	}
	m.Nodes = append(m.Nodes, n)
}

func kindOf(n schema.Node) NodeKind {
	if schema.IsAnnotation(n) {
		return NodeKindAnnotation
	}
	switch handlers.CanonicalType(n.Type) {
	case handlers.TypeTrigger, handlers.TypeWebhook:
		return NodeKindTrigger
	case handlers.TypeCondition, handlers.TypeDateCondition:
		return NodeKindCondition
	case handlers.TypeSwitch:
		return NodeKindSwitch
	case handlers.TypeTriggerFlow:
		return NodeKindSubflow
	default:
		return NodeKindAction
	}
}

func titleOf(d *schema.Diagram) string {
	switch {
	case d == nil:
		return "Diagram"
	case d.Name != "":
		return d.Name
	case d.ID != "":
		return d.ID
	default:
		return "Diagram"
	}
}
