// Package planner computes a level-by-level dependency view of a diagram.
// The plan is used for validation and previews only; runs follow the router.
package planner

import (
	"fmt"
	"strings"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Plan is the Kahn decomposition of a diagram.
type Plan struct {
	Levels      [][]string // node ids grouped by dependency depth
	Unprocessed []string   // nodes left over when no zero in-degree node remains
	StartNodes  []string   // nodes with no incoming edge
	Isolated    []string   // nodes with neither incoming nor outgoing edges
}

// HasCycle reports whether some nodes could not be placed in a level.
func (p *Plan) HasCycle() bool {
	return len(p.Unprocessed) > 0
}

// Processed returns the number of nodes placed in levels.
func (p *Plan) Processed() int {
	n := 0
	for _, level := range p.Levels {
		n += len(level)
	}
	return n
}

// Build computes the plan for d. Edges that reference unknown ids are ignored.
// Members of each level keep node declaration order.
func Build(d *schema.Diagram) *Plan {
	plan := &Plan{}
	if d == nil {
		return plan
	}

	known := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		known[n.ID] = true
	}

	inDegree := make(map[string]int, len(d.Nodes))
	successors := make(map[string][]string, len(d.Nodes))
	connected := make(map[string]bool, len(d.Nodes))
	for _, e := range d.Edges {
		connected[e.Source] = true
		connected[e.Target] = true
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		successors[e.Source] = append(successors[e.Source], e.Target)
		inDegree[e.Target]++
	}

	for _, n := range d.StartNodes() {
		plan.StartNodes = append(plan.StartNodes, n.ID)
	}
	for _, n := range d.Nodes {
		if !connected[n.ID] {
			plan.Isolated = append(plan.Isolated, n.ID)
		}
	}

	// Kahn's algorithm, one whole level per round.
	processed := make(map[string]bool, len(d.Nodes))
	for len(processed) < len(d.Nodes) {
		var level []string
		for _, n := range d.Nodes {
			if !processed[n.ID] && inDegree[n.ID] == 0 {
				level = append(level, n.ID)
			}
		}
		if len(level) == 0 {
			break
		}
		for _, id := range level {
			processed[id] = true
		}
		for _, id := range level {
			for _, next := range successors[id] {
				if !processed[next] {
					inDegree[next]--
				}
			}
		}
		plan.Levels = append(plan.Levels, level)
	}

	for _, n := range d.Nodes {
		if !processed[n.ID] {
			plan.Unprocessed = append(plan.Unprocessed, n.ID)
		}
	}
	return plan
}

// Validate reports isolated nodes as warnings, and a missing start node or a
// cycle as errors.
func Validate(d *schema.Diagram) *schema.ValidationResult {
	return ValidatePlan(d, Build(d))
}

// ValidatePlan is Validate for an already built plan.
func ValidatePlan(d *schema.Diagram, plan *Plan) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if d == nil || len(d.Nodes) == 0 {
		result.AddError("nodes", schema.ErrCodeValidation, "diagram has no nodes")
		return result
	}

	if len(plan.Isolated) > 0 {
		result.AddWarning("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("Found %d isolated node(s): %s", len(plan.Isolated), strings.Join(plan.Isolated, ", ")),
			plan.Isolated...)
	}

	if len(plan.StartNodes) == 0 {
		result.AddError("nodes", schema.ErrCodeValidation,
			"No start nodes found (nodes with no incoming connections)")
	}

	if plan.HasCycle() {
		labels := make([]string, 0, len(plan.Unprocessed))
		for _, id := range plan.Unprocessed {
			n, _ := d.Node(id)
			labels = append(labels, fmt.Sprintf("%s(%s)", id, n.Type))
		}
		result.AddError("edges", schema.ErrCodeCycleDetected,
			"Circular dependency detected, unprocessed nodes: "+strings.Join(labels, ", "),
			plan.Unprocessed...)
	}

	return result
}

// NodeSummary describes one node inside a plan level.
type NodeSummary struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

// LevelSummary is one human readable plan level.
type LevelSummary struct {
	Level int           `json:"level"`
	Nodes []NodeSummary `json:"nodes"`
}

// Summary returns the plan of d as labeled levels.
func Summary(d *schema.Diagram) []LevelSummary {
	plan := Build(d)
	out := make([]LevelSummary, 0, len(plan.Levels))
	for i, level := range plan.Levels {
		ls := LevelSummary{Level: i, Nodes: make([]NodeSummary, 0, len(level))}
		for _, id := range level {
			n, _ := d.Node(id)
			ls.Nodes = append(ls.Nodes, NodeSummary{ID: n.ID, Type: n.Type, Label: n.Label()})
		}
		out = append(out, ls)
	}
	return out
}
