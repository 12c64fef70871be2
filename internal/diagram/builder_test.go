package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/planner"
	"github.com/rendis/flowgraph/pkg/schema"
)

// orderDiagram: start -> check -(true)-> notify, check -(false)-> reject,
// plus a free-standing comment.
func orderDiagram() *schema.Diagram {
	return &schema.Diagram{
		ID:   "orders",
		Name: "Order Review",
		Nodes: []schema.Node{
			{ID: "start", Type: "trigger"},
			{ID: "check", Type: "If", Data: map[string]any{"label": "Amount > 100?"}},
			{ID: "notify", Type: "notification"},
			{ID: "reject", Type: "return"},
			{ID: "note", Type: "comment", Data: map[string]any{"label": "reviewed weekly"}},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "check"},
			{Source: "check", Target: "notify", SourceHandle: schema.StrPtr("true")},
			{Source: "check", Target: "reject", SourceHandle: schema.StrPtr("false")},
		},
	}
}

func routingDiagram() *schema.Diagram {
	return &schema.Diagram{
		Nodes: []schema.Node{
			{ID: "hook", Type: "triggerwebhook"},
			{ID: "route", Type: "switch-case"},
			{ID: "child", Type: "triggerFlow"},
			{ID: "when", Type: "datecondition"},
		},
		Edges: []schema.Edge{
			{Source: "hook", Target: "route"},
			{Source: "route", Target: "child", SourceHandle: schema.StrPtr("0")},
			{Source: "route", Target: "when", SourceHandle: schema.StrPtr("default")},
		},
	}
}

func cyclicDiagram() *schema.Diagram {
	return &schema.Diagram{
		ID: "loop",
		Nodes: []schema.Node{
			{ID: "a", Type: "trigger"},
			{ID: "b", Type: "calculation"},
			{ID: "c", Type: "calculation"},
		},
		Edges: []schema.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "b"},
		},
	}
}

func TestBuild_LevelsAndKinds(t *testing.T) {
	model := Build(orderDiagram(), nil, nil)

	assert.Equal(t, "Order Review", model.Title)
	assert.Equal(t, [][]string{{"start", "note"}, {"check"}, {"notify", "reject"}}, model.Levels)
	assert.Empty(t, model.Cyclic)

	require.Len(t, model.Nodes, 5)
	assert.Equal(t, NodeKindTrigger, model.Node("start").Kind)
	assert.Equal(t, NodeKindCondition, model.Node("check").Kind)
	assert.Equal(t, "Amount > 100?", model.Node("check").Label)
	assert.Equal(t, NodeKindAction, model.Node("notify").Kind)
	assert.Equal(t, NodeKindAnnotation, model.Node("note").Kind)
	assert.Nil(t, model.Node("missing"))
}

func TestBuild_AliasKinds(t *testing.T) {
	model := Build(routingDiagram(), nil, nil)

	assert.Equal(t, "Diagram", model.Title)
	assert.Equal(t, NodeKindTrigger, model.Node("hook").Kind)
	assert.Equal(t, NodeKindSwitch, model.Node("route").Kind)
	assert.Equal(t, NodeKindSubflow, model.Node("child").Kind)
	assert.Equal(t, NodeKindCondition, model.Node("when").Kind)
}

func TestBuild_EdgeLabelsFromHandles(t *testing.T) {
	model := Build(orderDiagram(), nil, nil)

	assert.Equal(t, []Edge{
		{From: "start", To: "check"},
		{From: "check", To: "notify", Label: "true"},
		{From: "check", To: "reject", Label: "false"},
	}, model.Edges)
}

func TestBuild_SkipsDanglingEdges(t *testing.T) {
	d := orderDiagram()
	d.Edges = append(d.Edges, schema.Edge{Source: "check", Target: "ghost"})

	model := Build(d, nil, nil)
	assert.Len(t, model.Edges, 3)
}

func TestBuild_Cycle(t *testing.T) {
	d := cyclicDiagram()
	plan := planner.Build(d)
	require.True(t, plan.HasCycle())

	model := Build(d, plan, nil)
	assert.Equal(t, [][]string{{"a"}}, model.Levels)
	assert.ElementsMatch(t, []string{"b", "c"}, model.Cyclic)
	assert.Len(t, model.Nodes, 3)
}

func TestBuild_StatusOverlay(t *testing.T) {
	model := Build(orderDiagram(), nil, map[string]schema.NodeStatus{
		"start":  schema.NodeStatusCompleted,
		"check":  schema.NodeStatusCompleted,
		"notify": schema.NodeStatusError,
	})

	require.NotNil(t, model.Node("notify").Status)
	assert.Equal(t, schema.NodeStatusError, model.Node("notify").Status.Status)
	assert.Nil(t, model.Node("reject").Status)
}

func TestBuildFromRun(t *testing.T) {
	res := &schema.RunResult{
		Error:      "smtp down",
		FailedNode: "notify",
		NodeStatuses: map[string]schema.NodeStatus{
			"start":  schema.NodeStatusCompleted,
			"check":  schema.NodeStatusCompleted,
			"notify": schema.NodeStatusError,
			"note":   schema.NodeStatusSkipped,
		},
	}

	model := BuildFromRun(orderDiagram(), res)
	assert.Equal(t, "smtp down", model.Node("notify").Status.Error)
	assert.Equal(t, schema.NodeStatusSkipped, model.Node("note").Status.Status)

	model = BuildFromRun(orderDiagram(), nil)
	assert.Nil(t, model.Node("notify").Status)
}

func TestBuild_NilDiagram(t *testing.T) {
	model := Build(nil, nil, nil)
	assert.Equal(t, "Diagram", model.Title)
	assert.Empty(t, model.Nodes)
	assert.Empty(t, model.Levels)
}
