package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiagram = `{
  "id": "onboarding",
  "nodes": [
    {"id": "start", "type": "trigger"},
    {"id": "check", "type": "condition", "data": {"label": "Is adult?"}},
    {"id": "yes", "type": "notification"},
    {"id": "no", "type": "notification", "data": {"customTitle": "Reject"}},
    {"id": "note", "type": "sticker"}
  ],
  "edges": [
    {"source": "start", "target": "check"},
    {"source": "check", "target": "yes", "sourceHandle": "true"},
    {"source": "check", "target": "no", "sourceHandle": "false"}
  ]
}`

func TestDiagram_DerivedViews(t *testing.T) {
	var d Diagram
	require.NoError(t, json.Unmarshal([]byte(sampleDiagram), &d))

	starts := d.StartNodes()
	require.Len(t, starts, 2)
	assert.Equal(t, "start", starts[0].ID)
	assert.Equal(t, "note", starts[1].ID)

	out := d.Outgoing("check")
	require.Len(t, out, 2)
	assert.Equal(t, "yes", out[0].Target)
	assert.Equal(t, "true", out[0].Handle())
	assert.Equal(t, "", d.Outgoing("start")[0].Handle())

	assert.Len(t, d.Incoming("yes"), 1)
	assert.Empty(t, d.Outgoing("yes"))

	n, ok := d.Node("check")
	require.True(t, ok)
	assert.Equal(t, "Is adult?", n.Label())
	_, ok = d.Node("missing")
	assert.False(t, ok)
	assert.True(t, d.HasNode("no"))
}

func TestNode_Label(t *testing.T) {
	assert.Equal(t, "Reject", Node{Type: "notification", Data: map[string]any{"customTitle": "Reject"}}.Label())
	assert.Equal(t, "api", Node{Type: "api"}.Label())
}

func TestNormalizeType(t *testing.T) {
	for _, in := range []string{"switch-case", "SwitchCase", "switch_case", " Switch Case "} {
		assert.Equal(t, "switchcase", NormalizeType(in), in)
	}
	assert.Equal(t, "triggerflownode", NormalizeType("trigger-flow-node"))
}

func TestIsAnnotation(t *testing.T) {
	cases := []struct {
		node Node
		want bool
	}{
		{Node{Type: "comment"}, true},
		{Node{Type: "Sticker"}, true},
		{Node{Type: "api", Data: map[string]any{"isComment": true}}, true},
		{Node{Type: "api", Data: map[string]any{"selectedEmoji": "🚀"}}, true},
		{Node{Type: "api", Data: map[string]any{"customTitle": "Comment"}}, true},
		{Node{Type: "api", Data: map[string]any{"customTitle": "Fetch"}}, false},
		{Node{Type: "condition"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsAnnotation(tc.node), fmt.Sprintf("%+v", tc.node))
	}
}

func TestFlowError_Format(t *testing.T) {
	cause := errors.New("boom")
	err := NewErrorf(ErrCodeStepFailed, "handler %s failed", "api").WithNode("n1").WithCause(cause)

	assert.Equal(t, "[STEP_FAILED] node n1: handler api failed", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeStepFailed, CodeOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "", CodeOf(cause))

	assert.Equal(t, "[NOT_FOUND] diagram x", NewError(ErrCodeNotFound, "diagram x").Error())
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(ErrCancelled))
	assert.True(t, IsCancelled(fmt.Errorf("run: %w", ErrCancelled)))
	assert.False(t, IsCancelled(NewError(ErrCodeStepFailed, "x")))
}

func TestRunResult_Count(t *testing.T) {
	r := &RunResult{NodeStatuses: map[string]NodeStatus{
		"a": NodeStatusCompleted, "b": NodeStatusCompleted, "c": NodeStatusSkipped,
	}}
	assert.Equal(t, 2, r.Count(NodeStatusCompleted))
	assert.Equal(t, 0, r.Count(NodeStatusError))
	assert.Zero(t, r.Duration())
}
