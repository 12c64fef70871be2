package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestRenderMermaid(t *testing.T) {
	output := RenderMermaid(Build(orderDiagram(), nil, nil))

	assert.True(t, strings.HasPrefix(output, "graph TD\n"))
	assert.Contains(t, output, "%% Order Review")

	assert.Contains(t, output, `start(["trigger"])`)
	assert.Contains(t, output, `check{"Amount > 100?"}`)
	assert.Contains(t, output, `notify["notification"]`)
	assert.Contains(t, output, `note>"reviewed weekly"]`)

	assert.Contains(t, output, "start --> check")
	assert.Contains(t, output, "check -->|true| notify")
	assert.Contains(t, output, "check -->|false| reject")

	assert.Contains(t, output, "classDef completed")
	assert.Contains(t, output, "classDef error")
	assert.NotContains(t, output, "class start")
}

func TestRenderMermaid_Shapes(t *testing.T) {
	output := RenderMermaid(Build(routingDiagram(), nil, nil))

	assert.Contains(t, output, `route{{"switch-case"}}`)
	assert.Contains(t, output, `child[["triggerFlow"]]`)
	assert.Contains(t, output, "route -->|0| child")
}

func TestRenderMermaid_StatusClasses(t *testing.T) {
	model := Build(orderDiagram(), nil, map[string]schema.NodeStatus{
		"start":  schema.NodeStatusCompleted,
		"check":  schema.NodeStatusProcessing,
		"notify": schema.NodeStatusError,
		"note":   schema.NodeStatusSkipped,
	})
	output := RenderMermaid(model)

	assert.Contains(t, output, "class start completed")
	assert.Contains(t, output, "class check processing")
	assert.Contains(t, output, "class notify error")
	assert.Contains(t, output, "class note skipped")
	assert.NotContains(t, output, "class reject")
}

func TestRenderMermaid_CyclicClass(t *testing.T) {
	output := RenderMermaid(Build(cyclicDiagram(), nil, nil))

	assert.Contains(t, output, "class b cyclic")
	assert.Contains(t, output, "class c cyclic")
	assert.Contains(t, output, "c --> b")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "node_1_a_b", mermaidSafeID("node-1.a b"))
}
