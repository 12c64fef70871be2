package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestRenderASCII(t *testing.T) {
	output := RenderASCII(Build(orderDiagram(), nil, nil))

	assert.Contains(t, output, "=== Order Review ===")
	for _, ch := range []string{"┌", "┐", "└", "┘", "│", "─", "▼"} {
		assert.Contains(t, output, ch)
	}

	assert.Contains(t, output, "Level 0")
	assert.Contains(t, output, "Level 2")
	assert.NotContains(t, output, "Level 3")

	assert.Contains(t, output, "Amount > 100?")
	assert.Contains(t, output, "#check")
	assert.Contains(t, output, "check ─[true]→ notify")
	assert.Contains(t, output, "start ─→ check")
}

func TestRenderASCII_LevelOrder(t *testing.T) {
	output := RenderASCII(Build(orderDiagram(), nil, nil))

	start := strings.Index(output, "#start")
	check := strings.Index(output, "#check")
	notify := strings.Index(output, "#notify")
	assert.True(t, start < check && check < notify, output)
}

func TestRenderASCII_WithStatus(t *testing.T) {
	model := Build(orderDiagram(), nil, map[string]schema.NodeStatus{
		"start":  schema.NodeStatusCompleted,
		"check":  schema.NodeStatusCompleted,
		"notify": schema.NodeStatusError,
		"note":   schema.NodeStatusSkipped,
	})
	output := RenderASCII(model)

	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "[FAIL]")
	assert.Contains(t, output, "[SKIP]")
	assert.NotContains(t, output, "[RUN]")
}

func TestRenderASCII_Cycle(t *testing.T) {
	output := RenderASCII(Build(cyclicDiagram(), nil, nil))

	assert.Contains(t, output, "Cycle (not scheduled)")
	assert.Contains(t, output, "#b")
}

func TestMakeBox_AlignsMultibyteLabels(t *testing.T) {
	box := makeBox(&Node{ID: "x", Label: "café"})
	for _, line := range box.lines {
		assert.Equal(t, box.width, len([]rune(line)), line)
	}
}
