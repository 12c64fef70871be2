package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rendis/flowgraph/pkg/schema"
)

// statusTag returns a short ASCII indicator for a node status.
func statusTag(status schema.NodeStatus) string {
	switch status {
	case schema.NodeStatusCompleted:
		return "[OK]"
	case schema.NodeStatusError:
		return "[FAIL]"
	case schema.NodeStatusProcessing:
		return "[RUN]"
	case schema.NodeStatusSkipped:
		return "[SKIP]"
	case schema.NodeStatusPending:
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel level by level with box-drawing
// characters, followed by the edge list.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, id := range level {
			if node := model.Node(id); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		fmt.Fprintf(&b, "Level %d\n", levelIdx)
		renderBoxRow(&b, boxes)
		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Cyclic) > 0 {
		b.WriteString("\nCycle (not scheduled)\n")
		var boxes []asciiBox
		for _, id := range model.Cyclic {
			if node := model.Node(id); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nEdges\n")
		for _, edge := range model.Edges {
			if edge.Label != "" {
				fmt.Fprintf(&b, "  %s ─[%s]→ %s\n", edge.From, edge.Label, edge.To)
			} else {
				fmt.Fprintf(&b, "  %s ─→ %s\n", edge.From, edge.To)
			}
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if node.Label != node.ID {
		contentLines = append(contentLines, "#"+node.ID)
	}
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			contentLines = append(contentLines, tag)
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}
