package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/flowgraph/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		if n := model.Node(edge.From); n != nil && n.Kind == NodeKindAnnotation {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef processing fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
	b.WriteString("    classDef cyclic stroke:#c0392b,stroke-width:3px\n")

	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}
	for _, id := range model.Cyclic {
		fmt.Fprintf(&b, "    class %s cyclic\n", mermaidSafeID(id))
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindTrigger:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindSwitch:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindSubflow:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindAnnotation:
		return fmt.Sprintf("%s>%q]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in identifiers.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func mermaidStatusClass(status schema.NodeStatus) string {
	switch status {
	case schema.NodeStatusCompleted, schema.NodeStatusError, schema.NodeStatusProcessing,
		schema.NodeStatusPending, schema.NodeStatusSkipped:
		return string(status)
	default:
		return ""
	}
}
