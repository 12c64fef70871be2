package diagram

import "github.com/rendis/flowgraph/pkg/schema"

// NodeKind classifies a diagram node by the shape it is drawn with.
type NodeKind string

const (
	NodeKindTrigger    NodeKind = "trigger"
	NodeKindCondition  NodeKind = "condition"
	NodeKindSwitch     NodeKind = "switch"
	NodeKindSubflow    NodeKind = "subflow"
	NodeKindAnnotation NodeKind = "annotation"
	NodeKindAction     NodeKind = "action"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
	// Cyclic holds the nodes the planner could not place in a level.
	Cyclic []string
}

// Node is one diagram node.
type Node struct {
	ID     string
	Label  string
	Type   string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the state a node reached in a run.
type StatusOverlay struct {
	Status schema.NodeStatus
	Error  string
}

// Edge is a connection between two nodes. Label is the source handle.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with the given id, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
