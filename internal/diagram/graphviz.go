package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Format selects the graphviz output encoding of RenderImage.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
	FormatDOT Format = "dot"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return Render(ctx, model, FormatPNG)
}

// Render renders a DiagramModel with graphviz in the given format.
func Render(ctx context.Context, model *DiagramModel, format Format) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case FormatPNG:
		gvFormat = graphviz.PNG
	case FormatSVG:
		gvFormat = graphviz.SVG
	case FormatDOT:
		gvFormat = graphviz.XDOT
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported image format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(firstLine(node.Label))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}
	for _, id := range model.Cyclic {
		if gvNode := gvNodes[id]; gvNode != nil {
			gvNode.SetColor("#c0392b")
			gvNode.SetPenWidth(2)
		}
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s -> %s: %w", edge.From, edge.To, eErr)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and status.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindTrigger:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindCondition:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindSwitch:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindSubflow:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetPeripheries(2)
	case NodeKindAnnotation:
		gvNode.SetShape(cgraph.NoteShape)
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}

	if node.Status != nil {
		applyStatusColor(gvNode, node.Status.Status)
	}
}

func applyStatusColor(gvNode *cgraph.Node, status schema.NodeStatus) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case schema.NodeStatusCompleted:
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case schema.NodeStatusError:
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case schema.NodeStatusProcessing:
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case schema.NodeStatusPending:
		gvNode.SetFillColor("#d3d3d3")
		gvNode.SetFontColor("black")
	case schema.NodeStatusSkipped:
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
