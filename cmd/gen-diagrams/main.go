// gen-diagrams generates sample plan renderings for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/flowgraph/internal/diagram"
	"github.com/rendis/flowgraph/pkg/schema"
)

func main() {
	// trigger -> parse -> if(total > 100) -> notify | switch(region) -> api / subflow
	d := &schema.Diagram{
		ID:   "order-intake",
		Name: "Order Intake",
		Nodes: []schema.Node{
			{ID: "start", Type: "trigger", Data: map[string]any{"label": "New order"}},
			{ID: "parse", Type: "parsejson", Data: map[string]any{"label": "Parse payload"}},
			{ID: "big", Type: "condition", Data: map[string]any{"label": "total > 100?"}},
			{ID: "notify", Type: "notification", Data: map[string]any{"label": "Notify sales"}},
			{ID: "region", Type: "switchcase", Data: map[string]any{"label": "Region"}},
			{ID: "ship-eu", Type: "api", Data: map[string]any{"label": "EU carrier"}},
			{ID: "ship-us", Type: "triggerflow", Data: map[string]any{"label": "US fulfilment"}},
			{ID: "memo", Type: "comment", Data: map[string]any{"label": "Thresholds reviewed monthly"}},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "parse"},
			{Source: "parse", Target: "big"},
			{Source: "big", Target: "notify", SourceHandle: schema.StrPtr("true")},
			{Source: "big", Target: "region", SourceHandle: schema.StrPtr("false")},
			{Source: "region", Target: "ship-eu", SourceHandle: schema.StrPtr("0")},
			{Source: "region", Target: "ship-us", SourceHandle: schema.StrPtr("default")},
		},
	}

	statuses := map[string]schema.NodeStatus{
		"start":   schema.NodeStatusCompleted,
		"parse":   schema.NodeStatusCompleted,
		"big":     schema.NodeStatusCompleted,
		"region":  schema.NodeStatusCompleted,
		"ship-us": schema.NodeStatusError,
		"memo":    schema.NodeStatusSkipped,
	}

	model := diagram.Build(d, nil, statuses)

	outDir := filepath.Join("docs", "assets")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	ascii := diagram.RenderASCII(model)
	write(filepath.Join(outDir, "diagram-ascii.txt"), []byte(ascii))
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	write(filepath.Join(outDir, "diagram-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"))
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	png, err := diagram.RenderImage(context.Background(), model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", err)
		os.Exit(1)
	}
	write(filepath.Join(outDir, "diagram.png"), png)
	fmt.Printf("=== PNG: %d bytes written to %s ===\n", len(png), filepath.Join(outDir, "diagram.png"))
}

func write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		os.Exit(1)
	}
}
