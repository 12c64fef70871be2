package provider

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Extensions lists the supported diagram file extensions in lookup order.
var Extensions = []string{".json", ".yaml", ".yml", ".hcl"}

// Decode parses a diagram document. The format is chosen from the file name.
func Decode(name string, data []byte) (*schema.Diagram, error) {
	var (
		d   *schema.Diagram
		err error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		d = &schema.Diagram{}
		err = json.Unmarshal(data, d)
	case ".yaml", ".yml":
		d = &schema.Diagram{}
		err = yaml.Unmarshal(data, d)
	case ".hcl":
		d, err = decodeHCL(name, data)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported diagram format %q", path.Ext(name))
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode %s: %v", name, err).WithCause(err)
	}
	return d, nil
}

// hclDiagram is the HCL form of a diagram:
//
//	id           = "orders"
//	trigger_code = "ORD"
//	input_schema = { type = "object", required = ["order"] }
//
//	node "start" {
//	  type = "trigger"
//	  data = { outputKey = "order" }
//	}
//
//	edge {
//	  source        = "start"
//	  target        = "check"
//	  source_handle = "true"
//	}
type hclDiagram struct {
	ID          string     `hcl:"id,optional"`
	Name        string     `hcl:"name,optional"`
	TriggerCode string     `hcl:"trigger_code,optional"`
	InputSchema cty.Value  `hcl:"input_schema,optional"`
	Nodes       []*hclNode `hcl:"node,block"`
	Edges       []*hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID   string    `hcl:"id,label"`
	Type string    `hcl:"type"`
	Data cty.Value `hcl:"data,optional"`
}

type hclEdge struct {
	ID           string  `hcl:"id,optional"`
	Source       string  `hcl:"source"`
	Target       string  `hcl:"target"`
	SourceHandle *string `hcl:"source_handle,optional"`
	TargetHandle *string `hcl:"target_handle,optional"`
}

func decodeHCL(name string, data []byte) (*schema.Diagram, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse: %s", diags.Error())
	}
	var raw hclDiagram
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decode: %s", diags.Error())
	}

	inputSchema, err := objectValue(raw.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("input_schema: %w", err)
	}
	d := &schema.Diagram{ID: raw.ID, Name: raw.Name, TriggerCode: raw.TriggerCode, InputSchema: inputSchema}
	for _, n := range raw.Nodes {
		data, err := objectValue(n.Data)
		if err != nil {
			return nil, fmt.Errorf("node %q data: %w", n.ID, err)
		}
		d.Nodes = append(d.Nodes, schema.Node{ID: n.ID, Type: n.Type, Data: data})
	}
	for _, e := range raw.Edges {
		d.Edges = append(d.Edges, schema.Edge{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return d, nil
}

// objectValue converts an optional object attribute. Null yields nil.
func objectValue(v cty.Value) (map[string]any, error) {
	native, err := ctyToNative(v)
	if err != nil || native == nil {
		return nil, err
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("must be an object")
	}
	return m, nil
}

// ctyToNative converts a cty value to the shapes encoding/json produces:
// float64 numbers, []any and map[string]any.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			nv, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			nv, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = nv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", ty.FriendlyName())
	}
}
