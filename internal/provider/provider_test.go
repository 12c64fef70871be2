package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/rendis/flowgraph/pkg/schema"
)

const jsonDiagram = `{
  "name": "Orders",
  "triggerCode": "ORD",
  "nodes": [
    {"id": "start", "type": "trigger", "data": {"outputKey": "order"}},
    {"id": "check", "type": "condition", "data": {"conditionType": "isNotEmpty"}}
  ],
  "edges": [{"source": "start", "target": "check"}]
}`

const yamlDiagram = `
id: billing
name: Billing
triggerCode: BIL
nodes:
  - id: start
    type: trigger
  - id: charge
    type: api
    data:
      method: POST
      retries: 3
edges:
  - source: start
    target: charge
    sourceHandle: "true"
`

const hclDiagramSrc = `
name         = "Shipping"
trigger_code = "SHP"

node "start" {
  type = "trigger"
}

node "route" {
  type = "switchcase"
  data = {
    cases = [
      { value = "express" },
      { value = "ground", isDefault = true },
    ]
    timeout = 1.5
  }
}

edge {
  source        = "start"
  target        = "route"
  source_handle = "0"
}
`

// memBase returns a fresh mem:// directory seeded with files.
func memBase(t *testing.T, files map[string]string) string {
	t.Helper()
	base := "mem://localhost/" + strings.ReplaceAll(t.Name(), "/", "_")
	fs := afs.New()
	ctx := context.Background()
	for name, content := range files {
		require.NoError(t, fs.Upload(ctx, base+"/"+name, file.DefaultFileOsMode, strings.NewReader(content)))
	}
	return base
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	p.Put(&schema.Diagram{ID: "a", TriggerCode: "A1"})
	p.Put(&schema.Diagram{ID: "b"})

	d, err := p.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", d.ID)

	d, err = p.LoadByTrigger(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "a", d.ID)

	_, err = p.Load(ctx, "zzz")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	_, err = p.LoadByTrigger(ctx, "nope")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	assert.Equal(t, []string{"a", "b"}, p.IDs())
}

func TestMemoryProvider_PutReplacesTrigger(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	p.Put(&schema.Diagram{ID: "a", TriggerCode: "OLD"})
	p.Put(&schema.Diagram{ID: "a", TriggerCode: "NEW"})

	_, err := p.LoadByTrigger(ctx, "OLD")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	d, err := p.LoadByTrigger(ctx, "NEW")
	require.NoError(t, err)
	assert.Equal(t, "a", d.ID)

	p.Remove("a")
	_, err = p.Load(ctx, "a")
	assert.Error(t, err)
	assert.Empty(t, p.IDs())
}

func TestFileProvider_LoadJSON(t *testing.T) {
	p := NewFileProvider(memBase(t, map[string]string{"orders.json": jsonDiagram}), nil)

	d, err := p.Load(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", d.ID, "id defaults to the file name")
	assert.Equal(t, "Orders", d.Name)
	require.Len(t, d.Nodes, 2)
	assert.Equal(t, "order", d.Nodes[0].Data["outputKey"])
	require.Len(t, d.Edges, 1)
	assert.Nil(t, d.Edges[0].SourceHandle)
}

func TestFileProvider_LoadYAML(t *testing.T) {
	p := NewFileProvider(memBase(t, map[string]string{"billing.yaml": yamlDiagram}), nil)

	d, err := p.Load(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, "billing", d.ID)
	assert.Equal(t, "BIL", d.TriggerCode)
	require.Len(t, d.Nodes, 2)
	assert.Equal(t, "POST", d.Nodes[1].Data["method"])
	assert.Equal(t, 3, d.Nodes[1].Data["retries"])
	require.Len(t, d.Edges, 1)
	assert.Equal(t, "true", d.Edges[0].Handle())
}

func TestFileProvider_LoadHCL(t *testing.T) {
	p := NewFileProvider(memBase(t, map[string]string{"shipping.hcl": hclDiagramSrc}), nil)

	d, err := p.Load(context.Background(), "shipping")
	require.NoError(t, err)
	assert.Equal(t, "shipping", d.ID)
	assert.Equal(t, "Shipping", d.Name)
	assert.Equal(t, "SHP", d.TriggerCode)

	require.Len(t, d.Nodes, 2)
	assert.Equal(t, "start", d.Nodes[0].ID)
	assert.Nil(t, d.Nodes[0].Data)

	route := d.Nodes[1]
	assert.Equal(t, "switchcase", route.Type)
	assert.Equal(t, 1.5, route.Data["timeout"])
	cases, ok := route.Data["cases"].([]any)
	require.True(t, ok)
	require.Len(t, cases, 2)
	assert.Equal(t, map[string]any{"value": "ground", "isDefault": true}, cases[1])

	require.Len(t, d.Edges, 1)
	assert.Equal(t, "0", d.Edges[0].Handle())
	assert.Nil(t, d.Edges[0].TargetHandle)
}

func TestFileProvider_ExtensionOrder(t *testing.T) {
	base := memBase(t, map[string]string{
		"dup.yaml": "id: from-yaml\nnodes: []\nedges: []\n",
		"dup.json": `{"id": "from-json", "nodes": [], "edges": []}`,
	})
	d, err := NewFileProvider(base, nil).Load(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, "from-json", d.ID)
}

func TestFileProvider_NotFoundAndInvalidID(t *testing.T) {
	p := NewFileProvider(memBase(t, map[string]string{"orders.json": jsonDiagram}), nil)
	ctx := context.Background()

	_, err := p.Load(ctx, "missing")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	for _, id := range []string{"", "../etc/passwd", "a/b"} {
		_, err := p.Load(ctx, id)
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err), id)
	}
}

func TestFileProvider_DecodeError(t *testing.T) {
	p := NewFileProvider(memBase(t, map[string]string{"broken.json": `{"nodes": [`}), nil)

	_, err := p.Load(context.Background(), "broken")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestFileProvider_LoadByTrigger(t *testing.T) {
	base := memBase(t, map[string]string{
		"orders.json":  jsonDiagram,
		"billing.yaml": yamlDiagram,
		"shipping.hcl": hclDiagramSrc,
		"broken.json":  `{`,
		"README.md":    "not a diagram",
	})
	p := NewFileProvider(base, nil)
	ctx := context.Background()

	for code, want := range map[string]string{"ORD": "orders", "BIL": "billing", "SHP": "shipping"} {
		d, err := p.LoadByTrigger(ctx, code)
		require.NoError(t, err, code)
		assert.Equal(t, want, d.ID)
	}

	_, err := p.LoadByTrigger(ctx, "NONE")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	ids, err := p.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orders", "billing", "shipping", "broken"}, ids)
}

func TestDecode_UnsupportedFormat(t *testing.T) {
	_, err := Decode("diagram.toml", []byte(""))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestDecode_HCLDataMustBeObject(t *testing.T) {
	_, err := Decode("x.hcl", []byte(`
node "a" {
  type = "step"
  data = "oops"
}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be an object")
}
