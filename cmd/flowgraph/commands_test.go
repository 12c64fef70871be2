package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/provider"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

func TestSource_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - id: start\n    type: trigger\nedges: []\n"), 0o644))

	src := source{file: path}
	d, err := src.load(context.Background(), provider.NewMemoryProvider(), nil)
	require.NoError(t, err)
	assert.Equal(t, "greet", d.ID)
	require.Len(t, d.Nodes, 1)
}

func TestSource_LoadByIDAndTrigger(t *testing.T) {
	p := provider.NewMemoryProvider()
	p.Put(&schema.Diagram{ID: "orders", TriggerCode: "ORD"})
	ctx := context.Background()

	d, err := (&source{}).load(ctx, p, []string{"orders"})
	require.NoError(t, err)
	assert.Equal(t, "orders", d.ID)

	d, err = (&source{trigger: "ORD"}).load(ctx, p, nil)
	require.NoError(t, err)
	assert.Equal(t, "orders", d.ID)

	_, err = (&source{}).load(ctx, p, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars(`{"a": 1, "b": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "x"}, vars)

	vars, err = parseVars("")
	require.NoError(t, err)
	assert.Empty(t, vars)

	_, err = parseVars(`[1]`)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Nil(t, splitList(""))
}

func TestNodeStatuses(t *testing.T) {
	got := nodeStatuses(map[string]*store.NodeExecution{
		"a": {Status: store.NodeCompleted},
		"b": {Status: store.NodeFailed},
		"c": {Status: store.NodeSkipped},
		"d": {Status: store.NodeStarted},
	})
	assert.Equal(t, map[string]schema.NodeStatus{
		"a": schema.NodeStatusCompleted,
		"b": schema.NodeStatusError,
		"c": schema.NodeStatusSkipped,
		"d": schema.NodeStatusProcessing,
	}, got)
}

func TestPrintRunSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	res := &schema.RunResult{
		RunID:      "r1",
		Error:      "boom",
		FailedNode: "b",
		Variables:  map[string]any{"x": 1},
		NodeStatuses: map[string]schema.NodeStatus{
			"a": schema.NodeStatusCompleted,
			"b": schema.NodeStatusError,
		},
		StartedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
	}

	var buf bytes.Buffer
	printRunSummary(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "run r1: failed in 1.5s")
	assert.Contains(t, out, "nodes: 1 completed, 1 failed, 0 skipped")
	assert.Contains(t, out, "error at b: boom")
	assert.Contains(t, out, `"x": 1`)
}

func TestNewApp_WiresComponents(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.DBDriver = store.DriverSQLite
	cfg.DBPath = filepath.Join(dir, "db", "flowgraph.db")
	cfg.DiagramsURL = dir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.json"), []byte(`{
		"nodes": [
			{"id": "start", "type": "trigger"},
			{"id": "set", "type": "setvariable", "data": {"variableName": "greeting", "variableValue": "hi", "persistent": true}}
		],
		"edges": [{"source": "start", "target": "set"}]
	}`), 0o644))

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.engine.RunFlow(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Variables["greeting"])

	v, ok, err := a.store.GetVariable(context.Background(), "greeting")
	require.NoError(t, err)
	assert.True(t, ok, "persistent variables land in the store cache")
	assert.Equal(t, "hi", v)

	stats, err := a.flowlog.Stats(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Succeeded)
}

func TestApplyConfig_ChangesLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.DBDriver = store.DriverSQLite
	cfg.DBPath = filepath.Join(dir, "flowgraph.db")
	cfg.DiagramsURL = dir

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	next := cfg
	next.LogLevel = "error"
	a.applyConfig(next)
	assert.Equal(t, "error", a.cfg.LogLevel)
	assert.False(t, a.logger.Enabled(context.Background(), 0), "info is disabled at error level")
}
