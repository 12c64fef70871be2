package flowlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/handlers"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "flowlog.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEngine(t *testing.T, log *Logger, hs map[string]handlers.Handler) *engine.Engine {
	t.Helper()
	reg := handlers.NewRegistry()
	for typ, h := range hs {
		require.NoError(t, reg.Register(typ, h))
	}
	e, err := engine.New(reg, engine.WithObserver(log))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

var okHandler = handlers.HandlerFunc(func(_ context.Context, config, _ map[string]any) (*schema.ExecutionResult, error) {
	return schema.Ok(map[string]any{"last": config["name"]}), nil
})

var failHandler = handlers.HandlerFunc(func(context.Context, map[string]any, map[string]any) (*schema.ExecutionResult, error) {
	return schema.Fail("upstream returned 500"), nil
})

func linear() *schema.Diagram {
	return &schema.Diagram{
		ID: "orders",
		Nodes: []schema.Node{
			{ID: "A", Type: "step", Data: map[string]any{"name": "A"}},
			{ID: "B", Type: "step", Data: map[string]any{"name": "B"}},
			{ID: "note", Type: "comment"},
		},
		Edges: []schema.Edge{
			{Source: "A", Target: "B"},
			{Source: "A", Target: "note"},
		},
	}
}

func kinds(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		k := e.Kind
		if e.NodeID != "" {
			k += ":" + e.NodeID
		}
		out = append(out, k)
	}
	return out
}

func TestLogger_TimelineInMemory(t *testing.T) {
	log := New()
	e := newEngine(t, log, map[string]handlers.Handler{"step": okHandler})

	res, err := e.Run(context.Background(), linear(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventNodeStarted + ":A",
		schema.EventNodeCompleted + ":A",
		schema.EventNodeStarted + ":B",
		schema.EventNodeCompleted + ":B",
		schema.EventNodeSkipped + ":note",
		schema.EventRunCompleted,
	}, kinds(log.Entries(res.RunID)))

	for _, entry := range log.Entries(res.RunID) {
		assert.Equal(t, res.RunID, entry.RunID)
		assert.Equal(t, "orders", entry.DiagramID)
		assert.False(t, entry.Timestamp.IsZero())
	}
	assert.Nil(t, log.Entries("unknown"))
}

func TestLogger_PersistsExecution(t *testing.T) {
	st := newTestStore(t)
	log := New(WithSink(st))
	e := newEngine(t, log, map[string]handlers.Handler{"step": okHandler})
	ctx := context.Background()

	res, err := e.Run(ctx, linear(), map[string]any{"customer": "ada"})
	require.NoError(t, err)

	exec, err := st.GetExecution(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, exec.Status)
	assert.Equal(t, "manual", exec.TriggerType)
	assert.NotNil(t, exec.CompletedAt)

	var vars map[string]any
	require.NoError(t, json.Unmarshal(exec.Variables, &vars))
	assert.Equal(t, "ada", vars["customer"])
	assert.Equal(t, "B", vars["last"])

	nodes, err := st.ListNodeExecutions(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "A", nodes[0].NodeID)
	assert.Equal(t, store.NodeCompleted, nodes[0].Status)
	assert.JSONEq(t, `{"last":"A"}`, string(nodes[0].OutputData))
	assert.JSONEq(t, `{"customer":"ada"}`, string(nodes[0].InputData))
	assert.Equal(t, "B", nodes[1].NodeID)
	assert.Equal(t, "note", nodes[2].NodeID)
	assert.Equal(t, store.NodeSkipped, nodes[2].Status)

	runs, err := st.ListSimulationRuns(ctx, "orders", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.SimulationSuccess, runs[0].Status)
	assert.Equal(t, 3, runs[0].TotalNodes)
	assert.Equal(t, 2, runs[0].CompletedNodes)
	assert.Equal(t, len(res.ExecutionLog), len(runs[0].ExecutionLog))
}

func TestLogger_PersistsFailure(t *testing.T) {
	st := newTestStore(t)
	log := New(WithSink(st))
	e := newEngine(t, log, map[string]handlers.Handler{"step": okHandler, "api": failHandler})
	ctx := context.Background()

	d := &schema.Diagram{
		ID: "billing",
		Nodes: []schema.Node{
			{ID: "A", Type: "step"},
			{ID: "call", Type: "api"},
		},
		Edges: []schema.Edge{{Source: "A", Target: "call"}},
	}
	res, err := e.Run(ctx, d, nil)
	require.Error(t, err)

	entries := log.Entries(res.RunID)
	last := entries[len(entries)-1]
	assert.Equal(t, schema.EventRunFailed, last.Kind)
	assert.Equal(t, "call", last.NodeID)
	assert.Equal(t, "upstream returned 500", last.Error)

	exec, err := st.GetExecution(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, exec.Status)
	assert.Equal(t, "upstream returned 500", exec.ErrorMessage)

	latest, err := st.ReplayNodes(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.NodeFailed, latest["call"].Status)
	assert.Equal(t, "upstream returned 500", latest["call"].ErrorMessage)

	runs, err := st.ListSimulationRuns(ctx, "billing", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.SimulationError, runs[0].Status)
}

func TestLogger_StoppedRunClosesOpenNode(t *testing.T) {
	st := newTestStore(t)
	log := New(WithSink(st))
	ec := engine.NewExecutionContext()
	stopper := handlers.HandlerFunc(func(context.Context, map[string]any, map[string]any) (*schema.ExecutionResult, error) {
		ec.Stop()
		return schema.Ok(nil), nil
	})
	e := newEngine(t, log, map[string]handlers.Handler{"step": stopper})
	ctx := context.Background()

	res, err := e.RunWithContext(ctx, ec, linear(), nil)
	require.Error(t, err)
	require.True(t, res.Cancelled)

	exec, err := st.GetExecution(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCancelled, exec.Status)

	nodes, err := st.ListNodeExecutions(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, store.NodeFailed, nodes[0].Status)
	assert.Equal(t, "execution stopped", nodes[0].ErrorMessage)

	runs, err := st.ListSimulationRuns(ctx, "orders", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.SimulationPartial, runs[0].Status)
}

func TestLogger_WithoutSimulationHistory(t *testing.T) {
	st := newTestStore(t)
	log := New(WithSink(st), WithSimulationHistory(false))
	e := newEngine(t, log, map[string]handlers.Handler{"step": okHandler})
	ctx := context.Background()

	_, err := e.Run(ctx, linear(), nil)
	require.NoError(t, err)

	runs, err := st.ListSimulationRuns(ctx, "orders", 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// brokenSink fails every write.
type brokenSink struct {
	calls int
}

var errBroken = errors.New("disk full")

func (b *brokenSink) StartExecution(context.Context, *store.Execution) error {
	b.calls++
	return errBroken
}

func (b *brokenSink) StartNode(context.Context, *store.NodeExecution) error {
	b.calls++
	return errBroken
}

func (b *brokenSink) CompleteNode(context.Context, int64, json.RawMessage, int64) error {
	b.calls++
	return errBroken
}

func (b *brokenSink) FailNode(context.Context, int64, string, int64) error {
	b.calls++
	return errBroken
}

func (b *brokenSink) FinishExecution(context.Context, string, store.ExecutionUpdate) error {
	b.calls++
	return errBroken
}

func (b *brokenSink) SaveSimulationRun(context.Context, *store.SimulationRun) error {
	b.calls++
	return errBroken
}

func TestLogger_SinkErrorsAreSwallowed(t *testing.T) {
	var buf bytes.Buffer
	sink := &brokenSink{}
	log := New(WithSink(sink), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	e := newEngine(t, log, map[string]handlers.Handler{"step": okHandler})

	res, err := e.Run(context.Background(), linear(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, 1, sink.calls, "an unrecorded execution is not written to again")
	assert.Contains(t, buf.String(), "execution log sink failed")
	assert.Contains(t, buf.String(), "op=\"start execution\"")
	assert.Contains(t, buf.String(), "disk full")
	assert.Len(t, log.Entries(res.RunID), 7, "the in-memory timeline is unaffected")
}

func TestLogger_StatsFromStore(t *testing.T) {
	st := newTestStore(t)
	log := New(WithSink(st))
	e := newEngine(t, log, map[string]handlers.Handler{"step": okHandler})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Run(ctx, linear(), nil)
		require.NoError(t, err)
	}

	stats, err := log.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 100.0, stats.SuccessRate)
	assert.Len(t, stats.Latest, 3)
}

func TestLogger_StatsInMemory(t *testing.T) {
	log := New()
	e := newEngine(t, log, map[string]handlers.Handler{"step": okHandler, "api": failHandler})
	ctx := context.Background()

	_, err := e.Run(ctx, linear(), nil)
	require.NoError(t, err)
	_, err = e.Run(ctx, linear(), nil)
	require.NoError(t, err)
	failing := &schema.Diagram{ID: "orders", Nodes: []schema.Node{{ID: "X", Type: "api"}}}
	_, err = e.Run(ctx, failing, nil)
	require.Error(t, err)

	stats, err := log.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 66.67, stats.SuccessRate)
	require.Len(t, stats.Latest, 3)
	assert.Equal(t, schema.RunStatusFailed, stats.Latest[0].Status, "newest first")

	empty, err := log.Stats(ctx, "nothing")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}

func TestLogger_RetainsBoundedRuns(t *testing.T) {
	log := New(WithRetainedRuns(2))
	e := newEngine(t, log, map[string]handlers.Handler{"step": okHandler})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := e.Run(ctx, linear(), nil)
		require.NoError(t, err)
		ids = append(ids, res.RunID)
	}

	assert.Nil(t, log.Entries(ids[0]), "oldest run evicted")
	assert.NotEmpty(t, log.Entries(ids[1]))
	assert.NotEmpty(t, log.Entries(ids[2]))
}
