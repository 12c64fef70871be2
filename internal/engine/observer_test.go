package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rendis/flowgraph/internal/handlers"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompositeObserver(t *testing.T) {
	assert.IsType(t, NoopObserver{}, NewCompositeObserver())
	assert.IsType(t, NoopObserver{}, NewCompositeObserver(nil, nil))

	one := &recordingObserver{}
	assert.Same(t, one, NewCompositeObserver(nil, one))

	two := &recordingObserver{}
	c := NewCompositeObserver(one, two)
	require.IsType(t, &CompositeObserver{}, c)

	run := &RunInfo{RunID: "r"}
	c.OnStatusChange(context.Background(), run, "a", schema.NodeStatusProcessing)
	c.OnBreakpointHit(context.Background(), run, "a")
	for _, o := range []*recordingObserver{one, two} {
		assert.Equal(t, []string{"status:a:processing", "breakpoint:a"}, o.snapshot())
	}
}

func TestLoggingObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)

	ctx := context.Background()
	run := &RunInfo{RunID: "r", DiagramID: "d", TriggerType: "manual"}
	node := schema.Node{ID: "n1", Type: "api"}

	obs.OnRunStarted(ctx, run, map[string]any{"a": 1})
	obs.OnNodeStarted(ctx, run, node, nil)
	obs.OnNodeFailed(ctx, run, node, errors.New("bad gateway"), time.Millisecond)
	obs.OnRunFinished(ctx, run, &schema.RunResult{Error: "bad gateway"})

	out := buf.String()
	assert.Contains(t, out, "run started")
	assert.Contains(t, out, "node started")
	assert.Contains(t, out, "level=ERROR msg=\"node failed\"")
	assert.Contains(t, out, "bad gateway")
	assert.Contains(t, out, "level=ERROR msg=\"run finished\"")
}

func TestLoggingObserver_NilLogger(t *testing.T) {
	assert.NotNil(t, NewLoggingObserver(nil).Logger)
}

func TestHubObserver_PublishesRunEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{})
	require.NoError(t, err)
	defer cancel()

	rec := &recorder{}
	e := newEngine(t,
		newRegistry(t, map[string]handlers.Handler{"step": handlers.HandlerFunc(rec.handle)}),
		WithObserver(NewHubObserver(hub)),
	)
	res, err := e.Run(context.Background(), &schema.Diagram{ID: "d1", Nodes: []schema.Node{step("A")}}, nil)
	require.NoError(t, err)

	var types []string
	timeout := time.After(time.Second)
	for len(types) == 0 || types[len(types)-1] != schema.EventRunCompleted {
		select {
		case ev := <-ch:
			assert.Equal(t, res.RunID, ev.RunID)
			assert.Equal(t, "d1", ev.DiagramID)
			types = append(types, ev.EventType)
		case <-timeout:
			t.Fatalf("missing run_completed, got %v", types)
		}
	}
	assert.Equal(t, schema.EventRunStarted, types[0])
	assert.Contains(t, types, schema.EventStatusChanged)
	assert.Contains(t, types, schema.EventNodeStarted)
	assert.Contains(t, types, schema.EventNodeCompleted)
	assert.Contains(t, types, schema.EventVariablesChanged)
	assert.Contains(t, types, schema.EventLogAdded)
}

func TestHubObserver_FailedRun(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{
		EventTypes: []string{schema.EventRunFailed, schema.EventRunCancelled},
	})
	require.NoError(t, err)
	defer cancel()

	obs := NewHubObserver(hub)
	run := &RunInfo{RunID: "r"}
	obs.OnRunFinished(context.Background(), run, &schema.RunResult{FailedNode: "x"})
	obs.OnRunFinished(context.Background(), run, &schema.RunResult{Cancelled: true})

	ev := <-ch
	assert.Equal(t, schema.EventRunFailed, ev.EventType)
	assert.Equal(t, "x", ev.NodeID)
	ev = <-ch
	assert.Equal(t, schema.EventRunCancelled, ev.EventType)
}
