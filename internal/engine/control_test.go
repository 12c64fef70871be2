package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedContext(t *testing.T) *ExecutionContext {
	t.Helper()
	ec := NewExecutionContext()
	require.NoError(t, ec.begin(&RunInfo{RunID: "r1"}, NoopObserver{}))
	return ec
}

func TestExecutionContext_Breakpoints(t *testing.T) {
	ec := NewExecutionContext()
	ec.AddBreakpoint("b")
	ec.AddBreakpoint("a")
	assert.True(t, ec.HasBreakpoint("a"))
	assert.Equal(t, []string{"a", "b"}, ec.Breakpoints())

	assert.False(t, ec.ToggleBreakpoint("a"))
	assert.False(t, ec.HasBreakpoint("a"))
	assert.True(t, ec.ToggleBreakpoint("c"))

	ec.RemoveBreakpoint("b")
	assert.Equal(t, []string{"c"}, ec.Breakpoints())

	ec.ClearBreakpoints()
	assert.Empty(t, ec.Breakpoints())
}

func TestExecutionContext_BeginConflict(t *testing.T) {
	ec := startedContext(t)
	err := ec.begin(&RunInfo{RunID: "r2"}, NoopObserver{})
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	ec.finish()
	assert.NoError(t, ec.begin(&RunInfo{RunID: "r3"}, NoopObserver{}))
}

func TestExecutionContext_CheckpointNotRunning(t *testing.T) {
	ec := NewExecutionContext()
	err := ec.checkpoint(context.Background())
	assert.True(t, schema.IsCancelled(err))
}

func TestExecutionContext_CheckpointContextCancelled(t *testing.T) {
	ec := startedContext(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ec.checkpoint(ctx)
	assert.True(t, schema.IsCancelled(err))
	assert.False(t, ec.IsRunning())
}

func TestExecutionContext_PauseBlocksUntilResume(t *testing.T) {
	ec := startedContext(t)
	ec.Pause()
	assert.True(t, ec.IsPaused())

	done := make(chan error, 1)
	go func() { done <- ec.checkpoint(context.Background()) }()

	select {
	case <-done:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	ec.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not resume")
	}
	assert.False(t, ec.IsPaused())
}

func TestExecutionContext_StopReleasesPausedCheckpoint(t *testing.T) {
	ec := startedContext(t)
	ec.Pause()

	done := make(chan error, 1)
	go func() { done <- ec.checkpoint(context.Background()) }()
	ec.Stop()

	select {
	case err := <-done:
		assert.True(t, schema.IsCancelled(err))
	case <-time.After(time.Second):
		t.Fatal("stop did not release checkpoint")
	}
	assert.False(t, ec.IsRunning())
	assert.False(t, ec.IsPaused())
}

func TestExecutionContext_PauseIgnoredWhenIdle(t *testing.T) {
	ec := NewExecutionContext()
	ec.Pause()
	assert.False(t, ec.IsPaused())
	ec.Resume()
	ec.Stop()
	assert.False(t, ec.IsRunning())
}

func TestExecutionContext_DelayIsSliced(t *testing.T) {
	ec := startedContext(t)

	done := make(chan error, 1)
	go func() { done <- ec.delay(context.Background(), 5*time.Second) }()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	ec.Stop()
	select {
	case err := <-done:
		assert.True(t, schema.IsCancelled(err))
		assert.Less(t, time.Since(start), 2*DelaySlice)
	case <-time.After(time.Second):
		t.Fatal("delay ignored stop")
	}
}

func TestExecutionContext_DelayCompletes(t *testing.T) {
	ec := startedContext(t)
	start := time.Now()
	require.NoError(t, ec.delay(context.Background(), 150*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.NoError(t, ec.delay(context.Background(), 0))
}

func TestExecutionContext_StatusesAndStats(t *testing.T) {
	ec := startedContext(t)
	ec.AddBreakpoint("x")
	ec.seed([]string{"a", "b", "c"})

	prev := ec.setStatus("a", schema.NodeStatusProcessing)
	assert.Equal(t, schema.NodeStatusPending, prev)
	assert.Equal(t, "a", ec.CurrentNode())
	ec.setStatus("a", schema.NodeStatusCompleted)
	ec.setStatus("b", schema.NodeStatusSkipped)
	ec.setVarCount(3)

	s, ok := ec.NodeStatus("a")
	require.True(t, ok)
	assert.Equal(t, schema.NodeStatusCompleted, s)

	stats := ec.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[schema.NodeStatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[schema.NodeStatusSkipped])
	assert.Equal(t, 1, stats.ByStatus[schema.NodeStatusPending])
	assert.True(t, stats.Running)
	assert.Equal(t, 1, stats.Breakpoints)
	assert.Equal(t, 3, stats.VariableCount)

	statuses := ec.NodeStatuses()
	statuses["a"] = schema.NodeStatusError
	s, _ = ec.NodeStatus("a")
	assert.Equal(t, schema.NodeStatusCompleted, s)
}

func TestExecutionContext_ResetKeepsBreakpoints(t *testing.T) {
	ec := startedContext(t)
	ec.AddBreakpoint("a")
	ec.setStatus("a", schema.NodeStatusProcessing)

	ec.Reset()
	assert.False(t, ec.IsRunning())
	assert.Empty(t, ec.NodeStatuses())
	assert.Empty(t, ec.CurrentNode())
	assert.Equal(t, []string{"a"}, ec.Breakpoints())
}
