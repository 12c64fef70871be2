package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
)

// RunInfo identifies the run an observer callback belongs to.
type RunInfo struct {
	RunID       string
	DiagramID   string
	DiagramName string
	TriggerType string
	StartedAt   time.Time
}

// Observer receives callbacks from the interpreter. All callbacks run
// synchronously on the goroutine driving the run, so implementations must
// return quickly and must not call back into the run's ExecutionContext
// except for Pause, Resume and Stop.
type Observer interface {
	OnRunStarted(ctx context.Context, run *RunInfo, vars map[string]any)
	OnRunFinished(ctx context.Context, run *RunInfo, result *schema.RunResult)

	OnNodeStarted(ctx context.Context, run *RunInfo, node schema.Node, input map[string]any)
	OnNodeCompleted(ctx context.Context, run *RunInfo, node schema.Node, result *schema.ExecutionResult, d time.Duration)
	OnNodeFailed(ctx context.Context, run *RunInfo, node schema.Node, err error, d time.Duration)

	OnStatusChange(ctx context.Context, run *RunInfo, nodeID string, status schema.NodeStatus)
	OnVariablesChange(ctx context.Context, run *RunInfo, vars map[string]any)
	OnLog(ctx context.Context, run *RunInfo, entry schema.LogEntry)
	OnPauseStateChange(ctx context.Context, run *RunInfo, paused, running bool)
	OnBreakpointHit(ctx context.Context, run *RunInfo, nodeID string)
}

// NoopObserver does nothing. Embed it to implement a subset of Observer.
type NoopObserver struct{}

func (NoopObserver) OnRunStarted(context.Context, *RunInfo, map[string]any) {}

func (NoopObserver) OnRunFinished(context.Context, *RunInfo, *schema.RunResult) {}

func (NoopObserver) OnNodeStarted(context.Context, *RunInfo, schema.Node, map[string]any) {}

func (NoopObserver) OnNodeCompleted(context.Context, *RunInfo, schema.Node, *schema.ExecutionResult, time.Duration) {
}

func (NoopObserver) OnNodeFailed(context.Context, *RunInfo, schema.Node, error, time.Duration) {}

func (NoopObserver) OnStatusChange(context.Context, *RunInfo, string, schema.NodeStatus) {}

func (NoopObserver) OnVariablesChange(context.Context, *RunInfo, map[string]any) {}

func (NoopObserver) OnLog(context.Context, *RunInfo, schema.LogEntry) {}

func (NoopObserver) OnPauseStateChange(context.Context, *RunInfo, bool, bool) {}

func (NoopObserver) OnBreakpointHit(context.Context, *RunInfo, string) {}

// CompositeObserver fans callbacks out to several observers in order.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver drops nil entries. With nothing left it returns a
// NoopObserver, with one observer it returns that observer.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopObserver{}
	case 1:
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStarted(ctx context.Context, run *RunInfo, vars map[string]any) {
	for _, o := range c.observers {
		o.OnRunStarted(ctx, run, vars)
	}
}

func (c *CompositeObserver) OnRunFinished(ctx context.Context, run *RunInfo, result *schema.RunResult) {
	for _, o := range c.observers {
		o.OnRunFinished(ctx, run, result)
	}
}

func (c *CompositeObserver) OnNodeStarted(ctx context.Context, run *RunInfo, node schema.Node, input map[string]any) {
	for _, o := range c.observers {
		o.OnNodeStarted(ctx, run, node, input)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, run *RunInfo, node schema.Node, result *schema.ExecutionResult, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, run, node, result, d)
	}
}

func (c *CompositeObserver) OnNodeFailed(ctx context.Context, run *RunInfo, node schema.Node, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeFailed(ctx, run, node, err, d)
	}
}

func (c *CompositeObserver) OnStatusChange(ctx context.Context, run *RunInfo, nodeID string, status schema.NodeStatus) {
	for _, o := range c.observers {
		o.OnStatusChange(ctx, run, nodeID, status)
	}
}

func (c *CompositeObserver) OnVariablesChange(ctx context.Context, run *RunInfo, vars map[string]any) {
	for _, o := range c.observers {
		o.OnVariablesChange(ctx, run, vars)
	}
}

func (c *CompositeObserver) OnLog(ctx context.Context, run *RunInfo, entry schema.LogEntry) {
	for _, o := range c.observers {
		o.OnLog(ctx, run, entry)
	}
}

func (c *CompositeObserver) OnPauseStateChange(ctx context.Context, run *RunInfo, paused, running bool) {
	for _, o := range c.observers {
		o.OnPauseStateChange(ctx, run, paused, running)
	}
}

func (c *CompositeObserver) OnBreakpointHit(ctx context.Context, run *RunInfo, nodeID string) {
	for _, o := range c.observers {
		o.OnBreakpointHit(ctx, run, nodeID)
	}
}

// LoggingObserver writes run and node lifecycle records with slog.
type LoggingObserver struct {
	NoopObserver
	Logger *slog.Logger
}

// NewLoggingObserver creates a LoggingObserver; nil means slog.Default().
func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStarted(ctx context.Context, run *RunInfo, vars map[string]any) {
	o.Logger.InfoContext(ctx, "run started",
		slog.String("diagram_id", run.DiagramID),
		slog.String("trigger", run.TriggerType),
		slog.Int("variables", len(vars)),
	)
}

func (o *LoggingObserver) OnRunFinished(ctx context.Context, run *RunInfo, result *schema.RunResult) {
	level := slog.LevelInfo
	switch {
	case result.Cancelled:
		level = slog.LevelWarn
	case !result.Success:
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "run finished",
		slog.String("diagram_id", run.DiagramID),
		slog.Bool("success", result.Success),
		slog.Bool("cancelled", result.Cancelled),
		slog.Duration("duration", result.Duration()),
		slog.String("error", result.Error),
	)
}

func (o *LoggingObserver) OnNodeStarted(ctx context.Context, run *RunInfo, node schema.Node, _ map[string]any) {
	o.Logger.DebugContext(ctx, "node started",
		slog.String("node", node.ID),
		slog.String("type", node.Type),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, run *RunInfo, node schema.Node, result *schema.ExecutionResult, d time.Duration) {
	o.Logger.DebugContext(ctx, "node completed",
		slog.String("node", node.ID),
		slog.String("type", node.Type),
		slog.Duration("duration", d),
		slog.String("message", result.Message),
	)
}

func (o *LoggingObserver) OnNodeFailed(ctx context.Context, run *RunInfo, node schema.Node, err error, d time.Duration) {
	o.Logger.ErrorContext(ctx, "node failed",
		slog.String("node", node.ID),
		slog.String("type", node.Type),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnBreakpointHit(ctx context.Context, run *RunInfo, nodeID string) {
	o.Logger.InfoContext(ctx, "breakpoint hit", slog.String("node", nodeID))
}

// HubObserver republishes debugger callbacks on a streaming.EventHub.
type HubObserver struct {
	NoopObserver
	hub streaming.EventHub
}

func NewHubObserver(hub streaming.EventHub) *HubObserver {
	return &HubObserver{hub: hub}
}

func (h *HubObserver) publish(ctx context.Context, run *RunInfo, nodeID, eventType string, payload any) {
	// A cancelled run still reports its final events.
	_ = h.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		RunID:     run.RunID,
		DiagramID: run.DiagramID,
		NodeID:    nodeID,
		EventType: eventType,
		Payload:   payload,
	})
}

func (h *HubObserver) OnRunStarted(ctx context.Context, run *RunInfo, vars map[string]any) {
	h.publish(ctx, run, "", schema.EventRunStarted, map[string]any{"variables": vars})
}

func (h *HubObserver) OnRunFinished(ctx context.Context, run *RunInfo, result *schema.RunResult) {
	eventType := schema.EventRunCompleted
	switch {
	case result.Cancelled:
		eventType = schema.EventRunCancelled
	case !result.Success:
		eventType = schema.EventRunFailed
	}
	h.publish(ctx, run, result.FailedNode, eventType, result)
}

func (h *HubObserver) OnNodeStarted(ctx context.Context, run *RunInfo, node schema.Node, _ map[string]any) {
	h.publish(ctx, run, node.ID, schema.EventNodeStarted, map[string]any{"type": node.Type})
}

func (h *HubObserver) OnNodeCompleted(ctx context.Context, run *RunInfo, node schema.Node, result *schema.ExecutionResult, d time.Duration) {
	h.publish(ctx, run, node.ID, schema.EventNodeCompleted, map[string]any{"message": result.Message, "durationMs": d.Milliseconds()})
}

func (h *HubObserver) OnNodeFailed(ctx context.Context, run *RunInfo, node schema.Node, err error, d time.Duration) {
	h.publish(ctx, run, node.ID, schema.EventNodeFailed, map[string]any{"error": err.Error(), "durationMs": d.Milliseconds()})
}

func (h *HubObserver) OnStatusChange(ctx context.Context, run *RunInfo, nodeID string, status schema.NodeStatus) {
	h.publish(ctx, run, nodeID, schema.EventStatusChanged, map[string]any{"status": status})
}

func (h *HubObserver) OnVariablesChange(ctx context.Context, run *RunInfo, vars map[string]any) {
	h.publish(ctx, run, "", schema.EventVariablesChanged, map[string]any{"variables": vars})
}

func (h *HubObserver) OnLog(ctx context.Context, run *RunInfo, entry schema.LogEntry) {
	h.publish(ctx, run, entry.NodeID, schema.EventLogAdded, entry)
}

func (h *HubObserver) OnPauseStateChange(ctx context.Context, run *RunInfo, paused, running bool) {
	h.publish(ctx, run, "", schema.EventPauseChanged, map[string]any{"paused": paused, "running": running})
}

func (h *HubObserver) OnBreakpointHit(ctx context.Context, run *RunInfo, nodeID string) {
	h.publish(ctx, run, nodeID, schema.EventBreakpointHit, nil)
}

var (
	_ Observer = NoopObserver{}
	_ Observer = (*CompositeObserver)(nil)
	_ Observer = (*LoggingObserver)(nil)
	_ Observer = (*HubObserver)(nil)
)
