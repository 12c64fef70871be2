package flowlog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

// DefaultRetainedRuns is how many finished runs keep their timeline in memory.
const DefaultRetainedRuns = 100

// Sink persists execution records. store.LibSQLStore satisfies it.
type Sink interface {
	StartExecution(ctx context.Context, exec *store.Execution) error
	StartNode(ctx context.Context, node *store.NodeExecution) error
	CompleteNode(ctx context.Context, id int64, output json.RawMessage, durationMs int64) error
	FailNode(ctx context.Context, id int64, message string, durationMs int64) error
	FinishExecution(ctx context.Context, id string, update store.ExecutionUpdate) error
	SaveSimulationRun(ctx context.Context, run *store.SimulationRun) error
}

// StatsSource aggregates persisted executions. Sinks that implement it
// answer Stats; otherwise the in-memory history is used.
type StatsSource interface {
	ExecutionStats(ctx context.Context, diagramID string, latest int) (*store.ExecutionStats, error)
}

// Entry is one line of a run's timeline. Kind is one of the schema.Event*
// run and node constants.
type Entry struct {
	Kind      string        `json:"kind"`
	RunID     string        `json:"run_id"`
	DiagramID string        `json:"diagram_id"`
	NodeID    string        `json:"node_id,omitempty"`
	NodeType  string        `json:"node_type,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Option configures a Logger.
type Option func(*Logger)

// WithSink forwards every record to sink.
func WithSink(sink Sink) Option {
	return func(l *Logger) { l.sink = sink }
}

// WithLogger sets the slog logger used to report sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// WithRetainedRuns bounds how many finished runs stay in memory.
func WithRetainedRuns(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.retain = n
		}
	}
}

// WithSimulationHistory toggles saving a simulation run summary when a run finishes.
func WithSimulationHistory(enabled bool) Option {
	return func(l *Logger) { l.history = enabled }
}

// Logger records run timelines and persists them through an optional Sink.
// Persistence is best effort: a failing sink never fails a run.
type Logger struct {
	engine.NoopObserver

	mu       sync.Mutex
	sink     Sink
	logger   *slog.Logger
	retain   int
	history  bool
	runs     map[string]*runLog
	finished []string // run ids, oldest first
	summary  []*store.Execution
}

type runLog struct {
	entries   []Entry
	persisted bool
	open      map[string]int64 // node id -> node execution row
}

// New creates a Logger.
func New(opts ...Option) *Logger {
	l := &Logger{
		logger:  slog.Default(),
		retain:  DefaultRetainedRuns,
		history: true,
		runs:    make(map[string]*runLog),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Entries returns a copy of the timeline of runID.
func (l *Logger) Entries(runID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.runs[runID]
	if !ok {
		return nil
	}
	out := make([]Entry, len(rl.entries))
	copy(out, rl.entries)
	return out
}

// Stats aggregates the executions of diagramID, including the latest ten.
func (l *Logger) Stats(ctx context.Context, diagramID string) (*store.ExecutionStats, error) {
	if src, ok := l.sink.(StatsSource); ok {
		return src.ExecutionStats(ctx, diagramID, 10)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	st := &store.ExecutionStats{DiagramID: diagramID}
	var totalMs int64
	for i := len(l.summary) - 1; i >= 0; i-- {
		e := l.summary[i]
		if e.DiagramID != diagramID {
			continue
		}
		st.Total++
		totalMs += e.DurationMs
		switch e.Status {
		case schema.RunStatusCompleted:
			st.Succeeded++
		case schema.RunStatusFailed:
			st.Failed++
		case schema.RunStatusCancelled:
			st.Cancelled++
		}
		if len(st.Latest) < 10 {
			cp := *e
			st.Latest = append(st.Latest, &cp)
		}
	}
	if st.Total > 0 {
		st.SuccessRate = math.Round(float64(st.Succeeded)/float64(st.Total)*10000) / 100
		st.AvgDurationMs = float64(totalMs) / float64(st.Total)
	}
	return st, nil
}

func (l *Logger) OnRunStarted(ctx context.Context, run *engine.RunInfo, vars map[string]any) {
	rl := &runLog{open: make(map[string]int64)}
	l.mu.Lock()
	l.runs[run.RunID] = rl
	l.mu.Unlock()
	l.append(run, Entry{Kind: schema.EventRunStarted, Message: "Run started"})

	if l.sink == nil {
		return
	}
	err := l.sink.StartExecution(l.sinkCtx(ctx), &store.Execution{
		ID:          run.RunID,
		DiagramID:   run.DiagramID,
		TriggerType: run.TriggerType,
		Status:      schema.RunStatusStarted,
		StartedAt:   run.StartedAt,
		Variables:   marshal(vars),
	})
	if l.warn(ctx, "start execution", err) {
		return
	}
	l.mu.Lock()
	rl.persisted = true
	l.mu.Unlock()
}

func (l *Logger) OnNodeStarted(ctx context.Context, run *engine.RunInfo, node schema.Node, input map[string]any) {
	l.append(run, Entry{Kind: schema.EventNodeStarted, NodeID: node.ID, NodeType: node.Type})
	l.startNode(ctx, run, &store.NodeExecution{
		ExecutionID: run.RunID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      store.NodeStarted,
		InputData:   marshal(input),
	})
}

func (l *Logger) OnNodeCompleted(ctx context.Context, run *engine.RunInfo, node schema.Node, result *schema.ExecutionResult, d time.Duration) {
	l.append(run, Entry{Kind: schema.EventNodeCompleted, NodeID: node.ID, NodeType: node.Type, Message: result.Message, Duration: d})
	if id, ok := l.takeOpen(run.RunID, node.ID); ok {
		l.warn(ctx, "complete node", l.sink.CompleteNode(l.sinkCtx(ctx), id, marshal(result.Output), d.Milliseconds()))
	}
}

func (l *Logger) OnNodeFailed(ctx context.Context, run *engine.RunInfo, node schema.Node, err error, d time.Duration) {
	msg := errorMessage(err)
	l.append(run, Entry{Kind: schema.EventNodeFailed, NodeID: node.ID, NodeType: node.Type, Error: msg, Duration: d})
	if id, ok := l.takeOpen(run.RunID, node.ID); ok {
		l.warn(ctx, "fail node", l.sink.FailNode(l.sinkCtx(ctx), id, msg, d.Milliseconds()))
	}
}

// OnStatusChange records annotation nodes, which are skipped without
// passing through OnNodeStarted.
func (l *Logger) OnStatusChange(ctx context.Context, run *engine.RunInfo, nodeID string, status schema.NodeStatus) {
	if status != schema.NodeStatusSkipped {
		return
	}
	l.append(run, Entry{Kind: schema.EventNodeSkipped, NodeID: nodeID})
	now := time.Now().UTC()
	l.startNode(ctx, run, &store.NodeExecution{
		ExecutionID: run.RunID,
		NodeID:      nodeID,
		NodeType:    "annotation",
		Status:      store.NodeSkipped,
		StartedAt:   now,
		CompletedAt: &now,
	})
	// Skipped rows are final.
	l.takeOpen(run.RunID, nodeID)
}

func (l *Logger) OnRunFinished(ctx context.Context, run *engine.RunInfo, result *schema.RunResult) {
	status := engine.RunStatusOf(result)
	kind := schema.EventRunCompleted
	switch status {
	case schema.RunStatusFailed:
		kind = schema.EventRunFailed
	case schema.RunStatusCancelled:
		kind = schema.EventRunCancelled
	}
	l.append(run, Entry{Kind: kind, NodeID: result.FailedNode, Error: result.Error, Duration: result.Duration()})

	exec := &store.Execution{
		ID:           run.RunID,
		DiagramID:    run.DiagramID,
		TriggerType:  run.TriggerType,
		Status:       status,
		StartedAt:    result.StartedAt,
		CompletedAt:  &result.CompletedAt,
		DurationMs:   result.Duration().Milliseconds(),
		ErrorMessage: result.Error,
	}

	l.mu.Lock()
	rl := l.runs[run.RunID]
	var open map[string]int64
	persisted := false
	if rl != nil {
		open, rl.open = rl.open, make(map[string]int64)
		persisted = rl.persisted
	}
	l.summary = append(l.summary, exec)
	if len(l.summary) > l.retain*10 {
		l.summary = l.summary[len(l.summary)-l.retain*10:]
	}
	l.finished = append(l.finished, run.RunID)
	for len(l.finished) > l.retain {
		delete(l.runs, l.finished[0])
		l.finished = l.finished[1:]
	}
	l.mu.Unlock()

	if l.sink == nil || !persisted {
		return
	}
	sctx := l.sinkCtx(ctx)
	// A stopped run leaves its current node open.
	for _, id := range open {
		l.warn(ctx, "close node", l.sink.FailNode(sctx, id, "execution stopped", 0))
	}
	l.warn(ctx, "finish execution", l.sink.FinishExecution(sctx, run.RunID, store.ExecutionUpdate{
		Status:       status,
		CompletedAt:  result.CompletedAt,
		DurationMs:   exec.DurationMs,
		Variables:    result.Variables,
		ErrorMessage: result.Error,
	}))

	if !l.history {
		return
	}
	sim := &store.SimulationRun{
		DiagramID:      run.DiagramID,
		ExecutionLog:   result.ExecutionLog,
		FinalVariables: result.Variables,
		Status:         simulationStatus(status),
		ErrorMessage:   result.Error,
		TotalNodes:     len(result.NodeStatuses),
		CompletedNodes: result.Count(schema.NodeStatusCompleted),
		StartedAt:      result.StartedAt,
		CompletedAt:    &result.CompletedAt,
		DurationMs:     exec.DurationMs,
	}
	l.warn(ctx, "save simulation run", l.sink.SaveSimulationRun(sctx, sim))
}

func (l *Logger) append(run *engine.RunInfo, e Entry) {
	e.RunID = run.RunID
	e.DiagramID = run.DiagramID
	e.Timestamp = time.Now().UTC()
	l.mu.Lock()
	if rl, ok := l.runs[run.RunID]; ok {
		rl.entries = append(rl.entries, e)
	}
	l.mu.Unlock()
}

func (l *Logger) startNode(ctx context.Context, run *engine.RunInfo, ne *store.NodeExecution) {
	if l.sink == nil || !l.persisted(run.RunID) {
		return
	}
	if l.warn(ctx, "start node", l.sink.StartNode(l.sinkCtx(ctx), ne)) {
		return
	}
	l.mu.Lock()
	if rl, ok := l.runs[run.RunID]; ok {
		rl.open[ne.NodeID] = ne.ID
	}
	l.mu.Unlock()
}

func (l *Logger) persisted(runID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.runs[runID]
	return ok && rl.persisted
}

func (l *Logger) takeOpen(runID, nodeID string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.runs[runID]
	if !ok {
		return 0, false
	}
	id, ok := rl.open[nodeID]
	delete(rl.open, nodeID)
	return id, ok && l.sink != nil
}

// sinkCtx detaches sink writes from run cancellation so a stopped run is
// still recorded.
func (l *Logger) sinkCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// warn logs a sink failure and reports whether there was one.
func (l *Logger) warn(ctx context.Context, op string, err error) bool {
	if err == nil {
		return false
	}
	l.logger.WarnContext(ctx, "execution log sink failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return true
}

func simulationStatus(s schema.RunStatus) store.SimulationStatus {
	switch s {
	case schema.RunStatusCompleted:
		return store.SimulationSuccess
	case schema.RunStatusCancelled:
		return store.SimulationPartial
	default:
		return store.SimulationError
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func marshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

var (
	_ engine.Observer = (*Logger)(nil)
	_ Sink            = (*store.LibSQLStore)(nil)
	_ StatsSource     = (*store.LibSQLStore)(nil)
)
