package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/handlers"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/planner"
	"github.com/rendis/flowgraph/internal/tracing"
	"github.com/rendis/flowgraph/pkg/schema"
)

// DefaultPoolSize is the default concurrency of the async flow pool.
const DefaultPoolSize = 10

// DefaultMaxVisits caps how many node executions a single run may perform.
const DefaultMaxVisits = 10_000

// maxFlowDepth caps triggerflow nesting.
const maxFlowDepth = 16

// ReentryPolicy decides what happens when traversal reaches a node that
// already completed in the current run.
type ReentryPolicy int

const (
	// ReentryAlways executes a node once per incoming path that reaches it.
	ReentryAlways ReentryPolicy = iota
	// ReentryOnce executes each node at most once per run.
	ReentryOnce
)

func (p ReentryPolicy) String() string {
	if p == ReentryOnce {
		return "once"
	}
	return "always"
}

// ParseReentry parses "always" or "once". The empty string means always.
func ParseReentry(s string) (ReentryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return ReentryAlways, nil
	case "once":
		return ReentryOnce, nil
	}
	return ReentryAlways, schema.NewErrorf(schema.ErrCodeValidation, "unknown reentry policy %q", s)
}

// Resolver maps a node type to its handler. *handlers.Registry satisfies it.
type Resolver interface {
	Resolve(nodeType string) (handlers.Handler, error)
}

// DiagramProvider loads diagrams by id or trigger code.
type DiagramProvider interface {
	Load(ctx context.Context, id string) (*schema.Diagram, error)
	LoadByTrigger(ctx context.Context, code string) (*schema.Diagram, error)
}

// DiagramValidator replaces the default pre-flight planner check.
// *validation.DiagramValidator satisfies it.
type DiagramValidator interface {
	Validate(d *schema.Diagram) *schema.ValidationResult
}

// InputValidator is implemented by validators that can check the initial
// variables against a diagram's inputSchema.
type InputValidator interface {
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// Config holds the tunables of an Engine.
type Config struct {
	HandlerTimeout time.Duration // 0 = no deadline unless the node sets data.timeout
	StepDelay      time.Duration // pause before each handler call, for visual stepping
	Reentry        ReentryPolicy
	PoolSize       int // async triggerflow concurrency
	MaxVisits      int
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver adds an observer. Repeated calls accumulate.
func WithObserver(obs Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs) }
}

func WithProvider(p DiagramProvider) Option {
	return func(e *Engine) { e.provider = p }
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(e *Engine) { e.config.HandlerTimeout = d }
}

func WithStepDelay(d time.Duration) Option {
	return func(e *Engine) { e.config.StepDelay = d }
}

func WithReentry(p ReentryPolicy) Option {
	return func(e *Engine) { e.config.Reentry = p }
}

func WithPoolSize(n int) Option {
	return func(e *Engine) { e.config.PoolSize = n }
}

func WithMaxVisits(n int) Option {
	return func(e *Engine) { e.config.MaxVisits = n }
}

// WithValidator runs v instead of the planner check before every run.
func WithValidator(v DiagramValidator) Option {
	return func(e *Engine) { e.validator = v }
}

// Engine interprets diagrams. One Engine serves any number of concurrent
// runs; per-run state lives in the ExecutionContext and the run itself.
type Engine struct {
	registry  Resolver
	config    Config
	logger    *slog.Logger
	observers []Observer
	observer  Observer
	provider  DiagramProvider
	validator DiagramValidator
	pool      *WorkerPool
}

// New creates an Engine resolving handlers through registry.
func New(registry Resolver, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine: handler registry is required")
	}
	e := &Engine{
		registry: registry,
		config:   Config{PoolSize: DefaultPoolSize, MaxVisits: DefaultMaxVisits},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.PoolSize <= 0 {
		e.config.PoolSize = DefaultPoolSize
	}
	if e.config.MaxVisits <= 0 {
		e.config.MaxVisits = DefaultMaxVisits
	}

	pool, err := NewWorkerPool(e.config.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("engine: worker pool: %w", err)
	}
	e.pool = pool
	e.observer = NewCompositeObserver(e.observers...)
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Pool returns the pool used for fire-and-forget flows. Pass it to
// SubflowHandler.Bind together with the engine.
func (e *Engine) Pool() *WorkerPool { return e.pool }

// Close waits for queued async flows and releases the pool.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

type ctxKey int

const (
	flowDepthKey ctxKey = iota
	triggerTypeKey
)

// WithTriggerType labels runs started with ctx ("manual", "schedule", ...).
func WithTriggerType(ctx context.Context, triggerType string) context.Context {
	return context.WithValue(ctx, triggerTypeKey, triggerType)
}

func flowDepth(ctx context.Context) int {
	d, _ := ctx.Value(flowDepthKey).(int)
	return d
}

// TriggerTypeOf returns the trigger a run started with ctx records.
func TriggerTypeOf(ctx context.Context) string {
	if flowDepth(ctx) > 0 {
		return "subflow"
	}
	if t, ok := ctx.Value(triggerTypeKey).(string); ok && t != "" {
		return t
	}
	return "manual"
}

// run is the mutable state of one execution. Only the goroutine driving the
// run touches it.
type run struct {
	info    *RunInfo
	ec      *ExecutionContext
	diagram *schema.Diagram
	vars    map[string]any
	log     []schema.LogEntry
	visits  int
}

// frame is a visited node whose routed edges are still being followed.
type frame struct {
	edges []schema.Edge
	next  int
}

// Run executes d with a fresh ExecutionContext.
func (e *Engine) Run(ctx context.Context, d *schema.Diagram, vars map[string]any) (*schema.RunResult, error) {
	return e.RunWithContext(ctx, NewExecutionContext(), d, vars)
}

// RunWithContext executes d under ec, which the caller may use to pause,
// resume, stop and set breakpoints from other goroutines. The returned error
// is nil on success, ErrCancelled-coded when stopped, and a FlowError
// otherwise. A result is returned whenever the run started.
func (e *Engine) RunWithContext(ctx context.Context, ec *ExecutionContext, d *schema.Diagram, vars map[string]any) (*schema.RunResult, error) {
	if d == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram is required")
	}
	if ec == nil {
		ec = NewExecutionContext()
	}
	depth := flowDepth(ctx)
	if depth >= maxFlowDepth {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "flow nesting exceeds %d levels", maxFlowDepth).
			WithDetails(map[string]any{"diagram_id": d.ID})
	}
	triggerType := TriggerTypeOf(ctx)
	ctx = context.WithValue(ctx, flowDepthKey, depth+1)

	info := &RunInfo{
		RunID:       uuid.NewString(),
		DiagramID:   d.ID,
		DiagramName: d.Name,
		TriggerType: triggerType,
		StartedAt:   time.Now().UTC(),
	}
	ctx = logging.WithRunID(ctx, info.RunID)
	ctx = logging.WithDiagramID(ctx, d.ID)
	ctx, span := tracing.StartSpan(ctx, "flowgraph.run", map[string]string{
		"run.id":       info.RunID,
		"diagram.id":   d.ID,
		"trigger.type": triggerType,
	})

	if err := ec.begin(info, e.observer); err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	defer ec.finish()

	r := &run{info: info, ec: ec, diagram: d, vars: expressions.CopyMap(vars)}
	ids := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		ids = append(ids, n.ID)
	}
	ec.seed(ids)
	ec.setVarCount(len(r.vars))
	e.observer.OnRunStarted(ctx, info, r.vars)

	err := e.execute(ctx, r)
	result := e.finishRun(ctx, r, err)
	tracing.EndSpan(span, err)
	return result, err
}

// RunFlow loads diagramID through the provider and runs it. It returns a nil
// result and a NOT_FOUND error when the diagram does not exist.
func (e *Engine) RunFlow(ctx context.Context, diagramID string, vars map[string]any) (*schema.RunResult, error) {
	if e.provider == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no diagram provider configured")
	}
	d, err := e.provider.Load(ctx, diagramID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "diagram %q not found", diagramID)
	}
	return e.Run(ctx, d, vars)
}

// RunTrigger runs the diagram registered under a trigger code.
func (e *Engine) RunTrigger(ctx context.Context, code string, vars map[string]any) (*schema.RunResult, error) {
	if e.provider == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no diagram provider configured")
	}
	d, err := e.provider.LoadByTrigger(ctx, code)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no diagram for trigger code %q", code)
	}
	return e.Run(ctx, d, vars)
}

// ProcessNode runs a single node against vars without a surrounding run.
// Annotation nodes succeed without invoking a handler.
func (e *Engine) ProcessNode(ctx context.Context, node schema.Node, vars map[string]any) (*schema.ExecutionResult, error) {
	if schema.IsAnnotation(node) {
		res := schema.Ok(nil)
		res.Message = "Skipping comment node: " + node.ID
		return res, nil
	}
	res, err := e.invoke(ctx, node, vars)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "handler returned no result").WithNode(node.ID)
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, r *run) error {
	if err := e.preflight(ctx, r); err != nil {
		return err
	}
	if err := e.checkInput(ctx, r); err != nil {
		return err
	}
	starts := r.diagram.StartNodes()
	e.logf(ctx, r, schema.LogInfo, "", "Starting simulation from %d start node(s)", len(starts))
	for _, start := range starts {
		if err := e.traverse(ctx, r, start); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) preflight(ctx context.Context, r *run) error {
	var res *schema.ValidationResult
	if e.validator != nil {
		res = e.validator.Validate(r.diagram)
	} else {
		res = planner.Validate(r.diagram)
	}
	for _, w := range res.Warnings {
		e.logf(ctx, r, schema.LogWarning, "", "%s", w.Message)
	}
	if res.Valid() {
		return nil
	}
	for _, issue := range res.Errors {
		e.logf(ctx, r, schema.LogError, "", "%s", issue.Message)
	}
	return res.ToError()
}

// checkInput validates the initial variables when the diagram declares an
// inputSchema and the validator supports it.
func (e *Engine) checkInput(ctx context.Context, r *run) error {
	iv, ok := e.validator.(InputValidator)
	if !ok || len(r.diagram.InputSchema) == 0 {
		return nil
	}
	raw, err := json.Marshal(r.diagram.InputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	if err := iv.ValidateInput(r.vars, raw); err != nil {
		e.logf(ctx, r, schema.LogError, "", "Input variables rejected: %s", err.Error())
		return err
	}
	return nil
}

// traverse walks depth-first from start with an explicit stack. Targets of a
// node are followed in the order the router returned them, each one fully
// explored before the next.
func (e *Engine) traverse(ctx context.Context, r *run, start schema.Node) error {
	var stack []*frame
	enter := func(n schema.Node) error {
		edges, err := e.visit(ctx, r, n)
		if err != nil {
			return err
		}
		if len(edges) > 0 {
			stack = append(stack, &frame{edges: edges})
		}
		return nil
	}

	if err := enter(start); err != nil {
		return err
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next == len(top.edges) {
			stack = stack[:len(stack)-1]
			continue
		}
		edge := top.edges[top.next]
		top.next++

		if err := r.ec.checkpoint(ctx); err != nil {
			return err
		}
		target, ok := r.diagram.Node(edge.Target)
		if !ok {
			e.logf(ctx, r, schema.LogWarning, edge.Source, "Target node %s not found, skipping edge", edge.Target)
			e.logger.WarnContext(ctx, "dangling edge", slog.String("source", edge.Source), slog.String("target", edge.Target))
			continue
		}
		if err := enter(*target); err != nil {
			return err
		}
	}
	return nil
}

// visit processes one node and returns the edges to follow from it.
func (e *Engine) visit(ctx context.Context, r *run, node schema.Node) ([]schema.Edge, error) {
	if schema.IsAnnotation(node) {
		if err := e.transition(ctx, r, node.ID, schema.NodeStatusSkipped); err != nil {
			return nil, err
		}
		e.logf(ctx, r, schema.LogInfo, node.ID, "Skipping comment node: %s", node.ID)
		return nil, nil
	}
	if e.config.Reentry == ReentryOnce {
		if s, _ := r.ec.NodeStatus(node.ID); s == schema.NodeStatusCompleted {
			e.logf(ctx, r, schema.LogInfo, node.ID, "Node %s already executed, skipping", node.ID)
			return nil, nil
		}
	}
	r.visits++
	if r.visits > e.config.MaxVisits {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "node visit limit of %d exceeded", e.config.MaxVisits).
			WithNode(node.ID)
	}

	if err := r.ec.checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := e.transition(ctx, r, node.ID, schema.NodeStatusProcessing); err != nil {
		return nil, err
	}

	nctx, span := tracing.StartSpan(logging.WithNodeID(ctx, node.ID), "flowgraph.node", map[string]string{
		"node.id":   node.ID,
		"node.type": node.Type,
	})
	span.AddEvent(nodeEventType(schema.NodeStatusProcessing))
	edges, err := e.executeNode(nctx, r, node, span)
	tracing.EndSpan(span, err)
	return edges, err
}

func (e *Engine) executeNode(ctx context.Context, r *run, node schema.Node, span *tracing.Span) ([]schema.Edge, error) {
	e.observer.OnNodeStarted(ctx, r.info, node, r.vars)

	if err := r.ec.checkBreakpoint(ctx, node.ID); err != nil {
		return nil, err
	}
	if err := r.ec.delay(ctx, e.config.StepDelay); err != nil {
		return nil, err
	}

	e.logf(ctx, r, schema.LogInfo, node.ID, "Processing node: %s (%s)", node.ID, node.Type)
	start := time.Now()
	result, err := e.invoke(ctx, node, r.vars)
	elapsed := time.Since(start)

	if cerr := r.ec.checkpoint(ctx); cerr != nil {
		return nil, cerr
	}
	if err != nil || result == nil || !result.Success {
		return nil, e.fail(ctx, r, node, result, err, elapsed, span)
	}

	maps.Copy(r.vars, result.Output)
	r.ec.setVarCount(len(r.vars))
	if len(result.Output) > 0 {
		e.observer.OnVariablesChange(ctx, r.info, r.vars)
	}
	if result.Message != "" {
		e.logf(ctx, r, schema.LogSuccess, node.ID, "%s", result.Message)
	}

	if err := e.transition(ctx, r, node.ID, schema.NodeStatusCompleted); err != nil {
		return nil, err
	}
	span.AddEvent(nodeEventType(schema.NodeStatusCompleted))
	e.observer.OnNodeCompleted(ctx, r.info, node, result, elapsed)

	return Route(node, result, r.diagram.Outgoing(node.ID)), nil
}

// fail marks node as errored and builds the error that aborts the run.
// Unknown types and timeouts keep their codes; everything else is STEP_FAILED.
func (e *Engine) fail(ctx context.Context, r *run, node schema.Node, result *schema.ExecutionResult, cause error, d time.Duration, span *tracing.Span) error {
	msg := failureMessage(result, cause)
	code := schema.CodeOf(cause)
	if code != schema.ErrCodeUnknownNodeType && code != schema.ErrCodeTimeout {
		code = schema.ErrCodeStepFailed
	}
	ferr := schema.NewError(code, msg).WithNode(node.ID)
	if cause != nil {
		ferr.WithCause(cause)
	}

	if err := e.transition(ctx, r, node.ID, schema.NodeStatusError); err != nil {
		e.logger.ErrorContext(ctx, "node status transition", slog.String("error", err.Error()))
	}
	span.AddEvent(nodeEventType(schema.NodeStatusError))
	e.observer.OnNodeFailed(ctx, r.info, node, ferr, d)
	e.logf(ctx, r, schema.LogError, node.ID, "Error processing node %s: %s", node.ID, msg)
	return ferr
}

func failureMessage(result *schema.ExecutionResult, err error) string {
	if result != nil && result.Message != "" {
		return result.Message
	}
	if err != nil {
		return messageOf(err)
	}
	if result == nil {
		return "handler returned no result"
	}
	return "node failed"
}

func messageOf(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func (e *Engine) transition(ctx context.Context, r *run, nodeID string, to schema.NodeStatus) error {
	from, ok := r.ec.NodeStatus(nodeID)
	if !ok {
		from = schema.NodeStatusPending
	}
	if err := CheckNodeTransition(nodeID, from, to); err != nil {
		return err
	}
	r.ec.setStatus(nodeID, to)
	e.observer.OnStatusChange(ctx, r.info, nodeID, to)
	return nil
}

// invoke resolves and calls the handler for node with private copies of its
// configuration and of vars. With a timeout the call runs on its own
// goroutine and is abandoned at the deadline.
func (e *Engine) invoke(ctx context.Context, node schema.Node, vars map[string]any) (*schema.ExecutionResult, error) {
	h, err := e.registry.Resolve(node.Type)
	if err != nil {
		return nil, err
	}
	config := expressions.CopyMap(node.Data)
	input := expressions.CopyMap(vars)

	timeout := e.timeoutFor(node)
	if timeout <= 0 {
		return callHandler(ctx, h, config, input)
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		res *schema.ExecutionResult
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := callHandler(hctx, h, config, input)
		done <- reply{res: res, err: err}
	}()

	select {
	case rep := <-done:
		return rep.res, rep.err
	case <-hctx.Done():
		if ctx.Err() != nil {
			return nil, schema.ErrCancelled
		}
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "Node timed out after %s", timeout).WithNode(node.ID)
	}
}

func callHandler(ctx context.Context, h handlers.Handler, config, vars map[string]any) (res *schema.ExecutionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, schema.NewErrorf(schema.ErrCodeExecution, "handler panicked: %v", p)
		}
	}()
	return h.Handle(ctx, config, vars)
}

// timeoutFor returns the deadline of one handler call. data.nodeTimeout wins.
// data.timeout applies too unless the node carries a retry policy, in which
// case it bounds each attempt and the handler enforces it.
func (e *Engine) timeoutFor(node schema.Node) time.Duration {
	if d, ok := parseTimeout(node.Data["nodeTimeout"]); ok {
		return d
	}
	if _, retries := node.Data["retry"]; !retries {
		if d, ok := parseTimeout(node.Data["timeout"]); ok {
			return d
		}
	}
	return e.config.HandlerTimeout
}

// parseTimeout accepts a duration string or a number of seconds.
func parseTimeout(v any) (time.Duration, bool) {
	var d time.Duration
	switch v := v.(type) {
	case string:
		d, _ = time.ParseDuration(v)
	case float64:
		d = time.Duration(v * float64(time.Second))
	case int:
		d = time.Duration(v) * time.Second
	}
	return d, d > 0
}

func (e *Engine) finishRun(ctx context.Context, r *run, err error) *schema.RunResult {
	res := &schema.RunResult{
		RunID:     r.info.RunID,
		DiagramID: r.info.DiagramID,
		Variables: r.vars,
		StartedAt: r.info.StartedAt,
	}
	switch {
	case err == nil:
		res.Success = true
		e.logf(ctx, r, schema.LogSuccess, "", "Simulation completed successfully")
	case schema.IsCancelled(err):
		res.Cancelled = true
		res.Error = messageOf(err)
		e.logf(ctx, r, schema.LogWarning, "", "Simulation was stopped")
	default:
		res.Error = messageOf(err)
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			res.FailedNode = fe.NodeID
		}
		e.logf(ctx, r, schema.LogError, "", "Simulation failed: %s", res.Error)
	}
	res.NodeStatuses = r.ec.NodeStatuses()
	res.ExecutionLog = r.log
	res.CompletedAt = time.Now().UTC()

	if terr := CheckRunTransition(res.RunID, schema.RunStatusStarted, RunStatusOf(res)); terr != nil {
		e.logger.ErrorContext(ctx, "run status transition", slog.String("error", terr.Error()))
	}
	e.observer.OnRunFinished(ctx, r.info, res)
	return res
}

func (e *Engine) logf(ctx context.Context, r *run, level schema.LogLevel, nodeID, format string, args ...any) {
	entry := schema.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		NodeID:    nodeID,
	}
	r.log = append(r.log, entry)
	e.observer.OnLog(ctx, r.info, entry)
}

var _ handlers.FlowRunner = (*Engine)(nil)
