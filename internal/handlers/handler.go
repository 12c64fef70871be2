package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Handler executes one node. config is the node's data and vars a private
// snapshot of the run variables; handlers return a delta in Output and never
// rely on mutating vars.
//
// A returned error is an infrastructure failure. A result with Success false is
// a domain failure. The engine aborts the run on either.
type Handler interface {
	Handle(ctx context.Context, config map[string]any, vars map[string]any) (*schema.ExecutionResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, config map[string]any, vars map[string]any) (*schema.ExecutionResult, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, config map[string]any, vars map[string]any) (*schema.ExecutionResult, error) {
	return f(ctx, config, vars)
}

// FlowRunner runs another diagram to completion. The engine satisfies it and is
// wired into the triggerflow handler after construction.
type FlowRunner interface {
	RunFlow(ctx context.Context, diagramID string, vars map[string]any) (*schema.RunResult, error)
}

// Submitter schedules background work. engine.WorkerPool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context) error) error
}

// VariableCache stores variables that outlive a single run.
type VariableCache interface {
	GetVariable(ctx context.Context, name string) (any, bool, error)
	SetVariable(ctx context.Context, name string, value any, ttl time.Duration) error
}

// Deps holds collaborators shared by the built-in handlers.
type Deps struct {
	Expressions *expressions.Set
	Cache       VariableCache
	HTTPClient  *http.Client
	HTTP        HTTPConfig
	Logger      *slog.Logger

	// Flows and Async may be nil at construction and set later with
	// SubflowHandler.Bind.
	Flows FlowRunner
	Async Submitter
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
