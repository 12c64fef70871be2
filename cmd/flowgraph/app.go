package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/flowlog"
	"github.com/rendis/flowgraph/internal/handlers"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/provider"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/internal/tracing"
	"github.com/rendis/flowgraph/internal/validation"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	level     *slog.LevelVar
	store     *store.LibSQLStore
	registry  *handlers.Registry
	validator *validation.DiagramValidator
	provider  *provider.FileProvider
	flowlog   *flowlog.Logger
	hub       *streaming.MemoryHub
	engine    *engine.Engine

	shutdownTracing tracing.ShutdownFunc
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the JSON or text handler at the configured level and
// wraps it with the correlation handler.
func newLogger(w io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logging.NewCorrelationHandler(h))
}

// newApp wires store, handlers, validator, provider, execution logger and engine.
func newApp(ctx context.Context, cfg Config) (*app, error) {
	a := &app{cfg: cfg, level: new(slog.LevelVar)}
	a.level.Set(parseLevel(cfg.LogLevel))
	a.logger = newLogger(os.Stderr, cfg.LogFormat, a.level)
	slog.SetDefault(a.logger)

	if cfg.Trace {
		shutdown, err := tracing.Init("flowgraph", version, cfg.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.shutdownTracing = shutdown
	}

	if dir := dirOf(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			a.Close()
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.Open(cfg.DBDriver, "file:"+cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st
	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	exprs, err := expressions.NewSet()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = handlers.NewRegistry()
	subflow, err := handlers.RegisterBuiltins(a.registry, handlers.Deps{
		Expressions: exprs,
		Cache:       st,
		Logger:      a.logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.validator, err = validation.NewDiagramValidator(a.registry)
	if err != nil {
		a.Close()
		return nil, err
	}

	reentry, err := engine.ParseReentry(cfg.Reentry)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.provider = provider.NewFileProvider(cfg.DiagramsURL, a.logger)
	a.flowlog = flowlog.New(flowlog.WithSink(st), flowlog.WithLogger(a.logger))
	a.hub = streaming.NewMemoryHub()

	a.engine, err = engine.New(a.registry,
		engine.WithLogger(a.logger),
		engine.WithProvider(a.provider),
		engine.WithValidator(a.validator),
		engine.WithObserver(engine.NewLoggingObserver(a.logger)),
		engine.WithObserver(a.flowlog),
		engine.WithObserver(engine.NewHubObserver(a.hub)),
		engine.WithHandlerTimeout(time.Duration(cfg.HandlerTimeout)),
		engine.WithStepDelay(time.Duration(cfg.StepDelay)),
		engine.WithReentry(reentry),
		engine.WithPoolSize(cfg.PoolSize),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	subflow.Bind(a.engine, a.engine.Pool())
	return a, nil
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", slog.String("error", err.Error()))
		}
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("shutdown tracing", slog.String("error", err.Error()))
		}
	}
}

// applyConfig hot-applies the fields that do not need a restart and reports the rest.
func (a *app) applyConfig(next Config) {
	d := diffConfigs(a.cfg, next)
	if d.LogLevelChanged {
		a.level.Set(parseLevel(next.LogLevel))
		a.logger.Info("log level changed", slog.String("level", next.LogLevel))
	}
	if d.EngineChanged {
		a.logger.Warn("engine settings changed; restart to apply",
			slog.String("handler_timeout", time.Duration(next.HandlerTimeout).String()),
			slog.String("step_delay", time.Duration(next.StepDelay).String()),
			slog.String("reentry", next.Reentry),
		)
	}
	if len(d.RestartNeeded) > 0 {
		a.logger.Warn("settings changed; restart to apply", slog.Any("fields", d.RestartNeeded))
	}
	a.cfg = next
}

func dirOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i > 0 {
		return path[:i]
	}
	return ""
}
