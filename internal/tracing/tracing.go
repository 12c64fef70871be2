// Package tracing wraps OpenTelemetry so the engine can open run and node
// spans without importing the SDK. Until Init is called spans are no-ops.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/rendis/flowgraph"

// ShutdownFunc flushes and stops the installed provider.
type ShutdownFunc func(ctx context.Context) error

// Init installs a stdout exporter as the global provider. An empty
// outputFile writes to os.Stdout.
func Init(serviceName, serviceVersion, outputFile string) (ShutdownFunc, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	shutdown, err := InitWithExporter(serviceName, serviceVersion, exporter)
	if err != nil {
		return nil, err
	}
	if closer == nil {
		return shutdown, nil
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}

// InitWithExporter installs exporter as the global provider. Spans are
// exported synchronously as they end.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (ShutdownFunc, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Span is a started span.
type Span struct {
	span trace.Span
}

// SetAttributes attaches string attributes to the span.
func (s *Span) SetAttributes(attrs map[string]string) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, v))
	}
	s.span.SetAttributes(kv...)
	return s
}

// AddEvent records a named point in time on the span.
func (s *Span) AddEvent(name string) {
	if s == nil {
		return
	}
	s.span.AddEvent(name)
}

// StartSpan starts a child of the span in ctx, if any.
func StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, *Span) {
	ctx, span := otel.Tracer(instrumentation).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	sp := &Span{span: span}
	sp.SetAttributes(attrs)
	return ctx, sp
}

// EndSpan records err (or OK) as the span status and ends it.
func EndSpan(sp *Span, err error) {
	if sp == nil {
		return
	}
	if err != nil {
		sp.span.RecordError(err)
		sp.span.SetStatus(codes.Error, err.Error())
	} else {
		sp.span.SetStatus(codes.Ok, "")
	}
	sp.span.End()
}
