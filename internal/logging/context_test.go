package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", NodeID(ctx))
	assert.Equal(t, "", DiagramID(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithNodeID(ctx, "n-7")
	ctx = WithDiagramID(ctx, "orders")

	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "n-7", NodeID(ctx))
	assert.Equal(t, "orders", DiagramID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithDiagramID(WithRunID(context.Background(), "run-abc"), "orders")
	LogWith(ctx, logger).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-abc")
	assert.Contains(t, out, "diagram_id=orders")
	assert.NotContains(t, out, "node_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithNodeID(WithRunID(context.Background(), "run-9"), "check")
	logger.InfoContext(ctx, "node done")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-9")
	assert.Contains(t, out, "node_id=check")
	assert.Contains(t, out, "node done")
}

func TestCorrelationHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil))).
		With(slog.String("component", "engine")).
		WithGroup("g")

	logger.InfoContext(WithRunID(context.Background(), "r"), "msg", slog.Int("n", 1))

	out := buf.String()
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "g.n=1")
	assert.Contains(t, out, "g.run_id=r")
}

func TestCorrelationHandler_Enabled(t *testing.T) {
	h := NewCorrelationHandler(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
