package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// TriggerHandler seeds a run. It publishes the incoming value under outputKey
// and extractedValue: the inputVariable when configured, else extractedValue,
// else the first variable by name, else initialValue.
type TriggerHandler struct{}

func (TriggerHandler) Handle(_ context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	outputKey := stringParam(config, "outputKey", "output")

	value := config["initialValue"]
	switch {
	case stringParam(config, "inputVariable", "") != "":
		if v, ok := vars[stringParam(config, "inputVariable", "")]; ok {
			value = v
		}
	case vars["extractedValue"] != nil:
		value = vars["extractedValue"]
	case len(vars) > 0:
		value = vars[sortedKeys(vars)[0]]
	}

	res := schema.Ok(map[string]any{outputKey: value, "extractedValue": value})
	res.Message = fmt.Sprintf("Trigger set %s to %s", outputKey, expressions.Stringify(value))
	return res, nil
}

// ReturnHandler re-publishes a chosen variable as returnValue.
type ReturnHandler struct{}

func (ReturnHandler) Handle(_ context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	name := stringParam(config, "variableToReturn", "extractedValue")
	v, ok := vars[name]
	if !ok || v == nil {
		return schema.Fail(fmt.Sprintf("Variable '%s' not found in available variables.", name)), nil
	}
	res := schema.Ok(map[string]any{"extractedValue": v, "returnValue": v})
	res.Message = fmt.Sprintf("Return node processed, returning variable '%s'", name)
	return res, nil
}

// NotificationHandler renders a message template and writes it to the log.
type NotificationHandler struct {
	logger *slog.Logger
}

// NewNotificationHandler creates a notification handler writing to logger.
func NewNotificationHandler(logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{logger: logger}
}

func (h *NotificationHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	msg := expressions.Render(stringParam(config, "message", "Default notification"), vars)

	level := slog.LevelInfo
	switch stringParam(config, "level", "info") {
	case "warning", "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "debug":
		level = slog.LevelDebug
	}
	h.logger.Log(ctx, level, "notification", slog.String("message", msg))

	res := schema.Ok(map[string]any{"message": msg, "extractedValue": msg})
	res.Message = "Notification sent: " + msg
	return res, nil
}

// AnnotationHandler backs comment and sticker nodes. The engine skips those
// nodes before resolving a handler; this exists so direct ProcessNode calls
// and registry listings behave.
type AnnotationHandler struct{}

func (AnnotationHandler) Handle(context.Context, map[string]any, map[string]any) (*schema.ExecutionResult, error) {
	return &schema.ExecutionResult{Success: true, Output: map[string]any{}, Message: "annotation"}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
