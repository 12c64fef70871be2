package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/rendis/flowgraph/pkg/schema"
)

// SubflowHandler runs another diagram from within a run. The runner is bound
// after the engine exists, since the engine itself is the runner.
type SubflowHandler struct {
	mu     sync.RWMutex
	runner FlowRunner
	async  Submitter
	logger *slog.Logger
}

// NewSubflowHandler creates a triggerflow handler. runner and async may be nil
// until Bind is called.
func NewSubflowHandler(runner FlowRunner, async Submitter, logger *slog.Logger) *SubflowHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubflowHandler{runner: runner, async: async, logger: logger}
}

// Bind wires the flow runner and the background submitter.
func (h *SubflowHandler) Bind(runner FlowRunner, async Submitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runner = runner
	h.async = async
}

func (h *SubflowHandler) Handle(ctx context.Context, config, vars map[string]any) (*schema.ExecutionResult, error) {
	h.mu.RLock()
	runner, async := h.runner, h.async
	h.mu.RUnlock()

	flowID := stringParam(config, "flowId", "")
	if sel := mapParam(config, "selectedFlow"); sel != nil {
		if id := stringParam(sel, "id", ""); id != "" {
			flowID = id
		}
	}
	if flowID == "" {
		return schema.Fail("Flow ID is required"), nil
	}
	if runner == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "triggerflow: flow runner not configured")
	}

	inputVar := stringParam(config, "inputVariable", "")
	targetVar := stringParam(config, "targetVariableName", "dataInput")
	initial := map[string]any{}
	if inputVar != "" {
		if v, ok := vars[inputVar]; ok {
			initial[targetVar] = v
		}
	}

	if boolParam(config, "async", false) {
		if async == nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "triggerflow: async execution not configured")
		}
		jobID := "flow_" + uuid.NewString()
		// The child outlives this node, so it must not inherit the node's deadline.
		bg := context.WithoutCancel(ctx)
		err := async.Submit(bg, func(ctx context.Context) error {
			res, err := runner.RunFlow(ctx, flowID, initial)
			if err != nil {
				h.logger.Warn("async flow failed", slog.String("flow_id", flowID), slog.String("job_id", jobID), slog.String("error", err.Error()))
				return err
			}
			h.logger.Info("async flow finished", slog.String("flow_id", flowID), slog.String("job_id", jobID), slog.Bool("success", res.Success))
			return nil
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "triggerflow: submit %s", flowID).WithCause(err)
		}
		res := schema.Ok(map[string]any{"asyncJobId": jobID})
		res.Message = fmt.Sprintf("Flow '%s' queued for async execution", flowID)
		return res, nil
	}

	result, err := runner.RunFlow(ctx, flowID, initial)
	if result == nil {
		if err == nil {
			err = fmt.Errorf("no result")
		}
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			return schema.Fail(fmt.Sprintf("Flow with ID %s not found", flowID)), nil
		}
		return schema.Fail("Flow execution failed: " + err.Error()), nil
	}
	if result.Cancelled {
		return nil, schema.ErrCancelled
	}
	if !result.Success {
		return schema.Fail("Flow execution failed: " + result.Error), nil
	}

	out := map[string]any{}
	if boolParam(config, "waitForCompletion", true) {
		out[stringParam(config, "resultVariable", "flowResult")] = map[string]any{
			"success":      result.Success,
			"error":        result.Error,
			"variables":    result.Variables,
			"nodeStatuses": result.NodeStatuses,
		}
		out["flowExecutionSuccess"] = result.Success
		out["flowExecutionLogs"] = result.ExecutionLog
	}
	for k, v := range result.Variables {
		out[k] = v
	}

	msg := fmt.Sprintf("Successfully executed flow '%s'", flowID)
	if inputVar != "" {
		msg += fmt.Sprintf(" with variable '%s' as '%s'", inputVar, targetVar)
	}
	if !boolParam(config, "waitForCompletion", true) {
		msg += " (fire and forget)"
	}
	res := schema.Ok(out)
	res.Message = msg
	return res, nil
}
