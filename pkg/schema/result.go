package schema

import "time"

// ExecutionResult is what a node handler returns. ConditionResult and
// SelectedCase are the only fields the router consults.
type ExecutionResult struct {
	Success         bool           `json:"success"`
	Output          map[string]any `json:"output,omitempty"`
	Message         string         `json:"message,omitempty"`
	ConditionResult *bool          `json:"conditionResult,omitempty"`
	SelectedCase    *int           `json:"selectedCase,omitempty"`
}

// Ok builds a successful result with the given output.
func Ok(output map[string]any) *ExecutionResult {
	return &ExecutionResult{Success: true, Output: output}
}

// Fail builds a domain failure result.
func Fail(message string) *ExecutionResult {
	return &ExecutionResult{Success: false, Message: message}
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }

// LogEntry is one line of a run's in-memory timeline.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	NodeID    string    `json:"nodeId,omitempty"`
}

// RunResult is the outcome of one diagram execution.
type RunResult struct {
	RunID        string                `json:"runId"`
	DiagramID    string                `json:"diagramId,omitempty"`
	Success      bool                  `json:"success"`
	Cancelled    bool                  `json:"cancelled,omitempty"`
	Error        string                `json:"error,omitempty"`
	FailedNode   string                `json:"nodeId,omitempty"`
	Variables    map[string]any        `json:"variables"`
	NodeStatuses map[string]NodeStatus `json:"nodeStatuses"`
	ExecutionLog []LogEntry            `json:"executionLog"`
	StartedAt    time.Time             `json:"startedAt"`
	CompletedAt  time.Time             `json:"completedAt"`
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Count returns how many nodes ended in the given status.
func (r *RunResult) Count(status NodeStatus) int {
	n := 0
	for _, s := range r.NodeStatuses {
		if s == status {
			n++
		}
	}
	return n
}
