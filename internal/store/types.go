package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Execution is the persisted record of one diagram run.
type Execution struct {
	ID           string           `json:"id"`
	DiagramID    string           `json:"diagram_id"`
	TriggerType  string           `json:"trigger_type"`
	Status       schema.RunStatus `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	DurationMs   int64            `json:"duration_ms,omitempty"`
	Variables    json.RawMessage  `json:"variables,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// ExecutionUpdate closes an execution.
type ExecutionUpdate struct {
	Status       schema.RunStatus
	CompletedAt  time.Time
	DurationMs   int64
	Variables    map[string]any
	ErrorMessage string
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	DiagramID string
	Status    schema.RunStatus
	Limit     int
}

// Node execution statuses.
const (
	NodeStarted   = "started"
	NodeCompleted = "completed"
	NodeFailed    = "failed"
	NodeSkipped   = "skipped"
)

// NodeExecution is one node visit within an execution. Sequence increases
// monotonically per execution, so a re-entered node gets a new row.
type NodeExecution struct {
	ID           int64           `json:"id"`
	ExecutionID  string          `json:"execution_id"`
	NodeID       string          `json:"node_id"`
	NodeType     string          `json:"node_type"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	InputData    json.RawMessage `json:"input_data,omitempty"`
	OutputData   json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Sequence     int64           `json:"sequence"`
}

// SimulationStatus is the outcome recorded for a simulation run.
type SimulationStatus string

const (
	SimulationSuccess SimulationStatus = "success"
	SimulationError   SimulationStatus = "error"
	SimulationPartial SimulationStatus = "partial"
)

// SimulationRun is the summary of an interactive run, kept for the run history.
type SimulationRun struct {
	ID             int64             `json:"id"`
	DiagramID      string            `json:"diagram_id"`
	ExecutionLog   []schema.LogEntry `json:"execution_log"`
	FinalVariables map[string]any    `json:"final_variables,omitempty"`
	Status         SimulationStatus  `json:"status"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	TotalNodes     int               `json:"total_nodes"`
	CompletedNodes int               `json:"completed_nodes"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	DurationMs     int64             `json:"duration_ms,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ExecutionStats aggregates the executions of one diagram.
type ExecutionStats struct {
	DiagramID     string       `json:"diagram_id"`
	Total         int          `json:"total"`
	Succeeded     int          `json:"succeeded"`
	Failed        int          `json:"failed"`
	Cancelled     int          `json:"cancelled"`
	SuccessRate   float64      `json:"success_rate"`
	AvgDurationMs float64      `json:"avg_duration_ms"`
	Latest        []*Execution `json:"latest,omitempty"`
}

// Schedule triggers a diagram on a cron expression.
type Schedule struct {
	ID             string         `json:"id"`
	DiagramID      string         `json:"diagram_id"`
	CronExpression string         `json:"cron_expression"`
	Variables      map[string]any `json:"variables,omitempty"`
	Enabled        bool           `json:"enabled"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus  string         `json:"last_run_status,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ScheduleUpdate holds the mutable fields of a schedule. Nil fields are left unchanged.
type ScheduleUpdate struct {
	CronExpression *string
	Enabled        *bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastRunStatus  *string
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	DiagramID string
	Enabled   *bool
	Limit     int
}
