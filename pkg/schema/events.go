package schema

// Event type constants for execution timelines and streaming.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"
	EventNodeSkipped   = "node_skipped"

	EventStatusChanged    = "status_changed"
	EventVariablesChanged = "variables_changed"
	EventLogAdded         = "log_added"
	EventPauseChanged     = "pause_changed"
	EventBreakpointHit    = "breakpoint_hit"
)

// NodeStatus represents the lifecycle state of a node within one run.
type NodeStatus string

const (
	NodeStatusPending    NodeStatus = "pending"
	NodeStatusProcessing NodeStatus = "processing"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusError      NodeStatus = "error"
	NodeStatusSkipped    NodeStatus = "skipped"
)

// RunStatus is the persisted outcome of an execution.
type RunStatus string

const (
	RunStatusStarted   RunStatus = "started"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// LogLevel classifies execution timeline entries.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)
