package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Executions
	StartExecution(ctx context.Context, exec *Execution) error
	FinishExecution(ctx context.Context, id string, update ExecutionUpdate) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	ExecutionStats(ctx context.Context, diagramID string, latest int) (*ExecutionStats, error)

	// Node executions (sequenced per execution)
	StartNode(ctx context.Context, node *NodeExecution) error
	CompleteNode(ctx context.Context, id int64, output json.RawMessage, durationMs int64) error
	FailNode(ctx context.Context, id int64, message string, durationMs int64) error
	ListNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error)
	ReplayNodes(ctx context.Context, executionID string) (map[string]*NodeExecution, error)

	// Simulation runs
	SaveSimulationRun(ctx context.Context, run *SimulationRun) error
	ListSimulationRuns(ctx context.Context, diagramID string, limit int) ([]*SimulationRun, error)

	// Variable cache
	GetVariable(ctx context.Context, name string) (any, bool, error)
	SetVariable(ctx context.Context, name string, value any, ttl time.Duration) error
	DeleteVariable(ctx context.Context, name string) error
	PurgeExpiredVariables(ctx context.Context) (int64, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
