package engine

import (
	"slices"

	"github.com/rendis/flowgraph/pkg/schema"
)

// ValidNodeTransitions defines the allowed status transitions of a node
// within one run. completed -> processing is a re-entry through a second
// incoming path; skipped -> skipped is an annotation reached twice.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending:    {schema.NodeStatusProcessing, schema.NodeStatusSkipped},
	schema.NodeStatusProcessing: {schema.NodeStatusCompleted, schema.NodeStatusError},
	schema.NodeStatusCompleted:  {schema.NodeStatusProcessing},
	schema.NodeStatusSkipped:    {schema.NodeStatusSkipped},
	schema.NodeStatusError:      {},
}

// ValidRunTransitions defines the allowed transitions of a run.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusStarted:   {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// CheckNodeTransition returns an INVALID_TRANSITION error if a node may not
// move from one status to the other.
func CheckNodeTransition(nodeID string, from, to schema.NodeStatus) error {
	if slices.Contains(ValidNodeTransitions[from], to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid node transition: %s -> %s", from, to).
		WithNode(nodeID).
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}

// CheckRunTransition is CheckNodeTransition for run statuses.
func CheckRunTransition(runID string, from, to schema.RunStatus) error {
	if slices.Contains(ValidRunTransitions[from], to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid run transition: %s -> %s", from, to).
		WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
}

// RunStatusOf maps a run result to its terminal status.
func RunStatusOf(r *schema.RunResult) schema.RunStatus {
	switch {
	case r.Cancelled:
		return schema.RunStatusCancelled
	case r.Success:
		return schema.RunStatusCompleted
	default:
		return schema.RunStatusFailed
	}
}

// nodeEventType maps a node status to the timeline event it produces.
func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusProcessing:
		return schema.EventNodeStarted
	case schema.NodeStatusCompleted:
		return schema.EventNodeCompleted
	case schema.NodeStatusError:
		return schema.EventNodeFailed
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	default:
		return ""
	}
}
