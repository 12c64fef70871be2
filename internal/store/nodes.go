package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// StartNode records a node visit with the next sequence number of its
// execution. node.ID and node.Sequence are set on return.
func (s *LibSQLStore) StartNode(ctx context.Context, node *NodeExecution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Take the write lock before reading MAX(sequence). A deferred
	// transaction in WAL mode would let two writers read the same value.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("release lock noop: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM flow_node_executions WHERE execution_id = ?`, node.ExecutionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}

	if node.Status == "" {
		node.Status = NodeStarted
	}
	node.StartedAt = timeOrNow(node.StartedAt)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO flow_node_executions (execution_id, node_id, node_type, status, started_at, completed_at,
		   duration_ms, input_data, output_data, error_message, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ExecutionID, node.NodeID, node.NodeType, node.Status, node.StartedAt, nullTime(node.CompletedAt),
		node.DurationMs, nullRaw(node.InputData), nullRaw(node.OutputData), nullStr(node.ErrorMessage), seq,
	)
	if err != nil {
		return fmt.Errorf("insert node execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit node execution: %w", err)
	}
	node.ID = id
	node.Sequence = seq
	return nil
}

func (s *LibSQLStore) CompleteNode(ctx context.Context, id int64, output json.RawMessage, durationMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flow_node_executions SET status = ?, completed_at = ?, duration_ms = ?, output_data = ? WHERE id = ?`,
		NodeCompleted, time.Now().UTC(), durationMs, nullRaw(output), id,
	)
	if err != nil {
		return fmt.Errorf("complete node execution: %w", err)
	}
	return checkRowsAffected(res, "node execution", fmt.Sprint(id))
}

func (s *LibSQLStore) FailNode(ctx context.Context, id int64, message string, durationMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flow_node_executions SET status = ?, completed_at = ?, duration_ms = ?, error_message = ? WHERE id = ?`,
		NodeFailed, time.Now().UTC(), durationMs, nullStr(message), id,
	)
	if err != nil {
		return fmt.Errorf("fail node execution: %w", err)
	}
	return checkRowsAffected(res, "node execution", fmt.Sprint(id))
}

// ListNodeExecutions returns the visits of an execution in sequence order.
func (s *LibSQLStore) ListNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, node_id, node_type, status, started_at, completed_at, duration_ms,
		        input_data, output_data, error_message, sequence
		 FROM flow_node_executions WHERE execution_id = ? ORDER BY sequence ASC`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NodeExecution
	for rows.Next() {
		n := &NodeExecution{}
		var (
			completedAt          sql.NullTime
			duration             sql.NullInt64
			input, output, errMs sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.ExecutionID, &n.NodeID, &n.NodeType, &n.Status, &n.StartedAt, &completedAt,
			&duration, &input, &output, &errMs, &n.Sequence); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			n.CompletedAt = &completedAt.Time
		}
		n.DurationMs = duration.Int64
		n.InputData = rawOrNil(input)
		n.OutputData = rawOrNil(output)
		n.ErrorMessage = errMs.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// ReplayNodes rebuilds the latest visit of every node in an execution.
// Returns an error if sequence gaps are detected.
func (s *LibSQLStore) ReplayNodes(ctx context.Context, executionID string) (map[string]*NodeExecution, error) {
	nodes, err := s.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*NodeExecution, len(nodes))
	for i, n := range nodes {
		if expected := int64(i + 1); n.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, n.Sequence)
		}
		latest[n.NodeID] = n
	}
	return latest, nil
}
