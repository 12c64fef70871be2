package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	vars, err := marshalOrNil(sched.Variables)
	if err != nil {
		return fmt.Errorf("marshal schedule variables: %w", err)
	}
	sched.CreatedAt = timeOrNow(sched.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_schedules (id, diagram_id, cron_expression, variables, enabled, last_run_at, next_run_at,
		   last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.DiagramID, sched.CronExpression, vars, boolToInt(sched.Enabled),
		nullTime(sched.LastRunAt), nullTime(sched.NextRunAt), nullStr(sched.LastRunStatus), sched.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `id, diagram_id, cron_expression, variables, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM flow_schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	return sched, err
}

// UpdateSchedule sets the non-nil fields of update.
func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any
	if update.CronExpression != nil {
		sets = append(sets, "cron_expression = ?")
		args = append(args, *update.CronExpression)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != nil {
		sets = append(sets, "last_run_status = ?")
		args = append(args, *update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE flow_schedules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	var where []string
	var args []any
	if filter.DiagramID != "" {
		where = append(where, "diagram_id = ?")
		args = append(args, filter.DiagramID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}

	query := `SELECT ` + scheduleColumns + ` FROM flow_schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flow_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return checkRowsAffected(res, "schedule", id)
}

func scanSchedule(sc scanner) (*Schedule, error) {
	sched := &Schedule{}
	var (
		vars, status     sql.NullString
		enabled          int
		lastRun, nextRun sql.NullTime
	)
	if err := sc.Scan(&sched.ID, &sched.DiagramID, &sched.CronExpression, &vars, &enabled, &lastRun, &nextRun,
		&status, &sched.CreatedAt); err != nil {
		return nil, err
	}
	if raw := rawOrNil(vars); raw != nil {
		if err := json.Unmarshal(raw, &sched.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal schedule variables: %w", err)
		}
	}
	sched.Enabled = enabled != 0
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	sched.LastRunStatus = status.String
	return sched, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
