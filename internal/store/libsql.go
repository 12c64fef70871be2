package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Supported database/sql driver names.
const (
	DriverLibSQL = "libsql"
	DriverSQLite = "sqlite" // modernc.org/sqlite, pure Go
)

// LibSQLStore implements the Store interface on libSQL (embedded SQLite fork)
// or on pure-Go SQLite. Both speak the same SQL dialect.
type LibSQLStore struct {
	db     *sql.DB
	driver string
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	return Open(DriverLibSQL, dbPath)
}

// Open opens a store with the given driver ("libsql" or "sqlite").
func Open(driver, dsn string) (*LibSQLStore, error) {
	switch driver {
	case "", DriverLibSQL:
		driver = DriverLibSQL
	case DriverSQLite:
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, driver: driver}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Driver returns the database/sql driver name in use.
func (s *LibSQLStore) Driver() string { return s.driver }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// SchemaVersion returns the highest applied migration.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Executions ---

// StartExecution inserts exec with status started. An empty ID is filled in.
func (s *LibSQLStore) StartExecution(ctx context.Context, exec *Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.TriggerType == "" {
		exec.TriggerType = "manual"
	}
	if exec.Status == "" {
		exec.Status = schema.RunStatusStarted
	}
	exec.StartedAt = timeOrNow(exec.StartedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flow_executions (id, diagram_id, trigger_type, status, started_at, variables)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.DiagramID, exec.TriggerType, string(exec.Status), exec.StartedAt, nullRaw(exec.Variables),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// FinishExecution records the outcome of an execution.
func (s *LibSQLStore) FinishExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	vars, err := marshalOrNil(update.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flow_executions
		 SET status = ?, completed_at = ?, duration_ms = ?, variables = COALESCE(?, variables), error_message = ?
		 WHERE id = ?`,
		string(update.Status), timeOrNow(update.CompletedAt), update.DurationMs, vars, nullStr(update.ErrorMessage), id,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return checkRowsAffected(res, "execution", id)
}

const executionColumns = `id, diagram_id, trigger_type, status, started_at, completed_at, duration_ms, variables, error_message`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM flow_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return e, err
}

// ListExecutions returns executions newest first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any
	if filter.DiagramID != "" {
		where = append(where, "diagram_id = ?")
		args = append(args, filter.DiagramID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM flow_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExecutionStats aggregates the executions of diagramID and attaches the
// latest ones. The success rate is a percentage rounded to two decimals.
func (s *LibSQLStore) ExecutionStats(ctx context.Context, diagramID string, latest int) (*ExecutionStats, error) {
	st := &ExecutionStats{DiagramID: diagramID}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        AVG(duration_ms)
		 FROM flow_executions WHERE diagram_id = ?`,
		string(schema.RunStatusCompleted), string(schema.RunStatusFailed), string(schema.RunStatusCancelled), diagramID,
	).Scan(&st.Total, &st.Succeeded, &st.Failed, &st.Cancelled, &avg)
	if err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}
	if st.Total > 0 {
		st.SuccessRate = math.Round(float64(st.Succeeded)/float64(st.Total)*10000) / 100
	}
	if avg.Valid {
		st.AvgDurationMs = avg.Float64
	}
	if latest > 0 {
		st.Latest, err = s.ListExecutions(ctx, ExecutionFilter{DiagramID: diagramID, Limit: latest})
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (*Execution, error) {
	e := &Execution{}
	var (
		status      string
		completedAt sql.NullTime
		duration    sql.NullInt64
		vars, errMs sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.DiagramID, &e.TriggerType, &status, &e.StartedAt, &completedAt, &duration, &vars, &errMs); err != nil {
		return nil, err
	}
	e.Status = schema.RunStatus(status)
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	e.DurationMs = duration.Int64
	e.Variables = rawOrNil(vars)
	e.ErrorMessage = errMs.String
	return e, nil
}

// --- Simulation runs ---

func (s *LibSQLStore) SaveSimulationRun(ctx context.Context, run *SimulationRun) error {
	if run.Status == "" {
		run.Status = SimulationSuccess
	}
	logJSON, err := json.Marshal(run.ExecutionLog)
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}
	if run.ExecutionLog == nil {
		logJSON = []byte("[]")
	}
	vars, err := marshalOrNil(run.FinalVariables)
	if err != nil {
		return fmt.Errorf("marshal final variables: %w", err)
	}
	run.StartedAt = timeOrNow(run.StartedAt)
	run.CreatedAt = timeOrNow(run.CreatedAt)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO flow_simulation_runs (diagram_id, execution_log, final_variables, status, error_message,
		   total_nodes, completed_nodes, started_at, completed_at, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.DiagramID, string(logJSON), vars, string(run.Status), nullStr(run.ErrorMessage),
		run.TotalNodes, run.CompletedNodes, run.StartedAt, nullTime(run.CompletedAt), run.DurationMs, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert simulation run: %w", err)
	}
	run.ID, err = res.LastInsertId()
	return err
}

// ListSimulationRuns returns the latest runs of a diagram, newest first.
func (s *LibSQLStore) ListSimulationRuns(ctx context.Context, diagramID string, limit int) ([]*SimulationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, diagram_id, execution_log, final_variables, status, error_message, total_nodes, completed_nodes,
		        started_at, completed_at, duration_ms, created_at
		 FROM flow_simulation_runs WHERE diagram_id = ? ORDER BY id DESC LIMIT ?`, diagramID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SimulationRun
	for rows.Next() {
		r := &SimulationRun{}
		var (
			logJSON     string
			vars, errMs sql.NullString
			status      string
			completedAt sql.NullTime
			duration    sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.DiagramID, &logJSON, &vars, &status, &errMs, &r.TotalNodes, &r.CompletedNodes,
			&r.StartedAt, &completedAt, &duration, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(logJSON), &r.ExecutionLog); err != nil {
			return nil, fmt.Errorf("unmarshal execution log: %w", err)
		}
		if vars.Valid && vars.String != "" {
			if err := json.Unmarshal([]byte(vars.String), &r.FinalVariables); err != nil {
				return nil, fmt.Errorf("unmarshal final variables: %w", err)
			}
		}
		r.Status = SimulationStatus(status)
		r.ErrorMessage = errMs.String
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		r.DurationMs = duration.Int64
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

// marshalOrNil encodes m as JSON text, or returns nil for an empty map.
func marshalOrNil(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Store = (*LibSQLStore)(nil)
