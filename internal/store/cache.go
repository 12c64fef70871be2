package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetVariable reads a cached variable. Expired entries are removed and
// reported as missing.
func (s *LibSQLStore) GetVariable(ctx context.Context, name string) (any, bool, error) {
	var (
		raw       string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM flow_variable_cache WHERE name = ?`, name,
	).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get variable: %w", err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixMilli() {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM flow_variable_cache WHERE name = ? AND expires_at = ?`, name, expiresAt.Int64); err != nil {
			return nil, false, fmt.Errorf("delete expired variable: %w", err)
		}
		return nil, false, nil
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("unmarshal variable %q: %w", name, err)
	}
	return value, true, nil
}

// SetVariable stores value as JSON. A zero ttl never expires.
func (s *LibSQLStore) SetVariable(ctx context.Context, name string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal variable %q: %w", name, err)
	}
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_variable_cache (name, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		name, string(b), expiresAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set variable: %w", err)
	}
	return nil
}

func (s *LibSQLStore) DeleteVariable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flow_variable_cache WHERE name = ?`, name)
	return err
}

// PurgeExpiredVariables deletes every expired entry and returns how many went.
func (s *LibSQLStore) PurgeExpiredVariables(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM flow_variable_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge variables: %w", err)
	}
	return res.RowsAffected()
}
