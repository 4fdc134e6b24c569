package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MarkChanged implements Store. A later op overwrites an earlier one for
// the same row.
func (s *SQLiteStore) MarkChanged(ctx context.Context, table string, id int64, op ChangeOp) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO _ss_changes (table_name, record_id, op, changed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (table_name, record_id)
		DO UPDATE SET op = excluded.op, changed_at = excluded.changed_at
	`, table, id, string(op), FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("mark changed %s/%d: %w", table, id, err)
	}
	return nil
}

// Changes implements Store.
func (s *SQLiteStore) Changes(ctx context.Context, table string) (map[int64]ChangeOp, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT record_id, op FROM _ss_changes WHERE table_name = ?
	`, table)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]ChangeOp)
	for rows.Next() {
		var id int64
		var op string
		if err := rows.Scan(&id, &op); err != nil {
			return nil, fmt.Errorf("scan change log entry: %w", err)
		}
		out[id] = ChangeOp(op)
	}
	return out, rows.Err()
}

// ClearChanges implements Store.
func (s *SQLiteStore) ClearChanges(ctx context.Context, table string, ids ...int64) error {
	if err := s.writable(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, table)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM _ss_changes WHERE table_name = ? AND record_id IN (`+marks+`)`, args...)
	if err != nil {
		return fmt.Errorf("clear change log %s: %w", table, err)
	}
	return nil
}

// Meta implements Store.
func (s *SQLiteStore) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn().QueryRowContext(ctx, `
		SELECT value FROM _ss_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get meta: %w", err)
	}
	return value, nil
}

// SetMeta implements Store.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.conn().ExecContext(ctx, `
		INSERT OR REPLACE INTO _ss_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

// DeleteMeta implements Store.
func (s *SQLiteStore) DeleteMeta(ctx context.Context, key string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.conn().ExecContext(ctx, `DELETE FROM _ss_meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete meta: %w", err)
	}
	return nil
}
