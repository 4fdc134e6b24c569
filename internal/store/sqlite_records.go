package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, table string, id int64) (Record, error) {
	def, err := s.Table(ctx, table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		selectList(def), quoteIdent(table), quoteIdent(ColID))
	rows, err := s.conn().QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get %s/%d: %w", table, id, err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows, def)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, table, id)
	}
	return recs[0], nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, table string, rec Record) error {
	if err := s.writable(); err != nil {
		return err
	}
	def, err := s.Table(ctx, table)
	if err != nil {
		return err
	}
	id, err := rec.ID()
	if err != nil {
		return err
	}

	cols := def.ColumnNames()
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
		if c == ColID {
			args[i] = id
			continue
		}
		args[i] = Normalize(rec[c])
	}
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := s.conn().ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("put %s/%d: %w", table, id, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, table string, id int64) error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := ValidateName(table); err != nil {
		return err
	}
	if _, err := s.Table(ctx, table); err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(ColID))
	if _, err := s.conn().ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("delete %s/%d: %w", table, id, err)
	}
	return nil
}

// Records implements Store.
func (s *SQLiteStore) Records(ctx context.Context, table string) ([]Record, error) {
	def, err := s.Table(ctx, table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		selectList(def), quoteIdent(table), quoteIdent(ColID))
	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()
	return scanRecords(rows, def)
}

func selectList(def TableDef) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = quoteIdent(c.Name)
	}
	return strings.Join(cols, ", ")
}

// scanRecords reads every row, normalizing driver values.
func scanRecords(rows *sql.Rows, def TableDef) ([]Record, error) {
	var out []Record
	for rows.Next() {
		vals := make([]any, len(def.Columns))
		ptrs := make([]any, len(def.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", def.Name, err)
		}
		rec := make(Record, len(def.Columns))
		for i, c := range def.Columns {
			rec[c.Name] = Normalize(vals[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
