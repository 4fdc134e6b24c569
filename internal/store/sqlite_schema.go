package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Declared SQL types per logical column type. Timestamps are stored as
// RFC 3339 text under a declared type the driver does not parse into
// time.Time.
var sqlTypes = map[ColumnType]string{
	TypeInteger:   "INTEGER",
	TypeReal:      "REAL",
	TypeText:      "TEXT",
	TypeBlob:      "BLOB",
	TypeTimestamp: "TIMESTAMP_TEXT",
}

func columnTypeFromSQL(declared string) ColumnType {
	upper := strings.ToUpper(strings.TrimSpace(declared))
	for t, s := range sqlTypes {
		if s == upper {
			return t
		}
	}
	switch {
	case strings.Contains(upper, "INT"):
		return TypeInteger
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"), strings.Contains(upper, "DOUB"):
		return TypeReal
	case strings.Contains(upper, "BLOB"):
		return TypeBlob
	default:
		return TypeText
	}
}

func columnSQL(c Column) string {
	decl, ok := sqlTypes[c.Type]
	if !ok {
		decl = sqlTypes[TypeText]
	}
	if c.Name == ColID {
		return quoteIdent(c.Name) + " INTEGER PRIMARY KEY"
	}
	return quoteIdent(c.Name) + " " + decl
}

// isInternalTable reports whether a sqlite_master entry belongs to the
// backend rather than the application schema.
func isInternalTable(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, "sqlite_")
}

// Tables implements Store.
func (s *SQLiteStore) Tables(ctx context.Context) ([]TableDef, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if !isInternalTable(name) {
			names = append(names, name)
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	defs := make([]TableDef, 0, len(names))
	for _, name := range names {
		def, err := s.Table(ctx, name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sortDefs(defs)
	return defs, nil
}

// Table implements Store.
func (s *SQLiteStore) Table(ctx context.Context, name string) (TableDef, error) {
	if err := ValidateName(name); err != nil {
		return TableDef{}, err
	}
	rows, err := s.conn().QueryContext(ctx, "PRAGMA table_info("+quoteIdent(name)+")")
	if err != nil {
		return TableDef{}, fmt.Errorf("table info %s: %w", name, err)
	}
	defer rows.Close()

	def := TableDef{Name: name}
	for rows.Next() {
		var (
			cid      int
			colName  string
			declared string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &colName, &declared, &notNull, &dflt, &pk); err != nil {
			return TableDef{}, fmt.Errorf("scan table info %s: %w", name, err)
		}
		def.Columns = append(def.Columns, Column{Name: colName, Type: columnTypeFromSQL(declared)})
	}
	if err := rows.Err(); err != nil {
		return TableDef{}, err
	}
	if len(def.Columns) == 0 {
		return TableDef{}, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	return def, nil
}

// CreateTable implements Store.
func (s *SQLiteStore) CreateTable(ctx context.Context, def TableDef) error {
	if err := s.writable(); err != nil {
		return err
	}
	def, err := normalizeDef(def)
	if err != nil {
		return err
	}
	if _, err := s.Table(ctx, def.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrTableExists, def.Name)
	} else if !errors.Is(err, ErrNoTable) {
		return err
	}

	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = columnSQL(c)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(def.Name), strings.Join(cols, ", "))
	if _, err := s.conn().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", def.Name, err)
	}
	return nil
}

// DropTable implements Store.
func (s *SQLiteStore) DropTable(ctx context.Context, name string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.Table(ctx, name); err != nil {
		return err
	}
	if _, err := s.conn().ExecContext(ctx, "DROP TABLE "+quoteIdent(name)); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	if _, err := s.conn().ExecContext(ctx,
		`DELETE FROM _ss_changes WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("drop change log %s: %w", name, err)
	}
	return nil
}

// AddColumn implements Store.
func (s *SQLiteStore) AddColumn(ctx context.Context, table string, col Column) error {
	if err := s.writable(); err != nil {
		return err
	}
	def, err := s.Table(ctx, table)
	if err != nil {
		return err
	}
	if err := ValidateName(col.Name); err != nil {
		return err
	}
	if def.HasColumn(col.Name) {
		return fmt.Errorf("%w: %s.%s", ErrColumnExists, table, col.Name)
	}
	if col.Type == "" {
		col.Type = TypeText
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), columnSQL(col))
	if _, err := s.conn().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, col.Name, err)
	}
	return nil
}

// DropColumn implements Store.
func (s *SQLiteStore) DropColumn(ctx context.Context, table, column string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if column == ColID {
		return fmt.Errorf("%w: cannot drop %s.%s", ErrInvalidName, table, column)
	}
	def, err := s.Table(ctx, table)
	if err != nil {
		return err
	}
	if !def.HasColumn(column) {
		return fmt.Errorf("%w: %s.%s", ErrNoColumn, table, column)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(table), quoteIdent(column))
	if _, err := s.conn().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop column %s.%s: %w", table, column, err)
	}
	return nil
}
