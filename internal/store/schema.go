package store

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ColumnType is the logical type of a column. Backends map it onto their
// own storage types.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeReal      ColumnType = "real"
	TypeText      ColumnType = "text"
	TypeBlob      ColumnType = "blob"
	TypeTimestamp ColumnType = "timestamp"
)

// Tracking column names carried by synchronizable tables.
const (
	ColID        = "id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColActive    = "active"
	ColVersion   = "version"
	ColIDStart   = "id_start"
	ColIDStartDB = "id_start_db"
	ColSyncedAt  = "synced_at"
)

// LocalOnlySuffix marks tables that never leave the local store, even when
// they carry every tracking column.
const LocalOnlySuffix = "_local"

// TrackingColumns lists the columns a table needs to take part in sync.
var TrackingColumns = []Column{
	{Name: ColCreatedAt, Type: TypeTimestamp},
	{Name: ColUpdatedAt, Type: TypeTimestamp},
	{Name: ColActive, Type: TypeInteger},
	{Name: ColVersion, Type: TypeInteger},
	{Name: ColIDStart, Type: TypeInteger},
	{Name: ColIDStartDB, Type: TypeText},
	{Name: ColSyncedAt, Type: TypeTimestamp},
}

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Column describes a single table column.
type Column struct {
	Name string     `yaml:"name" json:"name"`
	Type ColumnType `yaml:"type" json:"type"`
}

// TableDef describes a table's column set. The id column is always first.
type TableDef struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []Column `yaml:"columns" json:"columns"`
}

// Column returns the named column.
func (t TableDef) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table defines the named column.
func (t TableDef) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns the column names in definition order.
func (t TableDef) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy of the definition.
func (t TableDef) Clone() TableDef {
	cols := make([]Column, len(t.Columns))
	copy(cols, t.Columns)
	return TableDef{Name: t.Name, Columns: cols}
}

// IsSynchronizable reports whether the table carries every tracking column
// and is not reserved as local-only.
func IsSynchronizable(def TableDef) bool {
	if strings.HasSuffix(def.Name, LocalOnlySuffix) {
		return false
	}
	for _, c := range TrackingColumns {
		if !def.HasColumn(c.Name) {
			return false
		}
	}
	return true
}

// SyncTableDef builds a synchronizable table definition: id, the given
// columns, then the tracking columns.
func SyncTableDef(name string, cols ...Column) TableDef {
	def := TableDef{Name: name}
	def.Columns = append(def.Columns, Column{Name: ColID, Type: TypeInteger})
	def.Columns = append(def.Columns, cols...)
	def.Columns = append(def.Columns, TrackingColumns...)
	return def
}

// normalizeDef validates names and guarantees a leading integer id column.
func normalizeDef(def TableDef) (TableDef, error) {
	if err := ValidateName(def.Name); err != nil {
		return TableDef{}, err
	}
	out := TableDef{Name: def.Name}
	out.Columns = append(out.Columns, Column{Name: ColID, Type: TypeInteger})
	seen := map[string]bool{ColID: true}
	for _, c := range def.Columns {
		if c.Name == ColID {
			continue
		}
		if err := ValidateName(c.Name); err != nil {
			return TableDef{}, err
		}
		if seen[c.Name] {
			return TableDef{}, fmt.Errorf("%w: %s.%s", ErrColumnExists, def.Name, c.Name)
		}
		seen[c.Name] = true
		if c.Type == "" {
			c.Type = TypeText
		}
		out.Columns = append(out.Columns, c)
	}
	return out, nil
}

// ValidateName checks a table or column name. Names beginning with an
// underscore are reserved for internal tables.
func ValidateName(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func sortDefs(defs []TableDef) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
}
