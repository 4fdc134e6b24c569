package migrate

import (
	"context"
	"fmt"

	"github.com/hyperengineering/simplesync/internal/store"
)

// DefOp names a declarative schema operation.
type DefOp string

const (
	OpCreateTable DefOp = "createTable"
	OpSyncTable   DefOp = "syncTable"
	OpAddColumn   DefOp = "addColumn"
)

// Def is one declarative schema operation. Moving up it creates; moving
// down it drops what it created.
type Def struct {
	Op     DefOp
	Table  store.TableDef
	Column store.Column
}

// CreateTable declares a plain table (id plus the given columns).
func CreateTable(name string, cols ...store.Column) Def {
	return Def{Op: OpCreateTable, Table: store.TableDef{Name: name, Columns: cols}}
}

// SyncTable declares a synchronizable table: id, the given columns and
// every tracking column.
func SyncTable(name string, cols ...store.Column) Def {
	return Def{Op: OpSyncTable, Table: store.SyncTableDef(name, cols...)}
}

// AddColumn declares a column added to an existing table.
func AddColumn(table string, col store.Column) Def {
	return Def{Op: OpAddColumn, Table: store.TableDef{Name: table}, Column: col}
}

func (d Def) create(ctx context.Context, s store.Store) error {
	switch d.Op {
	case OpCreateTable, OpSyncTable:
		return s.CreateTable(ctx, d.Table)
	case OpAddColumn:
		return s.AddColumn(ctx, d.Table.Name, d.Column)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDefOp, d.Op)
	}
}

func (d Def) drop(ctx context.Context, s store.Store) error {
	switch d.Op {
	case OpCreateTable, OpSyncTable:
		return s.DropTable(ctx, d.Table.Name)
	case OpAddColumn:
		return s.DropColumn(ctx, d.Table.Name, d.Column.Name)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDefOp, d.Op)
	}
}

func (d Def) String() string {
	if d.Op == OpAddColumn {
		return fmt.Sprintf("%s %s.%s", d.Op, d.Table.Name, d.Column.Name)
	}
	return fmt.Sprintf("%s %s", d.Op, d.Table.Name)
}
