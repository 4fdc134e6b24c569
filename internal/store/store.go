package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// ChangeOp is the pending sync operation recorded for a row.
type ChangeOp string

const (
	OpSave   ChangeOp = "save"
	OpDelete ChangeOp = "delete"
)

// Metadata keys for the store-level singletons.
const (
	MetaSchemaVersion = "schema_version"
	MetaIdentity      = "db_ident"
	MetaSyncedAt      = "synced_at"
)

// Store defines the contract every storage backend satisfies.
//
// A Store is owned by a single logical thread. Callers that share one across
// goroutines must serialize access themselves.
type Store interface {
	// Transact runs fn atomically. Nested calls join the outermost
	// transaction; a failing nested scope undoes only its own work before
	// the error propagates. Only the outermost scope commits.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error

	Tables(ctx context.Context) ([]TableDef, error)
	Table(ctx context.Context, name string) (TableDef, error)
	CreateTable(ctx context.Context, def TableDef) error
	DropTable(ctx context.Context, name string) error
	AddColumn(ctx context.Context, table string, col Column) error
	DropColumn(ctx context.Context, table, column string) error

	Get(ctx context.Context, table string, id int64) (Record, error)
	// Put replaces the row with rec's id. Columns absent from rec are
	// stored as null; columns the table does not define are ignored.
	Put(ctx context.Context, table string, rec Record) error
	// Delete removes the row. Deleting a missing row is not an error.
	Delete(ctx context.Context, table string, id int64) error
	Records(ctx context.Context, table string) ([]Record, error)

	Meta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
	DeleteMeta(ctx context.Context, key string) error

	MarkChanged(ctx context.Context, table string, id int64, op ChangeOp) error
	Changes(ctx context.Context, table string) (map[int64]ChangeOp, error)
	ClearChanges(ctx context.Context, table string, ids ...int64) error

	ReadOnly() bool
	Close() error
}

// Backend selects a storage implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendMemory Backend = "memory"
)

// Options configures Open.
type Options struct {
	Backend  Backend
	Path     string
	ReadOnly bool
}

// Open constructs the configured backend. The backend is chosen here once;
// nothing downstream probes for capabilities.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("open sqlite store: empty path")
		}
		s, err := NewSQLiteStore(ctx, opts.Path, opts.ReadOnly)
		if err != nil {
			return nil, err
		}
		slog.Debug("store opened",
			"component", "store",
			"backend", BackendSQLite,
			"path", opts.Path,
			"read_only", opts.ReadOnly,
		)
		return s, nil
	case BackendMemory:
		s := NewMemoryStore()
		s.readOnly = opts.ReadOnly
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// SchemaVersion reads the persisted schema version; a fresh store is at 0.
func SchemaVersion(ctx context.Context, s Store) (int, error) {
	v, err := s.Meta(ctx, MetaSchemaVersion)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", v, err)
	}
	return n, nil
}

// SyncTables returns the synchronizable subset of the store's tables.
func SyncTables(ctx context.Context, s Store) ([]TableDef, error) {
	defs, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}
	out := defs[:0]
	for _, d := range defs {
		if IsSynchronizable(d) {
			out = append(out, d)
		}
	}
	return out, nil
}
