package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded-SQL backend.
type SQLiteStore struct {
	db       *sql.DB
	tx       *sql.Tx
	depth    int
	readOnly bool
	path     string
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens (creating if needed) the database at dbPath, applies
// pragmas and runs the bookkeeping migrations. A read-only store skips
// migrations and rejects every mutating call.
func NewSQLiteStore(ctx context.Context, dbPath string, readOnly bool) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if readOnly {
			dsn = "file:" + dbPath + "?mode=ro"
		} else if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: the store has a single owner and transactions must
	// see their own writes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := enablePragmas(db, readOnly); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if !readOnly {
		if err := RunMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &SQLiteStore{db: db, readOnly: readOnly, path: dbPath}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB, readOnly bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
	}
	if !readOnly {
		pragmas = append(pragmas,
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
		)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}

// ReadOnly implements Store.
func (s *SQLiteStore) ReadOnly() bool { return s.readOnly }

func (s *SQLiteStore) conn() execQuerier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *SQLiteStore) writable() error {
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Transact implements Store. The outermost scope owns a *sql.Tx; nested
// scopes are savepoints inside it.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	level := s.depth + 1
	savepoint := fmt.Sprintf("ss_sp_%d", level)

	if level == 1 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		s.tx = tx
	} else if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	s.depth = level

	done := false
	defer func() {
		s.depth = level - 1
		if done {
			return
		}
		if level == 1 {
			_ = s.tx.Rollback()
			s.tx = nil
			return
		}
		// Use a fresh context: the caller's may already be cancelled.
		_, _ = s.tx.ExecContext(context.Background(), "ROLLBACK TO "+savepoint)
		_, _ = s.tx.ExecContext(context.Background(), "RELEASE "+savepoint)
	}()

	if err := fn(ctx); err != nil {
		return err
	}

	if level == 1 {
		err := s.tx.Commit()
		s.tx = nil
		done = true
		if err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE "+savepoint); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	done = true
	return nil
}

// quoteIdent quotes a validated identifier for interpolation into SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// VacuumInto writes a compacted, consistent copy of the database to dest,
// replacing any file already there.
func (s *SQLiteStore) VacuumInto(ctx context.Context, dest string) error {
	if s.tx != nil {
		return fmt.Errorf("vacuum into %s: transaction in progress", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := dest + ".tmp"
	_ = os.Remove(tmp)
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
