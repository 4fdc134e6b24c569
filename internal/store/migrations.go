package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/hyperengineering/simplesync/migrations"
	"github.com/pressly/goose/v3"
)

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// RunMigrations creates or upgrades the backend's bookkeeping tables
// (_ss_meta, _ss_changes) from the embedded goose files. Application
// tables are never touched here.
func RunMigrations(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	goose.SetTableName("_ss_goose_version")

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
