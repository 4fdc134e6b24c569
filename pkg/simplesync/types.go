package simplesync

import (
	"time"

	"github.com/hyperengineering/simplesync/internal/migrate"
	"github.com/hyperengineering/simplesync/internal/session"
	"github.com/hyperengineering/simplesync/internal/store"
	ssync "github.com/hyperengineering/simplesync/internal/sync"
)

// Record is one row, keyed by column name.
type Record = store.Record

// Column describes a table column.
type Column = store.Column

// ColumnType is a column's storage class.
type ColumnType = store.ColumnType

// Column types
const (
	TypeInteger   = store.TypeInteger
	TypeReal      = store.TypeReal
	TypeText      = store.TypeText
	TypeBlob      = store.TypeBlob
	TypeTimestamp = store.TypeTimestamp
)

// Migration building blocks.
type (
	Registry = migrate.Registry
	Step     = migrate.Step
	Def      = migrate.Def
	StepFunc = migrate.Func
)

// Latest targets the highest registered migration.
const Latest = migrate.Latest

// Def constructors
var (
	CreateTable = migrate.CreateTable
	SyncTable   = migrate.SyncTable
	AddColumn   = migrate.AddColumn
)

// Remaps maps table -> temporary id -> canonical id.
type Remaps = ssync.Remaps

// SyncResult describes a finished Sync call.
type SyncResult = session.Result

// State of the sync coordinator.
type State = session.State

// Config holds the client configuration
type Config struct {
	DBPath     string // Local SQLite database; empty keeps data in memory
	ServerURL  string // Sync server base URL; empty runs offline only
	StoreID    string // Server dataset (default: "default")
	APIKey     string // Bearer token for the server
	SchemaPath string // Where pushed schema manifests are kept

	// AppVersion and Registry define the schema in code. When Registry is
	// nil the schema comes from SchemaPath and server pushes.
	AppVersion string
	Registry   Registry

	AutoSync     bool          // Sync after writes and on an interval
	SyncInterval time.Duration // Background sync interval (default: 5 minutes)
	Throttle     time.Duration // Minimum gap between triggers (default: 1s)
	MaxRetries   int           // Version mismatch / update retries (default: 3)
	ProbeDelay   time.Duration // First reconnect probe delay (default: 10s)
	Timeout      time.Duration // HTTP timeout (default: 30s)
	Compress     bool          // Snappy-encode request bodies

	OnRemap   func(Remaps)
	OnChanged func()
	OnStatus  func(State)
}

// Stats summarizes the local replica.
type Stats struct {
	Identity      string `json:"db_ident"`
	AppVersion    string `json:"app_version"`
	SchemaVersion int    `json:"schema_version"`
	SyncedAt      string `json:"synced_at,omitempty"`
	Pending       int    `json:"pending"`
	State         State  `json:"state"`
	Online        bool   `json:"online"`
}
