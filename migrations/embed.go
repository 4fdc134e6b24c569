// Package migrations embeds the goose migrations for the SQLite backend's
// internal bookkeeping tables. Application tables are managed by the
// internal/migrate engine, not by goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
