package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	gosync "sync"

	"github.com/hyperengineering/simplesync/internal/migrate"
)

// Schema supplies the application version and migration steps a store is
// expected to run.
type Schema interface {
	AppVersion() string
	Registry() migrate.Registry
}

// Updater consumes a schema update pushed by the server.
type Updater interface {
	ApplyUpdate(ctx context.Context, payload []byte) error
}

// ManifestSchema is a Schema backed by a declarative manifest. Updates
// replace the manifest and, when a path is set, persist it so the next start
// begins from the updated schema.
type ManifestSchema struct {
	mu       gosync.RWMutex
	manifest *migrate.Manifest
	path     string
}

// NewManifestSchema wraps m. path may be empty.
func NewManifestSchema(m *migrate.Manifest, path string) *ManifestSchema {
	if m == nil {
		m = &migrate.Manifest{Registry: migrate.Registry{}}
	}
	return &ManifestSchema{manifest: m, path: path}
}

// LoadManifestSchema reads a manifest file. A missing file yields an empty
// schema that the first sync will replace.
func LoadManifestSchema(path string) (*ManifestSchema, error) {
	m, _, err := migrate.LoadManifest(path)
	if err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return NewManifestSchema(nil, path), nil
		}
		return nil, err
	}
	return NewManifestSchema(m, path), nil
}

// AppVersion implements Schema.
func (s *ManifestSchema) AppVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest.AppVersion
}

// Registry implements Schema.
func (s *ManifestSchema) Registry() migrate.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest.Registry
}

// ApplyUpdate implements Updater.
func (s *ManifestSchema) ApplyUpdate(ctx context.Context, payload []byte) error {
	m, err := migrate.ParseManifest(payload)
	if err != nil {
		return fmt.Errorf("apply schema update: %w", err)
	}
	if s.path != "" {
		if err := os.WriteFile(s.path, payload, 0644); err != nil {
			return fmt.Errorf("persist schema update: %w", err)
		}
	}

	s.mu.Lock()
	s.manifest = m
	s.mu.Unlock()

	slog.Info("schema update applied",
		"component", "session",
		"action", "schema_update",
		"app_version", m.AppVersion,
		"steps", len(m.Registry),
	)
	return nil
}

// StaticSchema is a Schema defined in code. A pushed manifest replaces the
// application version and contributes the steps for versions the code does
// not register; code steps always win.
type StaticSchema struct {
	mu         gosync.RWMutex
	base       migrate.Registry
	appVersion string
	registry   migrate.Registry
}

// NewStaticSchema wraps a code registry.
func NewStaticSchema(appVersion string, reg migrate.Registry) *StaticSchema {
	if reg == nil {
		reg = migrate.Registry{}
	}
	return &StaticSchema{base: reg, appVersion: appVersion, registry: reg}
}

// AppVersion implements Schema.
func (s *StaticSchema) AppVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appVersion
}

// Registry implements Schema.
func (s *StaticSchema) Registry() migrate.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// ApplyUpdate implements Updater.
func (s *StaticSchema) ApplyUpdate(ctx context.Context, payload []byte) error {
	m, err := migrate.ParseManifest(payload)
	if err != nil {
		return fmt.Errorf("apply schema update: %w", err)
	}
	merged := make(migrate.Registry, len(s.base)+len(m.Registry))
	owned := make(map[int]bool, len(s.base))
	for key, st := range s.base {
		v, err := migrate.ParseVersion(key)
		if err != nil {
			return err
		}
		owned[v] = true
		merged[key] = st
	}
	for key, st := range m.Registry {
		if v, _ := migrate.ParseVersion(key); !owned[v] {
			merged[key] = st
		}
	}

	s.mu.Lock()
	s.appVersion = m.AppVersion
	s.registry = merged
	s.mu.Unlock()

	slog.Info("schema update applied",
		"component", "session",
		"action", "schema_update",
		"app_version", m.AppVersion,
		"steps", len(merged),
	)
	return nil
}
