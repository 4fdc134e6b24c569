package multistore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperengineering/simplesync/internal/hub"
	"github.com/hyperengineering/simplesync/internal/migrate"
	"github.com/hyperengineering/simplesync/internal/store"
)

// ManagedStore is one hosted dataset: its SQLite store, the hub serving it,
// and its metadata.
type ManagedStore struct {
	ID       string
	Store    store.Store
	Hub      *hub.Hub
	Meta     *StoreMeta
	BasePath string

	mu        sync.Mutex
	metaDirty bool
}

// NewManagedStore opens a dataset directory. The dataset's schema.yaml, when
// present, is applied before the hub starts serving.
func NewManagedStore(ctx context.Context, id, basePath string) (*ManagedStore, error) {
	meta, err := LoadStoreMeta(filepath.Join(basePath, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("load store metadata: %w", err)
	}

	manifest, raw, err := loadSchema(filepath.Join(basePath, SchemaFile))
	if err != nil {
		return nil, err
	}

	s, err := store.NewSQLiteStore(ctx, filepath.Join(basePath, DataFile), false)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	h, err := hub.New(ctx, s, manifest, raw)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start hub for %q: %w", id, err)
	}

	return &ManagedStore{
		ID:       id,
		Store:    s,
		Hub:      h,
		Meta:     meta,
		BasePath: basePath,
	}, nil
}

func loadSchema(path string) (*migrate.Manifest, []byte, error) {
	m, raw, err := migrate.LoadManifest(path)
	if err != nil {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("load dataset schema: %w", err)
	}
	return m, raw, nil
}

// InstallSchema migrates the dataset to a new manifest and keeps the
// document so restarts and outdated clients see the same schema.
func (m *ManagedStore) InstallSchema(ctx context.Context, raw []byte) error {
	manifest, err := migrate.ParseManifest(raw)
	if err != nil {
		return err
	}
	if err := m.Hub.Upgrade(ctx, manifest, raw); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.BasePath, SchemaFile), raw, 0644); err != nil {
		return fmt.Errorf("write dataset schema: %w", err)
	}
	slog.Info("dataset schema installed",
		"component", "multistore",
		"action", "schema_installed",
		"store_id", m.ID,
		"app_version", manifest.AppVersion,
		"schema_version", m.Hub.SchemaVersion(),
	)
	return nil
}

// TouchAccessed updates the last_accessed timestamp.
// Saves metadata to disk periodically (not on every access).
func (m *ManagedStore) TouchAccessed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Meta.LastAccessed = time.Now().UTC()
	m.metaDirty = true
}

// FlushMeta saves metadata to disk if dirty.
func (m *ManagedStore) FlushMeta() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.metaDirty {
		return nil
	}
	if err := SaveStoreMeta(filepath.Join(m.BasePath, MetaFile), m.Meta); err != nil {
		return err
	}
	m.metaDirty = false
	return nil
}

// Close closes the underlying store and flushes metadata.
func (m *ManagedStore) Close() error {
	if err := m.FlushMeta(); err != nil {
		slog.Warn("failed to flush store metadata", "store_id", m.ID, "error", err)
	}
	return m.Store.Close()
}

// SchemaVersion returns the dataset's schema version.
func (m *ManagedStore) SchemaVersion() int {
	return m.Hub.SchemaVersion()
}

// SnapshotPath returns where GenerateSnapshot writes the dataset copy.
func (m *ManagedStore) SnapshotPath() string {
	return filepath.Join(m.BasePath, filepath.FromSlash(SnapshotFile))
}

// GenerateSnapshot writes a consistent copy of the dataset database to
// SnapshotPath, replacing the previous one.
func (m *ManagedStore) GenerateSnapshot(ctx context.Context) error {
	if err := m.Hub.Snapshot(ctx, m.SnapshotPath()); err != nil {
		return fmt.Errorf("snapshot %q: %w", m.ID, err)
	}
	return nil
}
