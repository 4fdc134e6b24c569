package multistore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// StoreManager hosts many isolated datasets under one root directory. Each
// dataset is opened on first use and stays open until Close.
type StoreManager struct {
	rootPath string

	mu     sync.RWMutex
	stores map[string]*ManagedStore
}

// NewStoreManager creates a manager rooted at rootPath, creating the
// directory when needed. A leading "~/" is expanded.
func NewStoreManager(rootPath string) (*StoreManager, error) {
	if strings.HasPrefix(rootPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		rootPath = filepath.Join(home, rootPath[2:])
	}
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("create stores root directory: %w", err)
	}
	return &StoreManager{
		rootPath: rootPath,
		stores:   make(map[string]*ManagedStore),
	}, nil
}

// RootPath returns the directory datasets live in.
func (m *StoreManager) RootPath() string {
	return m.rootPath
}

// GetStore returns the dataset, opening it if necessary. Only the default
// dataset is created on demand; any other missing id is ErrStoreNotFound.
func (m *StoreManager) GetStore(ctx context.Context, storeID string) (*ManagedStore, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	managed, ok := m.stores[storeID]
	m.mu.RUnlock()
	if ok {
		managed.TouchAccessed()
		return managed, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// another caller may have opened it meanwhile
	if managed, ok := m.stores[storeID]; ok {
		managed.TouchAccessed()
		return managed, nil
	}

	dir := m.storePath(storeID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if !IsDefaultStore(storeID) {
			return nil, ErrStoreNotFound
		}
		if err := m.createStoreDir(storeID, "Default dataset (auto-created)", nil); err != nil {
			return nil, err
		}
	}

	managed, err := m.open(ctx, storeID)
	if err != nil {
		return nil, err
	}
	managed.TouchAccessed()
	return managed, nil
}

// CreateStore creates a dataset, optionally with an initial schema manifest.
func (m *StoreManager) CreateStore(ctx context.Context, storeID, description string, schema []byte) (*ManagedStore, error) {
	if err := ValidateStoreID(storeID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.storePath(storeID)); err == nil {
		return nil, ErrStoreAlreadyExists
	}
	// a dataset directory cannot hold another dataset
	for _, parent := range parentIDs(storeID) {
		if _, err := os.Stat(filepath.Join(m.storePath(parent), MetaFile)); err == nil {
			return nil, fmt.Errorf("%w: %q is inside dataset %q", ErrInvalidStoreID, storeID, parent)
		}
	}
	if err := m.createStoreDir(storeID, description, schema); err != nil {
		return nil, err
	}
	managed, err := m.open(ctx, storeID)
	if err != nil {
		os.RemoveAll(m.storePath(storeID))
		return nil, err
	}

	slog.Info("store created",
		"component", "multistore",
		"action", "store_created",
		"store_id", storeID,
		"with_schema", schema != nil,
	)
	return managed, nil
}

// open loads a dataset into the cache. Callers hold the write lock.
func (m *StoreManager) open(ctx context.Context, storeID string) (*ManagedStore, error) {
	managed, err := NewManagedStore(ctx, storeID, m.storePath(storeID))
	if err != nil {
		return nil, fmt.Errorf("load store %q: %w", storeID, err)
	}
	m.stores[storeID] = managed

	slog.Info("store loaded",
		"component", "multistore",
		"action", "store_loaded",
		"store_id", storeID,
		"schema_version", managed.SchemaVersion(),
	)
	return managed, nil
}

// DeleteStore closes and removes a dataset. The default dataset cannot be
// deleted.
func (m *StoreManager) DeleteStore(ctx context.Context, storeID string) error {
	if err := ValidateStoreID(storeID); err != nil {
		return err
	}
	if IsDefaultStore(storeID) {
		return ErrDefaultStore
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.storePath(storeID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return ErrStoreNotFound
	}
	if managed, ok := m.stores[storeID]; ok {
		if err := managed.Close(); err != nil {
			slog.Warn("error closing store before deletion",
				"store_id", storeID, "error", err)
		}
		delete(m.stores, storeID)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove store directory: %w", err)
	}

	slog.Info("store deleted",
		"component", "multistore",
		"action", "store_deleted",
		"store_id", storeID,
	)
	return nil
}

// ListStores returns metadata for every dataset under the root, sorted by
// id. Nested ids such as "org/team" are found by walking the tree.
func (m *StoreManager) ListStores(ctx context.Context) ([]StoreInfo, error) {
	var result []StoreInfo
	err := filepath.WalkDir(m.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == m.rootPath {
				return err
			}
			return nil
		}
		if d.IsDir() || d.Name() != MetaFile {
			return nil
		}
		dir := filepath.Dir(path)
		rel, err := filepath.Rel(m.rootPath, dir)
		if err != nil || rel == "." {
			return nil
		}
		storeID, err := storeIDFromDir(rel)
		if err != nil {
			slog.Warn("skipping directory that is not a store id", "path", rel, "error", err)
			return fs.SkipDir
		}
		info, err := m.getStoreInfo(storeID, dir)
		if err != nil {
			slog.Warn("error scanning store directory", "path", rel, "error", err)
			return nil
		}
		result = append(result, info)
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("read stores directory: %w", err)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *StoreManager) getStoreInfo(storeID, dir string) (StoreInfo, error) {
	meta, err := LoadStoreMeta(filepath.Join(dir, MetaFile))
	if err != nil {
		return StoreInfo{}, err
	}
	var size int64
	if fi, err := os.Stat(filepath.Join(dir, DataFile)); err == nil {
		size = fi.Size()
	}
	_, schemaErr := os.Stat(filepath.Join(dir, SchemaFile))

	return StoreInfo{
		ID:           storeID,
		Created:      meta.Created,
		LastAccessed: meta.LastAccessed,
		Description:  meta.Description,
		SizeBytes:    size,
		HasSchema:    schemaErr == nil,
	}, nil
}

// storePath maps id segments onto nested directories.
func (m *StoreManager) storePath(storeID string) string {
	return filepath.Join(m.rootPath, filepath.FromSlash(storeID))
}

func (m *StoreManager) createStoreDir(storeID, description string, schema []byte) error {
	dir := m.storePath(storeID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	if err := SaveStoreMeta(filepath.Join(dir, MetaFile), NewStoreMeta(description)); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("write store metadata: %w", err)
	}
	if schema != nil {
		if err := os.WriteFile(filepath.Join(dir, SchemaFile), schema, 0644); err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("write dataset schema: %w", err)
		}
	}
	return nil
}

// FlushAll writes dirty metadata of every open dataset.
func (m *StoreManager) FlushAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, managed := range m.stores {
		if err := managed.FlushMeta(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", managed.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every open dataset.
func (m *StoreManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, managed := range m.stores {
		if err := managed.Close(); err != nil {
			slog.Error("error closing store", "store_id", id, "error", err)
			errs = append(errs, err)
		}
		delete(m.stores, id)
	}
	return errors.Join(errs...)
}
