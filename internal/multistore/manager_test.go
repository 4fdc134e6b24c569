package multistore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperengineering/simplesync/internal/store"
)

const datasetSchema = `
app_version: "1"
steps:
  0001_items:
    def:
      - op: syncTable
        table: items
        columns:
          - {name: title, type: text}
`

func newManager(t *testing.T) *StoreManager {
	t.Helper()
	m, err := NewStoreManager(filepath.Join(t.TempDir(), "stores"))
	if err != nil {
		t.Fatalf("NewStoreManager() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNewStoreManager_CreatesRootDirectory(t *testing.T) {
	m := newManager(t)
	info, err := os.Stat(m.RootPath())
	if err != nil || !info.IsDir() {
		t.Fatalf("root directory missing: %v", err)
	}
}

func TestStoreManager_GetStore_DefaultAutoCreates(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	managed, err := m.GetStore(ctx, DefaultStoreID)
	if err != nil {
		t.Fatalf("GetStore(default) error = %v", err)
	}
	if managed.ID != DefaultStoreID || managed.Hub == nil {
		t.Errorf("managed = %+v", managed)
	}
	for _, name := range []string{MetaFile, DataFile} {
		if _, err := os.Stat(filepath.Join(m.RootPath(), "default", name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}

	// Second lookup hits the cache
	again, _ := m.GetStore(ctx, DefaultStoreID)
	if again != managed {
		t.Error("expected cached instance")
	}
}

func TestStoreManager_GetStore_Errors(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	if _, err := m.GetStore(ctx, "missing"); !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("missing err = %v", err)
	}
	if _, err := m.GetStore(ctx, "Bad_ID"); !errors.Is(err, ErrInvalidStoreID) {
		t.Errorf("invalid err = %v", err)
	}
}

func TestStoreManager_CreateStore_WithSchema(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	managed, err := m.CreateStore(ctx, "org/team", "Team data", []byte(datasetSchema))
	if err != nil {
		t.Fatalf("CreateStore() error = %v", err)
	}

	// Then: The dataset is migrated and serves the manifest's app version
	if managed.SchemaVersion() != 1 || managed.Hub.AppVersion() != "1" {
		t.Errorf("version=%d app=%q", managed.SchemaVersion(), managed.Hub.AppVersion())
	}
	if _, err := managed.Store.Table(ctx, "items"); err != nil {
		t.Errorf("items table missing: %v", err)
	}

	if _, err := m.CreateStore(ctx, "org/team", "", nil); !errors.Is(err, ErrStoreAlreadyExists) {
		t.Errorf("duplicate err = %v", err)
	}
}

func TestStoreManager_CreateStore_BadSchemaLeavesNothing(t *testing.T) {
	m := newManager(t)
	if _, err := m.CreateStore(context.Background(), "broken", "", []byte("steps: [")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(filepath.Join(m.RootPath(), "broken")); !os.IsNotExist(err) {
		t.Errorf("directory left behind: %v", err)
	}
}

func TestStoreManager_SchemaSurvivesReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "stores")
	ctx := context.Background()

	m, err := NewStoreManager(root)
	if err != nil {
		t.Fatal(err)
	}
	managed, err := m.CreateStore(ctx, "team", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := managed.InstallSchema(ctx, []byte(datasetSchema)); err != nil {
		t.Fatalf("InstallSchema: %v", err)
	}
	m.Close()

	m2, err := NewStoreManager(root)
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()
	reopened, err := m2.GetStore(ctx, "team")
	if err != nil {
		t.Fatal(err)
	}
	if reopened.SchemaVersion() != 1 || reopened.Hub.AppVersion() != "1" {
		t.Errorf("reopened version=%d app=%q", reopened.SchemaVersion(), reopened.Hub.AppVersion())
	}
}

func TestStoreManager_DeleteStore(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	if _, err := m.CreateStore(ctx, "doomed", "", nil); err != nil {
		t.Fatal(err)
	}

	if err := m.DeleteStore(ctx, "doomed"); err != nil {
		t.Fatalf("DeleteStore() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.RootPath(), "doomed")); !os.IsNotExist(err) {
		t.Error("directory still exists")
	}
	if err := m.DeleteStore(ctx, "doomed"); !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	if err := m.DeleteStore(ctx, DefaultStoreID); !errors.Is(err, ErrDefaultStore) {
		t.Errorf("default delete err = %v", err)
	}
}

func TestStoreManager_ListStores(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	empty, err := m.ListStores(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty list = %v, %v", empty, err)
	}

	for _, id := range []string{"zeta", "alpha", "org/team-b"} {
		var schema []byte
		if id == "alpha" {
			schema = []byte(datasetSchema)
		}
		if _, err := m.CreateStore(ctx, id, "desc "+id, schema); err != nil {
			t.Fatal(err)
		}
	}

	list, err := m.ListStores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, info := range list {
		ids = append(ids, info.ID)
	}
	want := []string{"alpha", "org/team-b", "zeta"}
	if len(ids) != 3 || ids[0] != want[0] || ids[1] != want[1] || ids[2] != want[2] {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if !list[0].HasSchema || list[2].HasSchema {
		t.Errorf("schema flags = %v / %v", list[0].HasSchema, list[2].HasSchema)
	}
}

func TestStoreManager_ListStores_SkipsForeignDirectories(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	if _, err := m.CreateStore(ctx, "team", "", nil); err != nil {
		t.Fatal(err)
	}

	// Given: A hand-made directory whose name no dataset id can take
	stray := filepath.Join(m.RootPath(), "Backup_Copy")
	if err := os.MkdirAll(stray, 0755); err != nil {
		t.Fatal(err)
	}
	if err := SaveStoreMeta(filepath.Join(stray, MetaFile), NewStoreMeta("copy")); err != nil {
		t.Fatal(err)
	}

	list, err := m.ListStores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "team" {
		t.Errorf("ListStores() = %+v, want only team", list)
	}
}

func TestStoreManager_CreateStore_RejectsNestingInsideDataset(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	// Given: A dataset "org"
	if _, err := m.CreateStore(ctx, "org", "", nil); err != nil {
		t.Fatal(err)
	}

	// When: A dataset below it is created
	_, err := m.CreateStore(ctx, "org/team", "", nil)

	// Then: It is refused and nothing is written under org
	if !errors.Is(err, ErrInvalidStoreID) {
		t.Fatalf("err = %v, want ErrInvalidStoreID", err)
	}
	if _, statErr := os.Stat(filepath.Join(m.RootPath(), "org", "team")); !os.IsNotExist(statErr) {
		t.Errorf("nested directory created: %v", statErr)
	}
}

func TestStoreManager_GetStore_ConcurrentAccess(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*ManagedStore, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.GetStore(ctx, DefaultStoreID)
			if err != nil {
				t.Errorf("GetStore: %v", err)
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results[1:] {
		if s != results[0] {
			t.Fatal("concurrent GetStore returned different instances")
		}
	}
}

func TestManagedStore_FlushMeta(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	managed, err := m.GetStore(ctx, DefaultStoreID)
	if err != nil {
		t.Fatal(err)
	}

	managed.TouchAccessed()
	if err := m.FlushAll(); err != nil {
		t.Fatal(err)
	}
	onDisk, err := LoadStoreMeta(filepath.Join(managed.BasePath, MetaFile))
	if err != nil {
		t.Fatal(err)
	}
	if !onDisk.LastAccessed.Equal(managed.Meta.LastAccessed) {
		t.Errorf("last_accessed on disk = %v, want %v", onDisk.LastAccessed, managed.Meta.LastAccessed)
	}
}

func TestManagedStore_GenerateSnapshot(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	// Given: A dataset with one row
	managed, err := m.CreateStore(ctx, "snap", "", []byte(datasetSchema))
	if err != nil {
		t.Fatalf("CreateStore() error = %v", err)
	}
	if err := managed.Store.Put(ctx, "items", store.Record{store.ColID: int64(1), "title": "kept"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// When: A snapshot is taken twice
	for i := 0; i < 2; i++ {
		if err := managed.GenerateSnapshot(ctx); err != nil {
			t.Fatalf("GenerateSnapshot() #%d error = %v", i+1, err)
		}
	}

	// Then: The copy opens on its own and holds the row
	snap, err := store.NewSQLiteStore(ctx, managed.SnapshotPath(), false)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()
	rec, err := snap.Get(ctx, "items", 1)
	if err != nil {
		t.Fatalf("Get() from snapshot error = %v", err)
	}
	if rec.String("title") != "kept" {
		t.Errorf("title = %q, want kept", rec.String("title"))
	}

	// And: The snapshot directory is not mistaken for a dataset
	infos, err := m.ListStores(ctx)
	if err != nil {
		t.Fatalf("ListStores() error = %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "snap" {
		t.Errorf("ListStores() = %+v, want only snap", infos)
	}
}
