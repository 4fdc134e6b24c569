package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperengineering/simplesync/internal/store"
)

var itemsDef = store.SyncTableDef("items",
	store.Column{Name: "title", Type: store.TypeText},
	store.Column{Name: "qty", Type: store.TypeInteger},
)

func newStores(t *testing.T) map[string]store.Store {
	t.Helper()
	sq, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "sync.db"), false)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"sqlite": sq,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.CreateTable(context.Background(), itemsDef); err != nil {
				t.Fatalf("CreateTable: %v", err)
			}
			fn(t, s)
		})
	}
}

func newItemsStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	if err := s.CreateTable(context.Background(), itemsDef); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return s
}

func activeRows(t *testing.T, s store.Store, table string) map[string]store.Record {
	t.Helper()
	recs, err := s.Records(context.Background(), table)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	out := make(map[string]store.Record)
	for _, r := range recs {
		if r.Int(store.ColActive) == 1 {
			out[r.String("title")] = r
		}
	}
	return out
}
