//go:build e2e

package e2e

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperengineering/simplesync/internal/store"
	"github.com/hyperengineering/simplesync/pkg/simplesync"
)

const notesSchemaV1 = `
app_version: "1"
steps:
  0001_notes:
    def:
      - op: syncTable
        table: notes
        columns:
          - {name: body, type: text}
`

const notesSchemaV2 = `
app_version: "2"
steps:
  0001_notes:
    def:
      - op: syncTable
        table: notes
        columns:
          - {name: body, type: text}
  0002_pinned:
    def:
      - op: addColumn
        table: notes
        column: {name: pinned, type: integer}
`

// TestE2E_ReplicasConverge drives two replicas through the running binary:
// create offline, remap, propagate an edit and a delete.
func TestE2E_ReplicasConverge(t *testing.T) {
	srv := startServer(t)
	srv.createStore(t, "team", notesSchemaV1)
	ctx := context.Background()

	a := srv.replica(t, "team", t.TempDir())
	b := srv.replica(t, "team", t.TempDir())

	// First sync installs the schema on both
	mustSync(t, a)
	mustSync(t, b)

	saved, err := a.Save(ctx, "notes", simplesync.Record{"body": "hello"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	tempID, _ := saved.ID()
	if tempID > 0 {
		t.Fatalf("new record id = %d, want temporary id", tempID)
	}

	mustSync(t, a)
	canonical := a.Resolve("notes", tempID)
	if canonical <= 0 {
		t.Fatalf("temporary id %d not remapped", tempID)
	}

	mustSync(t, b)
	got, err := b.Get(ctx, "notes", canonical)
	if err != nil {
		t.Fatalf("replica B get: %v", err)
	}
	if got.String("body") != "hello" {
		t.Errorf("body = %q, want hello", got.String("body"))
	}
	if got.Int(store.ColIDStart) != tempID {
		t.Errorf("id_start = %d, want %d", got.Int(store.ColIDStart), tempID)
	}

	got["body"] = "edited by b"
	if _, err := b.Save(ctx, "notes", got); err != nil {
		t.Fatalf("replica B save: %v", err)
	}
	mustSync(t, b)
	mustSync(t, a)
	fromA, err := a.Get(ctx, "notes", canonical)
	if err != nil {
		t.Fatalf("replica A get: %v", err)
	}
	if fromA.String("body") != "edited by b" {
		t.Errorf("body on A = %q, want the edit from B", fromA.String("body"))
	}

	if err := a.Delete(ctx, "notes", canonical); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mustSync(t, a)
	mustSync(t, b)
	if _, err := b.Get(ctx, "notes", canonical); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("replica B get after delete: err = %v, want not found", err)
	}

	info := srv.storeInfo(t, "team")
	if tombstones, _ := info["tombstones"].(map[string]any); tombstones["notes"] != float64(1) {
		t.Errorf("server tombstones = %v, want one for notes", info["tombstones"])
	}
}

// TestE2E_OfflineWorkSurvivesServerRestart keeps writing while the server
// is down and pushes everything once it is back.
func TestE2E_OfflineWorkSurvivesServerRestart(t *testing.T) {
	srv := startServer(t)
	srv.createStore(t, "field", notesSchemaV1)
	ctx := context.Background()

	c := srv.replica(t, "field", t.TempDir())
	mustSync(t, c)

	srv.stop()

	for _, body := range []string{"one", "two", "three"} {
		if _, err := c.Save(ctx, "notes", simplesync.Record{"body": body}); err != nil {
			t.Fatalf("offline save: %v", err)
		}
	}
	res, err := c.Sync(ctx, true)
	if err != nil {
		t.Fatalf("offline sync: %v", err)
	}
	if res.Outcome != "offline" {
		t.Fatalf("outcome = %s, want offline", res.Outcome)
	}

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Pending != 3 {
		t.Errorf("pending while offline = %d, want 3", st.Pending)
	}

	// When: The server comes back on the same data
	srv.restartOnSameData(t)
	mustSync(t, c)

	// Then: Nothing is pending and a new replica sees all three notes
	if st, _ = c.Stats(ctx); st.Pending != 0 {
		t.Errorf("pending after reconnect = %d, want 0", st.Pending)
	}
	fresh := srv.replica(t, "field", t.TempDir())
	mustSync(t, fresh)
	rows, err := fresh.List(ctx, "notes")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("server delivered %d notes, want 3", len(rows))
	}
}

// TestE2E_SchemaPushUpgradesReplica installs a new manifest on the server
// and checks an existing replica migrates on its next sync.
func TestE2E_SchemaPushUpgradesReplica(t *testing.T) {
	srv := startServer(t)
	srv.createStore(t, "app", notesSchemaV1)
	ctx := context.Background()

	dir := t.TempDir()
	c := srv.replica(t, "app", dir)
	mustSync(t, c)

	srv.putSchema(t, "app", notesSchemaV2)

	res := mustSync(t, c)
	if !res.Updated {
		t.Error("sync did not install the pushed schema")
	}
	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.AppVersion != "2" || st.SchemaVersion != 2 {
		t.Errorf("replica at app %q v%d, want app 2 v2", st.AppVersion, st.SchemaVersion)
	}

	if _, err := c.Save(ctx, "notes", simplesync.Record{"body": "pinned", "pinned": 1}); err != nil {
		t.Fatalf("save with new column: %v", err)
	}
	mustSync(t, c)

	info := srv.storeInfo(t, "app")
	if records, _ := info["records"].(map[string]any); records["notes"] != float64(1) {
		t.Errorf("server records = %v, want one note", info["records"])
	}
}
