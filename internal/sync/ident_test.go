package sync

import (
	"context"
	"testing"

	"github.com/hyperengineering/simplesync/internal/store"
	"github.com/oklog/ulid/v2"
)

func TestIdentity_PersistedOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	first, err := Identity(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ulid.Parse(first); err != nil {
		t.Errorf("identity %q is not a ULID: %v", first, err)
	}
	second, _ := Identity(ctx, s)
	if first != second {
		t.Errorf("identity changed: %s -> %s", first, second)
	}
	if NewIdentity() == NewIdentity() {
		t.Error("NewIdentity repeated")
	}
}

func TestAllocator_StrictlyDecreasing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := NewAllocator(s)

		prev := int64(1)
		for i := 0; i < 20; i++ {
			id, err := a.GenMinID(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if id > 0 || id >= prev {
				t.Fatalf("id %d after %d", id, prev)
			}
			if prev != 1 && id != prev-1 {
				t.Fatalf("id %d, want %d", id, prev-1)
			}
			prev = id
		}
	})
}

func TestAllocator_ScansExistingRows(t *testing.T) {
	ctx := context.Background()
	s := newItemsStore(t)
	ident, _ := Identity(ctx, s)

	// Given: A remapped row whose id_start is -9, a foreign row with -50,
	// and a queued change at -12
	rows := []store.Record{
		{"id": 31, "id_start": -9, "id_start_db": ident},
		{"id": 32, "id_start": -50, "id_start_db": "someone-else"},
	}
	for _, r := range rows {
		if err := s.Put(ctx, "items", r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkChanged(ctx, "items", -12, OpDelete); err != nil {
		t.Fatal(err)
	}

	// Then: The next id is below every local temporary id
	id, err := NewAllocator(s).GenMinID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != -13 {
		t.Errorf("GenMinID = %d, want -13", id)
	}
}

func TestAllocator_NoReuseAfterRowsVanish(t *testing.T) {
	ctx := context.Background()
	s := newItemsStore(t)
	a := NewAllocator(s)

	first, _ := a.GenMinID(ctx)
	second, _ := a.GenMinID(ctx)

	// When: A fresh allocator starts over an empty table
	a.Reset()
	third, err := a.GenMinID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if third == first || third == second || third >= second {
		t.Errorf("ids %d, %d then %d", first, second, third)
	}
	other, _ := NewAllocator(s).GenMinID(ctx)
	if other >= third {
		t.Errorf("new allocator returned %d after %d", other, third)
	}
}
