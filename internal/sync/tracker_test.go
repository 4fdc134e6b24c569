package sync

import (
	"context"
	"testing"

	"github.com/hyperengineering/simplesync/internal/store"
)

func TestTracker_CoalescesAndClears(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		tr := NewTracker(s)

		// Given: Two ops on the same record and one on another
		for _, step := range []struct {
			id int64
			op Op
		}{{-1, OpSave}, {-1, OpDelete}, {7, OpSave}} {
			if err := tr.MarkChanged(ctx, "items", step.id, step.op); err != nil {
				t.Fatal(err)
			}
		}

		// Then: The latest op wins
		changes, err := tr.ChangesFor(ctx, "items")
		if err != nil {
			t.Fatal(err)
		}
		if len(changes) != 2 || changes[-1] != OpDelete || changes[7] != OpSave {
			t.Errorf("changes = %v", changes)
		}
		if n, _ := tr.Pending(ctx); n != 2 {
			t.Errorf("Pending = %d, want 2", n)
		}

		// When: Clearing one
		if err := tr.Clear(ctx, "items", -1); err != nil {
			t.Fatal(err)
		}
		changes, _ = tr.ChangesFor(ctx, "items")
		if len(changes) != 1 || changes[7] != OpSave {
			t.Errorf("after clear = %v", changes)
		}
	})
}

func TestTracker_RollsBackWithEnclosingTransaction(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		tr := NewTracker(s)

		_ = s.Transact(ctx, func(ctx context.Context) error {
			if err := s.Put(ctx, "items", store.Record{"id": -1, "title": "x"}); err != nil {
				return err
			}
			if err := tr.MarkChanged(ctx, "items", -1, OpSave); err != nil {
				return err
			}
			return context.Canceled
		})

		changes, _ := tr.ChangesFor(ctx, "items")
		if len(changes) != 0 {
			t.Errorf("change log survived rollback: %v", changes)
		}
		if _, err := s.Get(ctx, "items", -1); err == nil {
			t.Error("row survived rollback")
		}
	})
}
