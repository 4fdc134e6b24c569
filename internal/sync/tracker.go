package sync

import (
	"context"

	"github.com/hyperengineering/simplesync/internal/store"
)

// Tracker records the latest unsynchronized op per record. It has no
// transactions of its own: callers mark changes inside the same
// store.Transact as the mutation they describe.
type Tracker struct {
	store store.Store
}

// NewTracker returns a tracker over s's change log.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// MarkChanged records op for (table, id), replacing any earlier op.
func (t *Tracker) MarkChanged(ctx context.Context, table string, id int64, op Op) error {
	return t.store.MarkChanged(ctx, table, id, op)
}

// ChangesFor returns the pending ops of one table.
func (t *Tracker) ChangesFor(ctx context.Context, table string) (map[int64]Op, error) {
	return t.store.Changes(ctx, table)
}

// Clear drops acknowledged entries.
func (t *Tracker) Clear(ctx context.Context, table string, ids ...int64) error {
	return t.store.ClearChanges(ctx, table, ids...)
}

// Pending counts outstanding entries across synchronizable tables.
func (t *Tracker) Pending(ctx context.Context) (int, error) {
	defs, err := store.SyncTables(ctx, t.store)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, def := range defs {
		changes, err := t.store.Changes(ctx, def.Name)
		if err != nil {
			return 0, err
		}
		n += len(changes)
	}
	return n, nil
}
