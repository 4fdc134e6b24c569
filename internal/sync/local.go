package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/simplesync/internal/store"
)

// Local performs application writes against a store, keeping tracking
// columns and the change log consistent with the rows.
type Local struct {
	store   store.Store
	alloc   *Allocator
	tracker *Tracker
	now     func() time.Time
}

// NewLocal returns a writer over s that mints temporary ids with alloc.
func NewLocal(s store.Store, alloc *Allocator) *Local {
	return &Local{store: s, alloc: alloc, tracker: NewTracker(s), now: time.Now}
}

// Save stores rec. A record without a positive id that does not already
// exist gets a fresh temporary id and its provenance columns. On tables that
// sync, the version is bumped and the change is logged in the same
// transaction. The stored row is returned.
func (l *Local) Save(ctx context.Context, table string, rec store.Record) (store.Record, error) {
	var saved store.Record
	err := l.store.Transact(ctx, func(ctx context.Context) error {
		def, err := l.store.Table(ctx, table)
		if err != nil {
			return err
		}
		row := rec.Normalized()
		syncable := store.IsSynchronizable(def)

		var existing store.Record
		id, idErr := row.ID()
		if idErr == nil {
			existing, err = l.store.Get(ctx, table, id)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		if existing == nil && (idErr != nil || id <= 0) {
			if id, err = l.alloc.GenMinID(ctx); err != nil {
				return err
			}
		}
		row[store.ColID] = id

		if syncable {
			now := store.FormatTime(l.now())
			if existing == nil {
				ident, err := l.alloc.Identity(ctx)
				if err != nil {
					return err
				}
				row[store.ColCreatedAt] = now
				row[store.ColIDStart] = id
				row[store.ColIDStartDB] = ident
				row[store.ColVersion] = int64(1)
				if _, ok := row[store.ColActive]; !ok {
					row[store.ColActive] = int64(1)
				}
			} else {
				// provenance is fixed at creation
				for _, col := range []string{store.ColCreatedAt, store.ColIDStart, store.ColIDStartDB, store.ColSyncedAt} {
					row[col] = existing[col]
				}
				if _, ok := row[store.ColActive]; !ok {
					row[store.ColActive] = existing[store.ColActive]
				}
				row[store.ColVersion] = existing.Int(store.ColVersion) + 1
			}
			row[store.ColUpdatedAt] = now
		}

		if err := l.store.Put(ctx, table, row); err != nil {
			return fmt.Errorf("save %s/%d: %w", table, id, err)
		}
		if syncable {
			if err := l.tracker.MarkChanged(ctx, table, id, OpSave); err != nil {
				return err
			}
		}
		saved, err = l.store.Get(ctx, table, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Delete removes a row and, on tables that sync, logs the delete.
func (l *Local) Delete(ctx context.Context, table string, id int64) error {
	return l.store.Transact(ctx, func(ctx context.Context) error {
		def, err := l.store.Table(ctx, table)
		if err != nil {
			return err
		}
		if err := l.store.Delete(ctx, table, id); err != nil {
			return fmt.Errorf("delete %s/%d: %w", table, id, err)
		}
		if !store.IsSynchronizable(def) {
			return nil
		}
		return l.tracker.MarkChanged(ctx, table, id, OpDelete)
	})
}
