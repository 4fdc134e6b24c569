package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/simplesync/internal/store"
)

// BuildDelta collects the pending change log of every synchronizable table.
// Saves carry the current row; deletes carry only the marker. A save whose
// row has since vanished is left out and its entry stays queued. dirty
// reports whether anything was collected.
func BuildDelta(ctx context.Context, s store.Store) (Delta, bool, error) {
	defs, err := store.SyncTables(ctx, s)
	if err != nil {
		return nil, false, fmt.Errorf("list tables: %w", err)
	}

	delta := Delta{}
	for _, def := range defs {
		changes, err := s.Changes(ctx, def.Name)
		if err != nil {
			return nil, false, fmt.Errorf("read change log %s: %w", def.Name, err)
		}
		for id, op := range changes {
			switch op {
			case OpDelete:
				delta.Add(def.Name, id, Entry{Op: OpDelete})
			case OpSave:
				rec, err := s.Get(ctx, def.Name, id)
				if errors.Is(err, store.ErrNotFound) {
					slog.Warn("changed record missing, skipping",
						"component", "sync",
						"action", "build_delta",
						"table", def.Name,
						"id", id,
					)
					continue
				}
				if err != nil {
					return nil, false, fmt.Errorf("snapshot %s/%d: %w", def.Name, id, err)
				}
				delta.Add(def.Name, id, Entry{Op: OpSave, Record: rec})
			}
		}
	}
	return delta, delta.Len() > 0, nil
}
