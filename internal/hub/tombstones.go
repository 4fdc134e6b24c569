package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/simplesync/internal/store"
)

const colDeletedAt = "deleted_at"

// tombstoneTable names the local-only table holding a table's deletes.
// The suffix keeps it out of every delta.
func tombstoneTable(table string) string {
	return table + "_tombstones" + store.LocalOnlySuffix
}

func (h *Hub) ensureTombstones(ctx context.Context, table string) error {
	name := tombstoneTable(table)
	if _, err := h.store.Table(ctx, name); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNoTable) {
		return err
	}
	return h.store.CreateTable(ctx, store.TableDef{
		Name: name,
		Columns: []store.Column{
			{Name: store.ColID, Type: store.TypeInteger},
			{Name: colDeletedAt, Type: store.TypeTimestamp},
		},
	})
}

func (h *Hub) tombstones(ctx context.Context, table string) ([]store.Record, error) {
	recs, err := h.store.Records(ctx, tombstoneTable(table))
	if errors.Is(err, store.ErrNoTable) {
		return nil, nil
	}
	return recs, err
}

// PruneTombstones forgets deletes older than cutoff. Clients that last
// synced before cutoff keep rows the dataset has since removed.
func (h *Hub) PruneTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pruned := 0
	err := h.store.Transact(ctx, func(ctx context.Context) error {
		defs, err := store.SyncTables(ctx, h.store)
		if err != nil {
			return err
		}
		for _, def := range defs {
			stones, err := h.tombstones(ctx, def.Name)
			if err != nil {
				return err
			}
			for _, ts := range stones {
				t, err := store.ParseTime(ts.String(colDeletedAt))
				if err != nil || !t.Before(cutoff) {
					continue
				}
				id, _ := ts.ID()
				if err := h.store.Delete(ctx, tombstoneTable(def.Name), id); err != nil {
					return fmt.Errorf("prune %s/%d: %w", def.Name, id, err)
				}
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		slog.Info("tombstones pruned",
			"component", "hub",
			"action", "prune_tombstones",
			"pruned", pruned,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return pruned, nil
}

// Stats summarizes a dataset.
type Stats struct {
	AppVersion    string         `json:"app_version"`
	SchemaVersion int            `json:"schema_version"`
	Identity      string         `json:"db_ident"`
	Records       map[string]int `json:"records"`
	Tombstones    map[string]int `json:"tombstones"`
}

// Stats counts rows and tombstones per synchronized table.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		AppVersion:    h.manifest.AppVersion,
		SchemaVersion: h.version,
		Records:       map[string]int{},
		Tombstones:    map[string]int{},
	}
	ident, err := h.store.Meta(ctx, store.MetaIdentity)
	if err != nil {
		return Stats{}, err
	}
	st.Identity = ident

	defs, err := store.SyncTables(ctx, h.store)
	if err != nil {
		return Stats{}, err
	}
	for _, def := range defs {
		recs, err := h.store.Records(ctx, def.Name)
		if err != nil {
			return Stats{}, err
		}
		stones, err := h.tombstones(ctx, def.Name)
		if err != nil {
			return Stats{}, err
		}
		st.Records[def.Name] = len(recs)
		st.Tombstones[def.Name] = len(stones)
	}
	return st, nil
}

// ErrSnapshotUnsupported means the dataset's store cannot copy itself.
var ErrSnapshotUnsupported = errors.New("store backend does not support snapshots")

type vacuumer interface {
	VacuumInto(ctx context.Context, dest string) error
}

// Snapshot writes a consistent copy of the dataset database to dest. Sync
// rounds wait while it runs.
func (h *Hub) Snapshot(ctx context.Context, dest string) error {
	v, ok := h.store.(vacuumer)
	if !ok {
		return ErrSnapshotUnsupported
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return v.VacuumInto(ctx, dest)
}
