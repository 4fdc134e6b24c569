// Package hub is the central side of the sync protocol. A Hub owns one
// dataset: it assigns canonical ids to records created offline, keeps
// tombstones for deletes, and answers each round with everything the client
// has not yet seen.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	gosync "sync"
	"time"

	"github.com/hyperengineering/simplesync/internal/migrate"
	"github.com/hyperengineering/simplesync/internal/store"
	ssync "github.com/hyperengineering/simplesync/internal/sync"
)

var (
	// ErrUnknownTable means a request touched a table the dataset does not sync.
	ErrUnknownTable = errors.New("table is not synchronized by this dataset")
)

// Response is either a schema update payload or a delta reply.
type Response struct {
	Update []byte
	Reply  *ssync.Reply
}

// Body renders the response for the wire.
func (r Response) Body() ([]byte, error) {
	if r.Update != nil {
		return ssync.EncodeUpdate(r.Update), nil
	}
	return ssync.EncodeReply(r.Reply)
}

// Hub serves sync rounds for one dataset.
type Hub struct {
	mu       gosync.Mutex
	store    store.Store
	manifest *migrate.Manifest
	update   []byte
	version  int
	now      func() time.Time
}

// New brings s to the manifest's latest schema and returns a hub over it.
// raw is the manifest document shipped to outdated clients. A nil manifest
// serves an empty schema.
func New(ctx context.Context, s store.Store, m *migrate.Manifest, raw []byte) (*Hub, error) {
	h := &Hub{store: s, now: time.Now}
	if err := h.Upgrade(ctx, m, raw); err != nil {
		return nil, err
	}
	return h, nil
}

// Upgrade installs a new manifest and migrates the dataset to it.
func (h *Hub) Upgrade(ctx context.Context, m *migrate.Manifest, raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m == nil {
		m = &migrate.Manifest{Registry: migrate.Registry{}}
	}
	res, err := migrate.Migrate(ctx, h.store, m.Registry, migrate.Latest)
	if err != nil {
		return fmt.Errorf("migrate dataset: %w", err)
	}
	if _, err := ssync.Identity(ctx, h.store); err != nil {
		return err
	}
	h.manifest = m
	h.update = raw
	h.version = res.To
	return nil
}

// AppVersion returns the application version clients must run.
func (h *Hub) AppVersion() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.manifest.AppVersion
}

// SchemaVersion returns the dataset's schema version.
func (h *Hub) SchemaVersion() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// Store exposes the underlying dataset store.
func (h *Hub) Store() store.Store {
	return h.store
}

// Handle runs one sync round. Clients on another application or schema
// version get the update payload instead of a reply.
func (h *Hub) Handle(ctx context.Context, req *ssync.Request) (Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if req.AppVersion != h.manifest.AppVersion || req.DBVersion != h.version {
		slog.Info("client outdated, sending update",
			"component", "hub",
			"action", "send_update",
			"db_ident", req.DBIdent,
			"client_app_version", req.AppVersion,
			"client_db_version", req.DBVersion,
			"app_version", h.manifest.AppVersion,
			"db_version", h.version,
		)
		payload := h.update
		if payload == nil {
			payload = []byte{}
		}
		return Response{Update: payload}, nil
	}

	since, err := store.ParseTime(req.DBSyncedAt)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ssync.ErrMalformedRequest, err)
	}

	now := h.now().UTC()
	stamp := store.FormatTime(now)
	out := ssync.Delta{}
	var saved, deleted int

	err = h.store.Transact(ctx, func(ctx context.Context) error {
		for _, table := range req.Delta.Tables() {
			def, err := h.store.Table(ctx, table)
			if err != nil || !store.IsSynchronizable(def) {
				return fmt.Errorf("%w: %s", ErrUnknownTable, table)
			}
			if err := h.ensureTombstones(ctx, table); err != nil {
				return err
			}
			for _, id := range creationOrder(req.Delta.SortedIDs(table)) {
				e := req.Delta[table][id]
				switch e.Op {
				case ssync.OpSave:
					rec, err := h.save(ctx, def, id, e.Record, req.DBIdent, stamp)
					if err != nil {
						return err
					}
					canonical, _ := rec.ID()
					out.Add(table, canonical, ssync.Entry{Op: ssync.OpSave, Record: rec})
					saved++
				case ssync.OpDelete:
					canonical, err := h.delete(ctx, table, id, req.DBIdent, stamp)
					if err != nil {
						return err
					}
					out.Add(table, id, ssync.Entry{Op: ssync.OpDelete})
					if canonical != id {
						out.Add(table, canonical, ssync.Entry{Op: ssync.OpDelete})
					}
					deleted++
				}
			}
		}
		return h.collectSince(ctx, out, since)
	})
	if err != nil {
		return Response{}, err
	}

	slog.Info("sync round served",
		"component", "hub",
		"action", "sync",
		"db_ident", req.DBIdent,
		"conversation_id", req.ConversationID,
		"saved", saved,
		"deleted", deleted,
		"reply_entries", out.Len(),
	)

	return Response{Reply: &ssync.Reply{
		AppVersion: req.AppVersion,
		DBIdent:    req.DBIdent,
		DBVersion:  req.DBVersion,
		DBSyncedAt: stamp,
		Delta:      out,
	}}, nil
}

// creationOrder reorders ascending ids so temporary ids come first, newest
// last. Allocators hand out decreasing temporary ids, so -1 predates -2 and
// gets the lower canonical id.
func creationOrder(sorted []int64) []int64 {
	out := make([]int64, 0, len(sorted))
	split := sort.Search(len(sorted), func(i int) bool { return sorted[i] > 0 })
	for i := split - 1; i >= 0; i-- {
		out = append(out, sorted[i])
	}
	return append(out, sorted[split:]...)
}

// save stores an inbound record under its canonical id and returns the
// stored row. A temporary id already seen from the same client resolves to
// the row created the first time.
func (h *Hub) save(ctx context.Context, def store.TableDef, key int64, rec store.Record, client, stamp string) (store.Record, error) {
	table := def.Name
	if rec == nil {
		return nil, fmt.Errorf("%w: %s/%d save without record", ssync.ErrMalformedRequest, table, key)
	}
	if id, err := rec.ID(); err != nil {
		return nil, fmt.Errorf("%w: %s/%d: %v", ssync.ErrInvalidID, table, key, err)
	} else if id != key {
		return nil, fmt.Errorf("%w: %s key %d, record id %d", ssync.ErrIDMismatch, table, key, id)
	}
	row := rec.Normalized()

	canonical := key
	if key <= 0 {
		origin := row.String(store.ColIDStartDB)
		if origin == "" {
			origin = client
		}
		existing, err := h.findByOrigin(ctx, table, key, origin)
		if err != nil {
			return nil, err
		}
		if existing > 0 {
			canonical = existing
		} else if canonical, err = h.nextID(ctx, table); err != nil {
			return nil, err
		}
		if row.String(store.ColIDStartDB) == "" {
			row[store.ColIDStart] = key
			row[store.ColIDStartDB] = origin
		}
	}

	prev, err := h.store.Get(ctx, table, canonical)
	switch {
	case err == nil:
		// provenance never changes once written
		row[store.ColIDStart] = prev[store.ColIDStart]
		row[store.ColIDStartDB] = prev[store.ColIDStartDB]
		row[store.ColCreatedAt] = prev[store.ColCreatedAt]
		row[store.ColVersion] = max(prev.Int(store.ColVersion), row.Int(store.ColVersion)) + 1
	case errors.Is(err, store.ErrNotFound):
		if row[store.ColVersion] == nil {
			row[store.ColVersion] = int64(1)
		}
		if row[store.ColIDStartDB] == nil {
			row[store.ColIDStart] = canonical
			row[store.ColIDStartDB] = client
		}
	default:
		return nil, err
	}
	row[store.ColID] = canonical
	row[store.ColSyncedAt] = stamp
	if row[store.ColCreatedAt] == nil {
		row[store.ColCreatedAt] = stamp
	}
	if row[store.ColUpdatedAt] == nil {
		row[store.ColUpdatedAt] = stamp
	}
	if row[store.ColActive] == nil {
		row[store.ColActive] = int64(1)
	}

	if err := h.store.Put(ctx, table, row); err != nil {
		return nil, fmt.Errorf("store %s/%d: %w", table, canonical, err)
	}
	if err := h.store.Delete(ctx, tombstoneTable(table), canonical); err != nil {
		return nil, err
	}
	return h.store.Get(ctx, table, canonical)
}

// delete removes a record and leaves a tombstone. Temporary ids are resolved
// through the client's provenance; it returns the id actually removed.
func (h *Hub) delete(ctx context.Context, table string, key int64, client, stamp string) (int64, error) {
	canonical := key
	if key <= 0 {
		found, err := h.findByOrigin(ctx, table, key, client)
		if err != nil {
			return 0, err
		}
		if found == 0 {
			return key, nil
		}
		canonical = found
	}
	if err := h.store.Delete(ctx, table, canonical); err != nil {
		return 0, fmt.Errorf("delete %s/%d: %w", table, canonical, err)
	}
	if err := h.store.Put(ctx, tombstoneTable(table), store.Record{
		store.ColID:    canonical,
		colDeletedAt: stamp,
	}); err != nil {
		return 0, fmt.Errorf("tombstone %s/%d: %w", table, canonical, err)
	}
	return canonical, nil
}

func (h *Hub) findByOrigin(ctx context.Context, table string, start int64, origin string) (int64, error) {
	recs, err := h.store.Records(ctx, table)
	if err != nil {
		return 0, err
	}
	for _, r := range recs {
		if r.Int(store.ColIDStart) == start && r.String(store.ColIDStartDB) == origin {
			if id, err := r.ID(); err == nil && id > 0 {
				return id, nil
			}
		}
	}
	return 0, nil
}

// nextID hands out canonical ids from a per-table sequence kept in metadata.
func (h *Hub) nextID(ctx context.Context, table string) (int64, error) {
	key := "seq:" + table
	var last int64
	v, err := h.store.Meta(ctx, key)
	switch {
	case err == nil:
		if last, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, fmt.Errorf("parse sequence %s: %w", table, err)
		}
	case errors.Is(err, store.ErrNotFound):
		recs, err := h.store.Records(ctx, table)
		if err != nil {
			return 0, err
		}
		if n := len(recs); n > 0 {
			last = max(recs[n-1].Int(store.ColID), 0)
		}
	default:
		return 0, err
	}
	next := last + 1
	if err := h.store.SetMeta(ctx, key, strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}

// collectSince adds every row and tombstone stamped after since that the
// round has not already touched.
func (h *Hub) collectSince(ctx context.Context, out ssync.Delta, since time.Time) error {
	defs, err := store.SyncTables(ctx, h.store)
	if err != nil {
		return err
	}
	for _, def := range defs {
		recs, err := h.store.Records(ctx, def.Name)
		if err != nil {
			return err
		}
		for _, r := range recs {
			id, err := r.ID()
			if err != nil {
				continue
			}
			if _, seen := out[def.Name][id]; seen {
				continue
			}
			if after(r.String(store.ColSyncedAt), since) {
				out.Add(def.Name, id, ssync.Entry{Op: ssync.OpSave, Record: r})
			}
		}

		if since.IsZero() {
			continue
		}
		stones, err := h.tombstones(ctx, def.Name)
		if err != nil {
			return err
		}
		for _, ts := range stones {
			id, _ := ts.ID()
			if _, seen := out[def.Name][id]; seen {
				continue
			}
			if after(ts.String(colDeletedAt), since) {
				out.Add(def.Name, id, ssync.Entry{Op: ssync.OpDelete})
			}
		}
	}
	return nil
}

func after(stamp string, since time.Time) bool {
	if since.IsZero() {
		return true
	}
	t, err := store.ParseTime(stamp)
	if err != nil || t.IsZero() {
		return false
	}
	return t.After(since)
}
