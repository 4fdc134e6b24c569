package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/simplesync/internal/store"
)

// ApplyResult reports what an inbound delta did to the local store.
type ApplyResult struct {
	// Changed is set when any stored row was created, modified or removed.
	Changed bool
	Remaps  Remaps
	Saved   int
	Deleted int
}

// Applier writes inbound deltas into a local store.
type Applier struct {
	store store.Store
	alloc *Allocator
}

// NewApplier returns an applier that recognizes records minted by alloc's
// store.
func NewApplier(s store.Store, alloc *Allocator) *Applier {
	return &Applier{store: s, alloc: alloc}
}

// Apply writes delta in one transaction. Saves and deletes are absolute, so
// applying the same delta twice leaves the same rows as applying it once.
//
// A save of a canonical row this store originated removes the temporary
// placeholder row and reports the id_start -> id remap.
//
// sent is the delta the round transmitted. A change-log entry that no longer
// matches it was written while the round was in flight: that row and its
// entry survive, moved to the canonical id when the reply assigns one. A nil
// sent treats every pending entry as carried.
func (a *Applier) Apply(ctx context.Context, delta, sent Delta) (ApplyResult, error) {
	res := ApplyResult{Remaps: Remaps{}}
	ident, err := a.alloc.Identity(ctx)
	if err != nil {
		return res, err
	}

	err = a.store.Transact(ctx, func(ctx context.Context) error {
		for _, table := range delta.Tables() {
			def, err := a.store.Table(ctx, table)
			if err != nil {
				return fmt.Errorf("apply %s: %w", table, err)
			}
			pending, err := a.store.Changes(ctx, table)
			if err != nil {
				return err
			}
			inFlight := func(ctx context.Context, id int64) (bool, error) {
				return a.editedInFlight(ctx, table, id, pending, sent)
			}
			for _, id := range delta.SortedIDs(table) {
				e := delta[table][id]
				switch e.Op {
				case OpDelete:
					if err := a.applyDelete(ctx, table, id, inFlight, &res); err != nil {
						return err
					}
				case OpSave:
					if err := a.applySave(ctx, def, id, e.Record, ident, inFlight, pending, &res); err != nil {
						return err
					}
				default:
					return fmt.Errorf("%w: %s/%d %q", ErrInvalidOp, table, id, e.Op)
				}
			}
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	slog.Debug("delta applied",
		"component", "sync",
		"action", "apply_delta",
		"saved", res.Saved,
		"deleted", res.Deleted,
		"changed", res.Changed,
		"remaps", len(res.Remaps),
	)
	return res, nil
}

// editedInFlight reports whether table/id has a pending change the round in
// flight did not carry: no entry was sent, the op differs, or the row's
// version moved on since it was sent.
func (a *Applier) editedInFlight(ctx context.Context, table string, id int64, pending map[int64]Op, sent Delta) (bool, error) {
	op, ok := pending[id]
	if !ok || sent == nil {
		return false, nil
	}
	e, ok := sent[table][id]
	if !ok || e.Op != op {
		return true, nil
	}
	if op != OpSave {
		return false, nil
	}
	cur, err := a.store.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return cur.Int(store.ColVersion) != e.Record.Int(store.ColVersion), nil
}

func (a *Applier) applyDelete(ctx context.Context, table string, id int64, inFlight func(context.Context, int64) (bool, error), res *ApplyResult) error {
	if newer, err := inFlight(ctx, id); err != nil {
		return err
	} else if newer {
		logKept(table, id)
		return nil
	}
	if _, err := a.store.Get(ctx, table, id); err == nil {
		res.Changed = true
	}
	if err := a.store.Delete(ctx, table, id); err != nil {
		return fmt.Errorf("delete %s/%d: %w", table, id, err)
	}
	if err := a.store.ClearChanges(ctx, table, id); err != nil {
		return err
	}
	res.Deleted++
	return nil
}

func (a *Applier) applySave(ctx context.Context, def store.TableDef, key int64, rec store.Record, ident string, inFlight func(context.Context, int64) (bool, error), pending map[int64]Op, res *ApplyResult) error {
	table := def.Name
	raw, ok := rec[store.ColID]
	if !ok || raw == nil {
		return fmt.Errorf("%w: %s/%d has no id", ErrIDMismatch, table, key)
	}
	id, ok := store.ToInt64(raw)
	if !ok {
		return fmt.Errorf("%w: %s/%d id %v", ErrInvalidID, table, key, raw)
	}
	if id != key {
		return fmt.Errorf("%w: %s key %d, record id %d", ErrIDMismatch, table, key, id)
	}

	rec = rec.Normalized()
	rec[store.ColID] = id

	start := rec.Int(store.ColIDStart)
	placeholder := id > 0 && rec.String(store.ColIDStartDB) == ident && start != id
	if placeholder {
		if newer, err := inFlight(ctx, start); err != nil {
			return err
		} else if newer {
			return a.rebase(ctx, table, start, id, pending[start], res)
		}
	}
	if newer, err := inFlight(ctx, id); err != nil {
		return err
	} else if newer {
		logKept(table, id)
		return nil
	}

	existing, err := a.store.Get(ctx, table, id)
	if err != nil || !sameRow(def, existing, rec) {
		res.Changed = true
	}
	if err := a.store.Put(ctx, table, rec); err != nil {
		return fmt.Errorf("save %s/%d: %w", table, id, err)
	}
	res.Saved++

	if placeholder {
		if _, err := a.store.Get(ctx, table, start); err == nil {
			res.Changed = true
		}
		if err := a.store.Delete(ctx, table, start); err != nil {
			return fmt.Errorf("drop placeholder %s/%d: %w", table, start, err)
		}
		if err := a.store.ClearChanges(ctx, table, start, id); err != nil {
			return err
		}
		res.Remaps.add(table, start, id)
		return nil
	}
	return a.store.ClearChanges(ctx, table, id)
}

// rebase moves a placeholder edited during the round onto its canonical id
// and queues it again, so the newer local state reaches the server next round.
func (a *Applier) rebase(ctx context.Context, table string, start, id int64, op Op, res *ApplyResult) error {
	if op == OpSave {
		row, err := a.store.Get(ctx, table, start)
		if err != nil {
			return fmt.Errorf("rebase %s/%d: %w", table, start, err)
		}
		row[store.ColID] = id
		if err := a.store.Put(ctx, table, row); err != nil {
			return fmt.Errorf("rebase %s/%d: %w", table, id, err)
		}
	}
	if err := a.store.Delete(ctx, table, start); err != nil {
		return fmt.Errorf("drop placeholder %s/%d: %w", table, start, err)
	}
	if err := a.store.ClearChanges(ctx, table, start); err != nil {
		return err
	}
	if err := a.store.MarkChanged(ctx, table, id, op); err != nil {
		return err
	}
	slog.Debug("placeholder edited in flight, requeued",
		"component", "sync",
		"action", "rebase",
		"table", table,
		"from", start,
		"to", id,
		"op", string(op),
	)
	res.Changed = true
	res.Remaps.add(table, start, id)
	return nil
}

func logKept(table string, id int64) {
	slog.Debug("local edit newer than reply, kept",
		"component", "sync",
		"action", "keep_local",
		"table", table,
		"id", id,
	)
}

// sameRow compares two rows over the table's columns. Numbers compare by
// value so REAL columns holding integral values still match.
func sameRow(def store.TableDef, a, b store.Record) bool {
	for _, col := range def.Columns {
		if !sameValue(a[col.Name], b[col.Name]) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case []byte:
		switch y := b.(type) {
		case []byte:
			return bytes.Equal(x, y)
		case string:
			return string(x) == y
		}
		return false
	case string:
		switch y := b.(type) {
		case string:
			return x == y
		case []byte:
			return x == string(y)
		}
		return false
	}
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	return oka && okb && fa == fb
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
