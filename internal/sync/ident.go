package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hyperengineering/simplesync/internal/store"
	"github.com/oklog/ulid/v2"
)

// metaIDFloor persists the lowest temporary id ever handed out, so ids are
// not reused after the rows that carried them are gone.
const metaIDFloor = "id_floor"

// NewIdentity mints a store identity: a ULID, time-seeded with a random
// suffix.
func NewIdentity() string {
	return ulid.Make().String()
}

// Identity returns the store's persisted identity, minting and saving one on
// first use.
func Identity(ctx context.Context, s store.Store) (string, error) {
	v, err := s.Meta(ctx, store.MetaIdentity)
	if err == nil && v != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("read identity: %w", err)
	}
	id := NewIdentity()
	if err := s.SetMeta(ctx, store.MetaIdentity, id); err != nil {
		return "", fmt.Errorf("persist identity: %w", err)
	}
	return id, nil
}

// Allocator mints temporary (non-positive) record ids for one store.
type Allocator struct {
	store    store.Store
	identity string
	min      int64
	loaded   bool
}

// NewAllocator returns an allocator for s.
func NewAllocator(s store.Store) *Allocator {
	return &Allocator{store: s}
}

// Identity returns the cached store identity.
func (a *Allocator) Identity(ctx context.Context) (string, error) {
	if a.identity != "" {
		return a.identity, nil
	}
	id, err := Identity(ctx, a.store)
	if err != nil {
		return "", err
	}
	a.identity = id
	return id, nil
}

// Reset drops cached state; the next call rescans the store.
func (a *Allocator) Reset() {
	a.identity = ""
	a.loaded = false
	a.min = 0
}

// GenMinID returns the next temporary id. The first call scans the store;
// afterwards the running minimum only decreases by one per call.
func (a *Allocator) GenMinID(ctx context.Context) (int64, error) {
	if !a.loaded {
		if err := a.load(ctx); err != nil {
			return 0, err
		}
	}
	next := a.min - 1
	if err := a.store.SetMeta(ctx, metaIDFloor, strconv.FormatInt(next, 10)); err != nil {
		return 0, fmt.Errorf("persist id floor: %w", err)
	}
	a.min = next
	return next, nil
}

func (a *Allocator) load(ctx context.Context) error {
	ident, err := a.Identity(ctx)
	if err != nil {
		return err
	}

	min := int64(0)
	lower := func(v int64) {
		if v < min {
			min = v
		}
	}

	if v, err := a.store.Meta(ctx, metaIDFloor); err == nil {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			lower(n)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("read id floor: %w", err)
	}

	defs, err := store.SyncTables(ctx, a.store)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	for _, def := range defs {
		recs, err := a.store.Records(ctx, def.Name)
		if err != nil {
			return fmt.Errorf("scan %s: %w", def.Name, err)
		}
		for _, r := range recs {
			if r.String(store.ColIDStartDB) == ident {
				lower(r.Int(store.ColIDStart))
			}
			if id, err := r.ID(); err == nil {
				lower(id)
			}
		}
		changes, err := a.store.Changes(ctx, def.Name)
		if err != nil {
			return fmt.Errorf("scan change log %s: %w", def.Name, err)
		}
		for id := range changes {
			lower(id)
		}
	}

	a.min = min
	a.loaded = true
	return nil
}
