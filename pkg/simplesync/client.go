// Package simplesync is an offline-first client for a simplesync server.
//
// Applications write to a local store through the Client. Every write to a
// synchronized table is logged, and sync sessions push the log to the server
// and fold the server's reply back in. Rows created offline carry temporary
// negative ids until the server assigns canonical ones; Resolve follows
// those remaps.
package simplesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/hyperengineering/simplesync/internal/migrate"
	"github.com/hyperengineering/simplesync/internal/session"
	"github.com/hyperengineering/simplesync/internal/store"
	ssync "github.com/hyperengineering/simplesync/internal/sync"
	"github.com/hyperengineering/simplesync/internal/transport"
	"github.com/hyperengineering/simplesync/internal/worker"
)

// ErrClosed is returned by calls on a client after Shutdown.
var ErrClosed = errors.New("client is closed")

// Client is the offline-first data client
type Client struct {
	config  Config
	store   store.Store
	alloc   *ssync.Allocator
	local   *ssync.Local
	tracker *ssync.Tracker
	schema  session.Schema
	coord   *session.Coordinator
	monitor *worker.ConnectivityMonitor

	// mu serializes store access; the coordinator releases it while a
	// request is in flight.
	mu gosync.Mutex

	remapMu gosync.RWMutex
	remaps  Remaps

	stateMu gosync.RWMutex
	closed  bool
	cancel  context.CancelFunc
	bgCtx   context.Context
	wg      gosync.WaitGroup
}

// Open opens (or creates) the local store, migrates it to the configured
// schema and, with AutoSync, starts background syncing.
func Open(ctx context.Context, config Config) (*Client, error) {
	// Set defaults
	if config.StoreID == "" {
		config.StoreID = "default"
	}
	if config.SyncInterval == 0 {
		config.SyncInterval = 5 * time.Minute
	}

	opts := store.Options{Backend: store.BackendSQLite, Path: config.DBPath}
	if config.DBPath == "" {
		opts.Backend = store.BackendMemory
	}
	s, err := store.Open(ctx, opts)
	if err != nil {
		return nil, err
	}

	schema, err := newSchema(config)
	if err != nil {
		s.Close()
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, s, schema.Registry(), migrate.Latest); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}

	alloc := ssync.NewAllocator(s)
	if _, err := alloc.Identity(ctx); err != nil {
		s.Close()
		return nil, err
	}

	tr := transport.NewHTTP(transport.Options{
		ServerURL: config.ServerURL,
		StoreID:   config.StoreID,
		APIKey:    config.APIKey,
		Timeout:   config.Timeout,
		Compress:  config.Compress,
	})

	c := &Client{
		config:  config,
		store:   s,
		alloc:   alloc,
		local:   ssync.NewLocal(s, alloc),
		tracker: ssync.NewTracker(s),
		schema:  schema,
		remaps:  Remaps{},
	}

	copts := session.Options{
		Store:      s,
		Allocator:  alloc,
		Transport:  tr,
		Schema:     schema,
		Locker:     &c.mu,
		Throttle:   config.Throttle,
		MaxRetries: config.MaxRetries,
	}
	if config.ServerURL != "" {
		c.monitor = worker.NewConnectivityMonitor(tr, config.ProbeDelay)
		copts.Monitor = c.monitor
	}
	if c.coord, err = session.New(copts); err != nil {
		s.Close()
		return nil, err
	}
	c.coord.OnRemap(c.recordRemaps)
	if config.OnRemap != nil {
		c.coord.OnRemap(config.OnRemap)
	}
	if config.OnChanged != nil {
		c.coord.OnChanged(config.OnChanged)
	}
	if config.OnStatus != nil {
		c.coord.OnStatus(config.OnStatus)
	}

	c.bgCtx, c.cancel = context.WithCancel(context.Background())
	if config.AutoSync && config.ServerURL != "" {
		c.startWorker("connectivity", c.monitor.Run)
		c.startWorker("sync", worker.NewSyncWorker(c.coord, config.SyncInterval, c.monitor).Run)
	}

	ident, _ := alloc.Identity(ctx)
	slog.Info("client opened",
		"component", "client",
		"action", "open",
		"db_ident", ident,
		"app_version", schema.AppVersion(),
		"offline_only", config.ServerURL == "",
	)
	return c, nil
}

func newSchema(config Config) (session.Schema, error) {
	if config.Registry != nil {
		return session.NewStaticSchema(config.AppVersion, config.Registry), nil
	}
	if config.SchemaPath != "" {
		return session.LoadManifestSchema(config.SchemaPath)
	}
	return session.NewManifestSchema(nil, ""), nil
}

func (c *Client) startWorker(name string, fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.bgCtx)
	}()
}

// Shutdown stops background work, makes a last attempt to push pending
// changes, and closes the store.
func (c *Client) Shutdown(ctx context.Context) error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.stateMu.Unlock()

	c.cancel()
	c.wg.Wait()

	// Final sync
	if c.config.ServerURL != "" {
		if _, err := c.coord.Sync(ctx, false); err != nil {
			slog.Warn("final sync failed", "component", "client", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Close()
}

func (c *Client) guard() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Save stores rec in table. A record without a positive id is created with
// a temporary id. The stored row is returned.
func (c *Client) Save(ctx context.Context, table string, rec Record) (Record, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if err := c.guard(); err != nil {
		return nil, err
	}

	if id, err := rec.ID(); err == nil {
		if resolved := c.Resolve(table, id); resolved != id {
			rec = rec.Clone()
			rec[store.ColID] = resolved
		}
	}

	c.mu.Lock()
	saved, err := c.local.Save(ctx, table, rec)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.trigger()
	return saved, nil
}

// Delete removes a row and queues the delete for the server.
func (c *Client) Delete(ctx context.Context, table string, id int64) error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if err := c.guard(); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.local.Delete(ctx, table, c.Resolve(table, id))
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.trigger()
	return nil
}

// Get returns one row. Temporary ids that were remapped still find the row.
func (c *Client) Get(ctx context.Context, table string, id int64) (Record, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if err := c.guard(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(ctx, table, c.Resolve(table, id))
}

// List returns every row of a table.
func (c *Client) List(ctx context.Context, table string) ([]Record, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if err := c.guard(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Records(ctx, table)
}

// Resolve maps a temporary id to the canonical id the server assigned, or
// returns id unchanged.
func (c *Client) Resolve(table string, id int64) int64 {
	c.remapMu.RLock()
	defer c.remapMu.RUnlock()
	for seen := 0; seen < 8; seen++ {
		next, ok := c.remaps[table][id]
		if !ok || next == id {
			break
		}
		id = next
	}
	return id
}

func (c *Client) recordRemaps(r Remaps) {
	c.remapMu.Lock()
	defer c.remapMu.Unlock()
	c.remaps.Merge(r)
}

// Sync runs one sync session now. Unforced calls honour the throttle and
// skip when nothing is pending.
func (c *Client) Sync(ctx context.Context, force bool) (SyncResult, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if err := c.guard(); err != nil {
		return SyncResult{}, err
	}
	return c.coord.Sync(ctx, force)
}

// Migrate moves the local schema to target (or Latest).
func (c *Client) Migrate(ctx context.Context, target int) (migrate.Result, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if err := c.guard(); err != nil {
		return migrate.Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.alloc.Reset()
	return migrate.Migrate(ctx, c.store, c.schema.Registry(), target)
}

// Stats returns a summary of the local replica.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if err := c.guard(); err != nil {
		return Stats{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		AppVersion: c.schema.AppVersion(),
		State:      c.coord.State(),
		Online:     c.monitor != nil && c.monitor.Online(),
	}
	var err error
	if st.Identity, err = c.alloc.Identity(ctx); err != nil {
		return Stats{}, err
	}
	if st.SchemaVersion, err = store.SchemaVersion(ctx, c.store); err != nil {
		return Stats{}, err
	}
	if st.SyncedAt, err = c.store.Meta(ctx, store.MetaSyncedAt); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Stats{}, err
	}
	if st.Pending, err = c.tracker.Pending(ctx); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// trigger starts a background sync after a write. Callers hold stateMu.
func (c *Client) trigger() {
	if !c.config.AutoSync || c.config.ServerURL == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.coord.Sync(c.bgCtx, false); err != nil && c.bgCtx.Err() == nil {
			slog.Warn("triggered sync failed", "component", "client", "error", err)
		}
	}()
}
