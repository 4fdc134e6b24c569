// Package session drives sync rounds between a local store and a server.
//
// A Coordinator admits one round at a time. A round builds the outbound
// delta, transmits it, and then either installs a pushed schema update and
// goes again, or applies the reply. Network failures are soft: the round
// ends offline and the change log keeps everything for the next trigger.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/simplesync/internal/migrate"
	"github.com/hyperengineering/simplesync/internal/store"
	ssync "github.com/hyperengineering/simplesync/internal/sync"
)

// State of the coordinator.
type State string

const (
	StateIdle           State = "idle"
	StateSending        State = "sending"
	StateApplying       State = "applying"
	StateSchemaUpdating State = "schema_updating"
	StateOffline        State = "offline"
)

// Outcome says how a Sync call ended.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeClean     Outcome = "clean"
	OutcomeThrottled Outcome = "throttled"
	OutcomeBusy      Outcome = "busy"
	OutcomeOffline   Outcome = "offline"
	OutcomeExhausted Outcome = "retries_exhausted"
)

// Defaults
const (
	DefaultThrottle   = time.Second
	DefaultMaxRetries = 3
)

// Transport sends a request and returns the raw response body.
type Transport interface {
	Send(ctx context.Context, req *ssync.Request) ([]byte, error)
}

// Connectivity is the advisory online/offline estimate.
type Connectivity interface {
	Online() bool
	MarkOffline()
}

// Result describes a finished Sync call.
type Result struct {
	Outcome Outcome
	// Changed is set when the local store was modified by the reply.
	Changed bool
	Remaps  ssync.Remaps
	// Updated is set when a schema update was installed on the way.
	Updated bool
	Rounds  int
}

// Options configures a Coordinator. Store, Allocator, Transport and Schema
// are required.
type Options struct {
	Store     store.Store
	Allocator *ssync.Allocator
	Transport Transport
	Schema    Schema
	// Updater defaults to Schema when it implements Updater.
	Updater Updater
	Monitor Connectivity
	// Locker guards store access; it is released while a request is in
	// flight.
	Locker         gosync.Locker
	Throttle       time.Duration
	MaxRetries     int
	Now            func() time.Time
	ConversationID func() string
}

// Coordinator runs sync sessions.
type Coordinator struct {
	store     store.Store
	alloc     *ssync.Allocator
	applier   *ssync.Applier
	transport Transport
	schema    Schema
	updater   Updater
	monitor   Connectivity
	locker    gosync.Locker

	throttle       time.Duration
	maxRetries     int
	now            func() time.Time
	conversationID func() string

	mu          gosync.Mutex
	state       State
	lastTrigger time.Time
	onRemap     []func(ssync.Remaps)
	onChanged   []func()
	onStatus    []func(State)
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }
func (alwaysOnline) MarkOffline() {}

// New validates opts and returns an idle coordinator.
func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("session: store is required")
	case opts.Allocator == nil:
		return nil, errors.New("session: allocator is required")
	case opts.Transport == nil:
		return nil, errors.New("session: transport is required")
	case opts.Schema == nil:
		return nil, errors.New("session: schema is required")
	}

	c := &Coordinator{
		store:          opts.Store,
		alloc:          opts.Allocator,
		applier:        ssync.NewApplier(opts.Store, opts.Allocator),
		transport:      opts.Transport,
		schema:         opts.Schema,
		updater:        opts.Updater,
		monitor:        opts.Monitor,
		locker:         opts.Locker,
		throttle:       opts.Throttle,
		maxRetries:     opts.MaxRetries,
		now:            opts.Now,
		conversationID: opts.ConversationID,
		state:          StateIdle,
	}
	if c.updater == nil {
		if u, ok := opts.Schema.(Updater); ok {
			c.updater = u
		}
	}
	if c.monitor == nil {
		c.monitor = alwaysOnline{}
	}
	if c.locker == nil {
		c.locker = noLock{}
	}
	if c.throttle == 0 {
		c.throttle = DefaultThrottle
	}
	if c.maxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.conversationID == nil {
		c.conversationID = uuid.NewString
	}
	return c, nil
}

// OnRemap registers fn to receive id remaps after each applied reply.
func (c *Coordinator) OnRemap(fn func(ssync.Remaps)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemap = append(c.onRemap, fn)
}

// OnChanged registers fn to run when a reply modified the store.
func (c *Coordinator) OnChanged(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChanged = append(c.onChanged, fn)
}

// OnStatus registers fn to observe state transitions.
func (c *Coordinator) OnStatus(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = append(c.onStatus, fn)
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	observers := slices.Clone(c.onStatus)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

// Sync runs one session. Unless forced, it is dropped when another trigger
// fired within the throttle window, skipped when nothing is queued, and
// skipped when the monitor reports offline. Only migration and apply
// failures are returned as errors.
func (c *Coordinator) Sync(ctx context.Context, force bool) (Result, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return Result{Outcome: OutcomeBusy}, nil
	}
	now := c.now()
	if !force && !c.lastTrigger.IsZero() && now.Sub(c.lastTrigger) < c.throttle {
		c.mu.Unlock()
		return Result{Outcome: OutcomeThrottled}, nil
	}
	c.lastTrigger = now
	c.mu.Unlock()

	c.setState(StateSending)
	defer c.setState(StateIdle)

	res, err := c.run(ctx, force)
	if err != nil {
		slog.Error("sync failed",
			"component", "session",
			"action", "sync_failed",
			"error", err,
		)
		return res, err
	}
	if res.Changed || len(res.Remaps) > 0 {
		c.notify(res)
	}
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, force bool) (Result, error) {
	res := Result{Remaps: ssync.Remaps{}}
	retries := 0

	for {
		req, dirty, err := c.prepare(ctx)
		if err != nil {
			return res, err
		}
		if !dirty && !force {
			res.Outcome = OutcomeClean
			return res, nil
		}
		if !force && !c.monitor.Online() {
			res.Outcome = OutcomeOffline
			return res, nil
		}

		res.Rounds++
		body, err := c.transport.Send(ctx, req)
		if err == nil && !ssync.IsUpdate(body) {
			var reply *ssync.Reply
			if reply, err = ssync.DecodeReply(body); err == nil {
				if !matches(req, reply) {
					slog.Info("stale sync reply, retrying",
						"component", "session",
						"action", "reply_mismatch",
						"sent_db_version", req.DBVersion,
						"reply_db_version", reply.DBVersion,
						"retry", retries+1,
					)
					if retries++; retries > c.maxRetries {
						res.Outcome = OutcomeExhausted
						return res, nil
					}
					force = true
					continue
				}
				c.setState(StateApplying)
				if err := c.apply(ctx, req.Delta, reply, &res); err != nil {
					return res, err
				}
				res.Outcome = OutcomeApplied
				return res, nil
			}
		}
		if err != nil {
			c.setState(StateOffline)
			c.monitor.MarkOffline()
			slog.Warn("sync transmit failed, going offline",
				"component", "session",
				"action", "sync_offline",
				"pending", req.Delta.Len(),
				"error", err,
			)
			res.Outcome = OutcomeOffline
			return res, nil
		}

		c.setState(StateSchemaUpdating)
		if err := c.update(ctx, ssync.UpdatePayload(body)); err != nil {
			return res, err
		}
		res.Updated = true
		if retries++; retries > c.maxRetries {
			res.Outcome = OutcomeExhausted
			return res, nil
		}
		force = true
		c.setState(StateSending)
	}
}

// prepare reads the outbound delta and the store's sync coordinates.
func (c *Coordinator) prepare(ctx context.Context) (*ssync.Request, bool, error) {
	c.locker.Lock()
	defer c.locker.Unlock()

	delta, dirty, err := ssync.BuildDelta(ctx, c.store)
	if err != nil {
		return nil, false, err
	}
	ident, err := c.alloc.Identity(ctx)
	if err != nil {
		return nil, false, err
	}
	version, err := store.SchemaVersion(ctx, c.store)
	if err != nil {
		return nil, false, err
	}
	syncedAt, err := c.store.Meta(ctx, store.MetaSyncedAt)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	return &ssync.Request{
		Protocol:       ssync.Protocol,
		AppVersion:     c.schema.AppVersion(),
		DBIdent:        ident,
		DBVersion:      version,
		DBSyncedAt:     syncedAt,
		Delta:          delta,
		ConversationID: c.conversationID(),
	}, dirty, nil
}

func matches(req *ssync.Request, reply *ssync.Reply) bool {
	return reply.AppVersion == req.AppVersion &&
		reply.DBIdent == req.DBIdent &&
		reply.DBVersion == req.DBVersion
}

// apply writes reply under the lock. sent guards rows edited while the round
// was in flight.
func (c *Coordinator) apply(ctx context.Context, sent ssync.Delta, reply *ssync.Reply, res *Result) error {
	c.locker.Lock()
	defer c.locker.Unlock()

	return c.store.Transact(ctx, func(ctx context.Context) error {
		ar, err := c.applier.Apply(ctx, reply.Delta, sent)
		if err != nil {
			return fmt.Errorf("apply reply: %w", err)
		}
		if reply.DBSyncedAt != "" {
			if err := c.store.SetMeta(ctx, store.MetaSyncedAt, reply.DBSyncedAt); err != nil {
				return err
			}
		}
		res.Changed = res.Changed || ar.Changed
		res.Remaps.Merge(ar.Remaps)
		return nil
	})
}

// update installs a pushed schema and migrates the store to it.
func (c *Coordinator) update(ctx context.Context, payload []byte) error {
	if c.updater == nil {
		return errors.New("schema update received but no updater is configured")
	}

	c.locker.Lock()
	defer c.locker.Unlock()

	c.alloc.Reset()
	if err := c.updater.ApplyUpdate(ctx, payload); err != nil {
		return err
	}
	if _, err := migrate.Migrate(ctx, c.store, c.schema.Registry(), migrate.Latest); err != nil {
		return fmt.Errorf("migrate after update: %w", err)
	}
	return nil
}

func (c *Coordinator) notify(res Result) {
	c.mu.Lock()
	remapFns := slices.Clone(c.onRemap)
	changedFns := slices.Clone(c.onChanged)
	c.mu.Unlock()

	if len(res.Remaps) > 0 {
		for _, fn := range remapFns {
			fn(res.Remaps)
		}
	}
	if !res.Changed {
		return
	}
	for _, fn := range changedFns {
		fn()
	}
}
