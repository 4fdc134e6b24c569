package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/simplesync/internal/multistore"
)

// TombstonePruner forgets deletes older than a cutoff.
// Implemented by hub.Hub.
type TombstonePruner interface {
	PruneTombstones(ctx context.Context, cutoff time.Time) (int, error)
}

// DatasetEnumerator provides access to all hosted datasets.
// This abstraction allows testing with mock stores while production uses StoreManager.
type DatasetEnumerator interface {
	ListStores(ctx context.Context) ([]multistore.StoreInfo, error)
	GetPruner(ctx context.Context, storeID string) (TombstonePruner, error)
}

// StoreManagerAdapter adapts multistore.StoreManager to DatasetEnumerator.
type StoreManagerAdapter struct {
	manager *multistore.StoreManager
}

// NewStoreManagerAdapter creates an adapter for the given StoreManager.
func NewStoreManagerAdapter(manager *multistore.StoreManager) *StoreManagerAdapter {
	return &StoreManagerAdapter{manager: manager}
}

// ListStores returns all stores from the underlying StoreManager.
func (a *StoreManagerAdapter) ListStores(ctx context.Context) ([]multistore.StoreInfo, error) {
	return a.manager.ListStores(ctx)
}

// GetPruner returns the dataset's hub.
func (a *StoreManagerAdapter) GetPruner(ctx context.Context, storeID string) (TombstonePruner, error) {
	managed, err := a.manager.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return managed.Hub, nil
}

// GetSnapshotter returns the managed dataset.
func (a *StoreManagerAdapter) GetSnapshotter(ctx context.Context, storeID string) (Snapshotter, error) {
	managed, err := a.manager.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return managed, nil
}

// PruneCoordinator drops expired tombstones across all datasets.
type PruneCoordinator struct {
	manager   DatasetEnumerator
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewPruneCoordinator creates a coordinator that keeps tombstones for
// retention and sweeps every interval.
func NewPruneCoordinator(manager DatasetEnumerator, interval, retention time.Duration) *PruneCoordinator {
	return &PruneCoordinator{
		manager:   manager,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled. The
// first sweep waits one interval so startup stays light.
func (c *PruneCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "prune-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
		"retention", c.retention.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "prune-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.pruneAll(ctx)
		}
	}
}

// pruneAll sweeps each dataset, continuing on individual failures.
func (c *PruneCoordinator) pruneAll(ctx context.Context) {
	stores, err := c.manager.ListStores(ctx)
	if err != nil {
		slog.Error("failed to list stores for pruning",
			"component", "worker",
			"worker", "prune-coordinator",
			"error", err,
		)
		return
	}

	cutoff := c.now().Add(-c.retention)
	var succeeded, failed, pruned int
	for _, info := range stores {
		if ctx.Err() != nil {
			return
		}
		n, ok := c.pruneStore(ctx, info.ID, cutoff)
		if ok {
			succeeded++
			pruned += n
		} else {
			failed++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("prune cycle completed",
			"component", "worker",
			"worker", "prune-coordinator",
			"stores_total", len(stores),
			"stores_succeeded", succeeded,
			"stores_failed", failed,
			"tombstones_pruned", pruned,
		)
	}
}

func (c *PruneCoordinator) pruneStore(ctx context.Context, storeID string, cutoff time.Time) (int, bool) {
	p, err := c.manager.GetPruner(ctx, storeID)
	if err != nil {
		slog.Warn("failed to get store for pruning",
			"component", "worker",
			"worker", "prune-coordinator",
			"store_id", storeID,
			"error", err,
		)
		return 0, false
	}
	n, err := p.PruneTombstones(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false
		}
		slog.Error("prune failed for store",
			"component", "worker",
			"worker", "prune-coordinator",
			"store_id", storeID,
			"error", err,
		)
		return 0, false
	}
	return n, true
}
