package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/simplesync/internal/multistore"
	"github.com/hyperengineering/simplesync/internal/snapshot"
)

// Snapshotter is a dataset that can copy itself to disk.
// Implemented by multistore.ManagedStore.
type Snapshotter interface {
	GenerateSnapshot(ctx context.Context) error
	SnapshotPath() string
}

// SnapshotEnumerator provides access to all hosted datasets for snapshots.
type SnapshotEnumerator interface {
	ListStores(ctx context.Context) ([]multistore.StoreInfo, error)
	GetSnapshotter(ctx context.Context, storeID string) (Snapshotter, error)
}

// SnapshotCoordinator snapshots every dataset on an interval and ships the
// copies through an Uploader.
type SnapshotCoordinator struct {
	manager  SnapshotEnumerator
	uploader snapshot.Uploader
	interval time.Duration
}

// NewSnapshotCoordinator creates a coordinator. A nil uploader keeps
// snapshots local.
func NewSnapshotCoordinator(manager SnapshotEnumerator, interval time.Duration, uploader snapshot.Uploader) *SnapshotCoordinator {
	if uploader == nil {
		uploader = snapshot.NoopUploader{}
	}
	return &SnapshotCoordinator{
		manager:  manager,
		uploader: uploader,
		interval: interval,
	}
}

// Run snapshots immediately, then on each interval, until ctx is cancelled.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.snapshotAll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.snapshotAll(ctx)
		}
	}
}

func (c *SnapshotCoordinator) snapshotAll(ctx context.Context) {
	stores, err := c.manager.ListStores(ctx)
	if err != nil {
		slog.Error("failed to list stores for snapshot generation",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"error", err,
		)
		return
	}

	var succeeded, failed int
	for _, info := range stores {
		if ctx.Err() != nil {
			return
		}
		if c.snapshotStore(ctx, info.ID) {
			succeeded++
		} else {
			failed++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("snapshot cycle completed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"stores_total", len(stores),
			"stores_succeeded", succeeded,
			"stores_failed", failed,
		)
	}
}

// snapshotStore reports whether the local snapshot was written. Upload
// failures are logged but leave the local copy valid.
func (c *SnapshotCoordinator) snapshotStore(ctx context.Context, storeID string) bool {
	s, err := c.manager.GetSnapshotter(ctx, storeID)
	if err != nil {
		slog.Warn("failed to get store for snapshot",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"store_id", storeID,
			"error", err,
		)
		return false
	}

	if err := s.GenerateSnapshot(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"store_id", storeID,
			"error", err,
		)
		return false
	}

	if err := c.uploader.Upload(ctx, storeID, s.SnapshotPath()); err != nil {
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_upload_failed",
			"store_id", storeID,
			"error", err,
		)
	}
	return true
}
