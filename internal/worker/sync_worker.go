package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/simplesync/internal/session"
)

// Syncer runs one sync session.
type Syncer interface {
	Sync(ctx context.Context, force bool) (session.Result, error)
}

// SyncWorker triggers sync sessions on an interval and whenever the
// connectivity monitor sees the server come back.
type SyncWorker struct {
	syncer   Syncer
	interval time.Duration
	online   chan struct{}
}

// NewSyncWorker returns a worker. monitor may be nil.
func NewSyncWorker(s Syncer, interval time.Duration, monitor *ConnectivityMonitor) *SyncWorker {
	w := &SyncWorker{
		syncer:   s,
		interval: interval,
		online:   make(chan struct{}, 1),
	}
	if monitor != nil {
		monitor.OnChange(func(online bool) {
			if !online {
				return
			}
			select {
			case w.online <- struct{}{}:
			default:
			}
		})
	}
	return w
}

// Run blocks until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync",
		"action", "worker_started",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.trigger(ctx, "interval")
		case <-w.online:
			w.trigger(ctx, "reconnected")
		}
	}
}

func (w *SyncWorker) trigger(ctx context.Context, reason string) {
	res, err := w.syncer.Sync(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("background sync failed",
			"component", "worker",
			"worker", "sync",
			"reason", reason,
			"error", err,
		)
		return
	}
	slog.Debug("background sync finished",
		"component", "worker",
		"worker", "sync",
		"reason", reason,
		"outcome", res.Outcome,
		"changed", res.Changed,
	)
}
