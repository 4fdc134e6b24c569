package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/simplesync/internal/api"
	"github.com/hyperengineering/simplesync/internal/config"
	"github.com/hyperengineering/simplesync/internal/multistore"
	"github.com/hyperengineering/simplesync/internal/snapshot"
	"github.com/hyperengineering/simplesync/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "simplesync",
	Short:        "simplesync - offline-first sync server and client",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Open the dataset root
	manager, err := multistore.NewStoreManager(cfg.Stores.RootPath)
	if err != nil {
		return err
	}
	if _, err := manager.GetStore(ctx, multistore.DefaultStoreID); err != nil {
		manager.Close()
		return fmt.Errorf("open default store: %w", err)
	}
	slog.Info("stores initialized", "root", manager.RootPath())

	uploader, err := snapshot.NewUploader(cfg.Snapshot)
	if err != nil {
		manager.Close()
		return err
	}

	// 5. Initialize HTTP router
	handler := api.NewHandler(manager, cfg.Auth.APIKey, Version).WithUploader(uploader)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 6. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 7. Background workers
	var wg sync.WaitGroup
	pruner := worker.NewPruneCoordinator(
		worker.NewStoreManagerAdapter(manager),
		time.Duration(cfg.Worker.PruneInterval),
		time.Duration(cfg.Worker.TombstoneRetention),
	)
	startWorker(ctx, &wg, "tombstone-prune", pruner.Run)
	if interval := time.Duration(cfg.Snapshot.Interval); interval > 0 {
		snapshots := worker.NewSnapshotCoordinator(worker.NewStoreManagerAdapter(manager), interval, uploader)
		startWorker(ctx, &wg, "snapshot", snapshots.Run)
	}
	startWorker(ctx, &wg, "meta-flush", func(ctx context.Context) {
		flushMeta(ctx, manager, time.Duration(cfg.Worker.MetaFlushInterval))
	})

	// 8. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 9. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 10. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 10a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 10b. Wait for workers to complete
	wg.Wait()

	// 10c. Close datasets (flushes metadata)
	if err := manager.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// flushMeta persists dataset access times every interval and once more on
// the way out.
func flushMeta(ctx context.Context, manager *multistore.StoreManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := manager.FlushAll(); err != nil {
				slog.Warn("metadata flush failed", "component", "worker", "error", err)
			}
			return
		case <-ticker.C:
			if err := manager.FlushAll(); err != nil {
				slog.Warn("metadata flush failed", "component", "worker", "error", err)
			}
		}
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
