package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/simplesync/internal/config"
	"github.com/hyperengineering/simplesync/internal/snapshot"
)

var storeSnapshotCmd = &cobra.Command{
	Use:   "snapshot <store-id>",
	Short: "Write a point-in-time copy of a dataset",
	Long:  "Copy a dataset's database into its _snapshot directory and upload it when object storage is configured.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreSnapshot,
}

func runStoreSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	managed, err := mgr.GetStore(ctx, args[0])
	if err != nil {
		return err
	}
	if err := managed.GenerateSnapshot(ctx); err != nil {
		return err
	}

	snapCfg, err := config.LoadSnapshotConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	uploader, err := snapshot.NewUploader(snapCfg)
	if err != nil {
		return err
	}
	uploaded := false
	if snapCfg.Bucket != "" {
		if err := uploader.Upload(ctx, managed.ID, managed.SnapshotPath()); err != nil {
			return fmt.Errorf("upload snapshot: %w", err)
		}
		uploaded = true
	}

	var size int64
	if fi, err := os.Stat(managed.SnapshotPath()); err == nil {
		size = fi.Size()
	}

	if storeJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":         managed.ID,
			"path":       managed.SnapshotPath(),
			"size_bytes": size,
			"uploaded":   uploaded,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot of %q written to %s (%s)\n",
		managed.ID, managed.SnapshotPath(), humanize.Bytes(uint64(size)))
	if uploaded {
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded to bucket %s\n", snapCfg.Bucket)
	}
	return nil
}
