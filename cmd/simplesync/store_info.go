package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/hyperengineering/simplesync/internal/multistore"
	"github.com/spf13/cobra"
)

var storeInfoCmd = &cobra.Command{
	Use:   "info <store-id>",
	Short: "Show detailed information about a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreInfo,
}

func runStoreInfo(cmd *cobra.Command, args []string) error {
	storeID := args[0]
	ctx := cmd.Context()

	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	managed, err := mgr.GetStore(ctx, storeID)
	if err != nil {
		return err
	}
	stats, err := managed.Hub.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read store stats: %w", err)
	}

	var sizeBytes int64
	if info, statErr := os.Stat(filepath.Join(managed.BasePath, multistore.DataFile)); statErr == nil {
		sizeBytes = info.Size()
	}

	out := cmd.OutOrStdout()

	if storeJSONOutput {
		return printJSON(out, map[string]any{
			"id":             managed.ID,
			"description":    managed.Meta.Description,
			"created":        managed.Meta.Created,
			"last_accessed":  managed.Meta.LastAccessed,
			"size_bytes":     sizeBytes,
			"db_ident":       stats.Identity,
			"app_version":    stats.AppVersion,
			"schema_version": stats.SchemaVersion,
			"records":        stats.Records,
			"tombstones":     stats.Tombstones,
			"path":           managed.BasePath,
		})
	}

	fmt.Fprintf(out, "Store:         %s\n", managed.ID)
	if managed.Meta.Description != "" {
		fmt.Fprintf(out, "Description:   %s\n", managed.Meta.Description)
	}
	fmt.Fprintf(out, "Created:       %s\n", managed.Meta.Created.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Last Accessed: %s\n", humanize.Time(managed.Meta.LastAccessed))
	fmt.Fprintf(out, "Size:          %s\n", humanize.Bytes(uint64(sizeBytes)))
	fmt.Fprintf(out, "Identity:      %s\n", stats.Identity)
	fmt.Fprintf(out, "App Version:   %s\n", valueOr(stats.AppVersion, "-"))
	fmt.Fprintf(out, "Schema:        v%d\n", stats.SchemaVersion)
	fmt.Fprintf(out, "Path:          %s\n", managed.BasePath)

	if len(stats.Records) > 0 {
		tables := make([]string, 0, len(stats.Records))
		for name := range stats.Records {
			tables = append(tables, name)
		}
		sort.Strings(tables)

		fmt.Fprintln(out)
		w := newTabWriter(out)
		fmt.Fprintln(w, "TABLE\tRECORDS\tTOMBSTONES")
		for _, name := range tables {
			fmt.Fprintf(w, "%s\t%s\t%s\n", name,
				humanize.Comma(int64(stats.Records[name])),
				humanize.Comma(int64(stats.Tombstones[name])))
		}
		w.Flush()
	}

	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
