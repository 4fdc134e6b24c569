package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperengineering/simplesync/internal/config"
	"github.com/hyperengineering/simplesync/internal/multistore"
	"github.com/spf13/cobra"
)

var (
	storeRootOverride string
	storeJSONOutput   bool
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage hosted datasets",
	Long:  "Create, list, inspect, and delete datasets without running the server.",
}

func init() {
	storeCmd.PersistentFlags().StringVar(&storeRootOverride, "root", "",
		"Store root path (overrides config and SIMPLESYNC_STORES_ROOT)")
	storeCmd.PersistentFlags().BoolVar(&storeJSONOutput, "json", false,
		"Output in JSON format")

	storeCmd.AddCommand(storeCreateCmd)
	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeInfoCmd)
	storeCmd.AddCommand(storeDeleteCmd)
	storeCmd.AddCommand(storeSchemaCmd)
	storeCmd.AddCommand(storeSnapshotCmd)
}

// resolveStoreManager creates a StoreManager from config with optional --root override.
func resolveStoreManager() (*multistore.StoreManager, error) {
	rootPath := storeRootOverride
	if rootPath == "" {
		storesCfg, err := config.LoadStoresConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		rootPath = storesCfg.RootPath
	}

	return multistore.NewStoreManager(rootPath)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
