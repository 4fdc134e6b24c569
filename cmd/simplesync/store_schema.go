package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var storeSchemaCmd = &cobra.Command{
	Use:   "schema <store-id> <manifest.yaml>",
	Short: "Install a schema manifest on a dataset",
	Long:  "Migrate a dataset to a new schema manifest. Clients on an older app version receive it on their next sync.",
	Args:  cobra.ExactArgs(2),
	RunE:  runStoreSchema,
}

func runStoreSchema(cmd *cobra.Command, args []string) error {
	storeID, path := args[0], args[1]
	ctx := cmd.Context()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	managed, err := mgr.GetStore(ctx, storeID)
	if err != nil {
		return err
	}
	if err := managed.InstallSchema(ctx, raw); err != nil {
		return err
	}

	if storeJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":             managed.ID,
			"app_version":    managed.Hub.AppVersion(),
			"schema_version": managed.SchemaVersion(),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installed schema %s (v%d) on store %q\n",
		managed.Hub.AppVersion(), managed.SchemaVersion(), managed.ID)
	return nil
}
