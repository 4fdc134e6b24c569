package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/hyperengineering/simplesync/internal/multistore"
	"github.com/spf13/cobra"
)

var (
	createSchemaPath  string
	createDescription string
	createIfNotExists bool
)

var storeCreateCmd = &cobra.Command{
	Use:   "create <store-id>",
	Short: "Create a new dataset",
	Long:  "Create a new dataset with the given ID. Store IDs are lowercase alphanumeric with hyphens, optionally separated by / for namespacing (e.g., org/project).",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreCreate,
}

func init() {
	storeCreateCmd.Flags().StringVar(&createSchemaPath, "schema", "",
		"Schema manifest (YAML) to install")
	storeCreateCmd.Flags().StringVar(&createDescription, "description", "",
		"Human-readable description")
	storeCreateCmd.Flags().BoolVar(&createIfNotExists, "if-not-exists", false,
		"Exit 0 if store already exists")
}

func runStoreCreate(cmd *cobra.Command, args []string) error {
	storeID := args[0]
	ctx := cmd.Context()

	var schema []byte
	if createSchemaPath != "" {
		var err error
		if schema, err = os.ReadFile(createSchemaPath); err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
	}

	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	managed, err := mgr.CreateStore(ctx, storeID, createDescription, schema)
	if err != nil {
		if errors.Is(err, multistore.ErrStoreAlreadyExists) && createIfNotExists {
			// Idempotent mode: load existing store and report it
			existing, loadErr := mgr.GetStore(ctx, storeID)
			if loadErr != nil {
				return fmt.Errorf("store exists but could not be loaded: %w", loadErr)
			}
			if storeJSONOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"id":              existing.ID,
					"app_version":     existing.Hub.AppVersion(),
					"created":         existing.Meta.Created,
					"description":     existing.Meta.Description,
					"already_existed": true,
				})
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Store %q already exists (schema: v%d)\n", storeID, existing.SchemaVersion())
			return nil
		}
		return err
	}

	if storeJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":             managed.ID,
			"app_version":    managed.Hub.AppVersion(),
			"schema_version": managed.SchemaVersion(),
			"created":        managed.Meta.Created,
			"description":    managed.Meta.Description,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created store %q (schema: v%d)\n", managed.ID, managed.SchemaVersion())
	return nil
}
