package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hyperengineering/simplesync/internal/hub"
	"github.com/hyperengineering/simplesync/internal/multistore"
	"github.com/spf13/cobra"
)

var deleteForce bool

var storeDeleteCmd = &cobra.Command{
	Use:   "delete <store-id>",
	Short: "Delete a dataset and all its data",
	Long: `Permanently delete a dataset: its database, schema manifest and snapshots.
Clients syncing against it get 404 until it is created again, and a new
dataset starts a fresh id sequence. The default store cannot be deleted.
Requires --force or typing the store id to confirm.`,
	Args: cobra.ExactArgs(1),
	RunE: runStoreDelete,
}

func init() {
	storeDeleteCmd.Flags().BoolVar(&deleteForce, "force", false,
		"Skip confirmation prompt")
}

func runStoreDelete(cmd *cobra.Command, args []string) error {
	storeID := args[0]
	ctx := cmd.Context()

	if err := multistore.ValidateStoreID(storeID); err != nil {
		return err
	}
	if multistore.IsDefaultStore(storeID) {
		return multistore.ErrDefaultStore
	}

	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	// Opening the dataset reports what is about to go and surfaces a
	// missing one before any prompt.
	managed, err := mgr.GetStore(ctx, storeID)
	if err != nil {
		return err
	}
	stats, err := managed.Hub.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read store stats: %w", err)
	}
	records, tombstones := sumCounts(stats.Records), sumCounts(stats.Tombstones)

	if !deleteForce {
		ok, err := confirmDelete(cmd.InOrStdin(), cmd.ErrOrStderr(), storeID, stats)
		if err != nil || !ok {
			return err
		}
	}

	if err := mgr.DeleteStore(ctx, storeID); err != nil {
		return err
	}

	if storeJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":             storeID,
			"deleted":        true,
			"schema_version": stats.SchemaVersion,
			"records":        records,
			"tombstones":     tombstones,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted store %q (%s records, %s tombstones)\n",
		storeID, humanize.Comma(int64(records)), humanize.Comma(int64(tombstones)))
	return nil
}

// confirmDelete describes the dataset on errOut and waits for its id on in.
func confirmDelete(in io.Reader, errOut io.Writer, storeID string, stats hub.Stats) (bool, error) {
	fmt.Fprintf(errOut, "WARNING: This will permanently delete store %q.\n", storeID)
	if stats.SchemaVersion > 0 {
		fmt.Fprintf(errOut, "  schema v%d (app %s), %d tables, %s records\n",
			stats.SchemaVersion, valueOr(stats.AppVersion, "-"), len(stats.Records),
			humanize.Comma(int64(sumCounts(stats.Records))))
	} else {
		fmt.Fprintln(errOut, "  no schema installed")
	}
	fmt.Fprint(errOut, "Type the store ID to confirm: ")

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(input) != storeID {
		fmt.Fprintln(errOut, "Aborted. Store ID did not match.")
		return false, nil
	}
	return true, nil
}

func sumCounts(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
