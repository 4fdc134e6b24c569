package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all datasets",
	Args:  cobra.NoArgs,
	RunE:  runStoreList,
}

func runStoreList(cmd *cobra.Command, args []string) error {
	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	// sorted by id
	stores, err := mgr.ListStores(cmd.Context())
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	if storeJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"stores": stores,
			"total":  len(stores),
		})
	}

	if len(stores) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stores found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tSCHEMA\tSIZE\tCREATED\tDESCRIPTION")
	for _, s := range stores {
		schema := "no"
		if s.HasSchema {
			schema = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			schema,
			humanize.Bytes(uint64(s.SizeBytes)),
			s.Created.Format("2006-01-02 15:04"),
			valueOr(s.Description, "-"),
		)
	}
	w.Flush()

	return nil
}
