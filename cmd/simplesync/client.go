package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hyperengineering/simplesync/internal/config"
	"github.com/hyperengineering/simplesync/pkg/simplesync"
	"github.com/spf13/cobra"
)

var (
	clientServerURL string
	clientStoreID   string
	clientDBPath    string
	clientSchema    string
	clientJSON      bool
	migrateTo       int
	syncForce       bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the local database to a schema version",
	Long:  "Apply or roll back migration steps on the local database. Without --to the latest known version is the target.",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync session against the server",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local replica's identity, schema and pending changes",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	for _, c := range []*cobra.Command{migrateCmd, syncCmd, statusCmd} {
		c.Flags().StringVar(&clientServerURL, "server", "", "Server URL (overrides config and SIMPLESYNC_SERVER_URL)")
		c.Flags().StringVar(&clientStoreID, "store", "", "Dataset on the server")
		c.Flags().StringVar(&clientDBPath, "db", "", "Local database path")
		c.Flags().StringVar(&clientSchema, "schema", "", "Local schema manifest path")
		c.Flags().BoolVar(&clientJSON, "json", false, "Output in JSON format")
	}
	migrateCmd.Flags().IntVar(&migrateTo, "to", simplesync.Latest, "Target schema version")
	syncCmd.Flags().BoolVar(&syncForce, "force", true, "Sync even when nothing is pending")
}

// openClient builds a client from config plus flag overrides. The command
// line client never syncs in the background.
func openClient(ctx context.Context) (*simplesync.Client, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(os.Stderr, config.LogConfig{Level: cfg.Log.Level, Format: "text"}))

	cc := cfg.Client
	if clientServerURL != "" {
		cc.ServerURL = clientServerURL
	}
	if clientStoreID != "" {
		cc.StoreID = clientStoreID
	}
	if clientDBPath != "" {
		cc.DBPath = clientDBPath
	}
	if clientSchema != "" {
		cc.SchemaPath = clientSchema
	}
	if cc.DBPath, err = config.ExpandPath(cc.DBPath); err != nil {
		return nil, err
	}
	if cc.SchemaPath, err = config.ExpandPath(cc.SchemaPath); err != nil {
		return nil, err
	}
	slog.Debug("client config resolved", "db_path", cc.DBPath, "server_url", cc.ServerURL)

	return simplesync.Open(ctx, simplesync.Config{
		DBPath:       cc.DBPath,
		ServerURL:    cc.ServerURL,
		StoreID:      cc.StoreID,
		APIKey:       cfg.Auth.APIKey,
		SchemaPath:   cc.SchemaPath,
		SyncInterval: time.Duration(cc.SyncInterval),
		Throttle:     time.Duration(cc.Throttle),
		MaxRetries:   cc.MaxRetries,
		ProbeDelay:   time.Duration(cc.ProbeDelay),
		Timeout:      time.Duration(cc.Timeout),
		Compress:     cc.Compress,
	})
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Shutdown(ctx)

	res, err := c.Migrate(ctx, migrateTo)
	if err != nil {
		return err
	}
	if clientJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	if res.From == res.To {
		fmt.Fprintf(cmd.OutOrStdout(), "Schema already at v%d\n", res.To)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrated v%d -> v%d\n", res.From, res.To)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Shutdown(ctx)

	res, err := c.Sync(ctx, syncForce)
	if err != nil {
		return err
	}
	if clientJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sync %s after %d round(s)\n", res.Outcome, res.Rounds)
	if res.Updated {
		fmt.Fprintln(cmd.OutOrStdout(), "Schema updated from server")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Shutdown(ctx)

	st, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if clientJSON {
		return printJSON(out, st)
	}

	synced := "never"
	if t, err := time.Parse(time.RFC3339Nano, st.SyncedAt); err == nil {
		synced = humanize.Time(t)
	}
	fmt.Fprintf(out, "Identity:    %s\n", st.Identity)
	fmt.Fprintf(out, "App Version: %s\n", valueOr(st.AppVersion, "-"))
	fmt.Fprintf(out, "Schema:      v%d\n", st.SchemaVersion)
	fmt.Fprintf(out, "Pending:     %s\n", humanize.Comma(int64(st.Pending)))
	fmt.Fprintf(out, "Last Sync:   %s\n", synced)
	return nil
}
