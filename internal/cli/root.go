// Package cli implements shopctl, the operator tool for the print shop service.
package cli

import (
	"fmt"
	"os"

	"printshop/config"
	"printshop/internal/store"
	"printshop/internal/util"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the shopctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shopctl",
		Short: "Operator tool for the print shop order service",
		Long: `shopctl manages the print shop order service outside the HTTP API:
it applies the database schema, inspects and edits shop settings, issues
bearer tokens for testing and follows the event stream.

Configuration is read from the same environment variables (and .env file)
as the server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			return util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel)
		},
	}

	root.AddCommand(
		newMigrateCmd(),
		newSettingsCmd(),
		newTokenCmd(),
		newEventsCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() {
	err := NewRootCmd().Execute()
	util.SyncLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	return store.NewStore(config.Load().Database.URL)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and default settings",
		Long: `Applies the embedded schema. Every statement is idempotent, so running
migrate against an up-to-date database changes nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
			return nil
		},
	}
}
