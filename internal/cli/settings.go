package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"printshop/internal/service"

	"github.com/spf13/cobra"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change shop settings",
	}
	cmd.AddCommand(newSettingsGetCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print all settings, or a single one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			settings, err := service.NewSettingsService(db, nil).ListSettings(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			found := false
			for _, s := range settings {
				if len(args) == 1 && s.Key != args[0] {
					continue
				}
				found = true
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Value, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			if len(args) == 1 && !found {
				return fmt.Errorf("setting %q not found", args[0])
			}
			return w.Flush()
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Create or replace a setting",
		Example: `  shopctl settings set tax_percentage 18
  shopctl settings set service_charge 5 --description "Flat fee per order"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			var desc *string
			if cmd.Flags().Changed("description") {
				desc = &description
			}
			setting, err := service.NewSettingsService(db, nil).UpdateSetting(cmd.Context(), args[0], json.RawMessage(args[1]), desc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", setting.Key, setting.Value)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Human-readable description")
	return cmd
}
