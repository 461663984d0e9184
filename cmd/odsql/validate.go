package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"odata-sql/internal/app"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var connect bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check configuration and the entity model",
		Long:  "Load and validate the configuration, load the entity model and build the compiler. With --connect, also ping the database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, connect, func(ctx context.Context, a *app.App) error {
				summary := map[string]any{
					"status":      "ok",
					"dialect":     a.Compiler().Dialect().Name,
					"entitySets":  len(a.Schema().EntitySets),
					"entityTypes": len(a.Schema().EntityTypes),
					"connected":   connect,
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), summary)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "ok: %d entity sets, dialect %s\n", summary["entitySets"], summary["dialect"])
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "Also connect to the configured database")
	return cmd
}
