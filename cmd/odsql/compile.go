package main

import (
	"context"

	"github.com/spf13/cobra"

	"odata-sql/internal/app"
)

func newCompileCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <request-file|->",
		Short: "Compile a request into SQL without running it",
		Long: `Compile a YAML or JSON request document against the entity model in schema.file
and print the data statement, the optional count statement and the materialization tree.
No database connection is made.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(cmd, args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, false, func(ctx context.Context, a *app.App) error {
				result, err := a.Compile(ctx, req)
				if err != nil {
					return err
				}
				view := newPlanView(result)
				if opts.format == "text" {
					return writePlanText(cmd.OutOrStdout(), view)
				}
				return writeJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}
