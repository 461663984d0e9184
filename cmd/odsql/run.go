package main

import (
	"context"

	"github.com/spf13/cobra"

	"odata-sql/internal/app"
)

type runOptions struct {
	role      string
	skipToken string
	showPlan  bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <request-file|->",
		Short: "Compile a request and run it against the configured database",
		Long: `Compile a request, execute the data and count statements and print one page of
results. Pass the printed next token back with --skiptoken to fetch the following page.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(cmd, args[0])
			if err != nil {
				return err
			}
			if opts.skipToken != "" {
				req.SkipToken = opts.skipToken
			}
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app.App) error {
				result, err := a.Run(ctx, req, opts.role)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case opts.showPlan && rootOpts.format == "json":
					return writeJSON(out, newPlanView(result))
				case opts.showPlan:
					if err := writePlanText(out, newPlanView(result)); err != nil {
						return err
					}
					return writePageText(out, result.Page)
				case rootOpts.format == "json":
					return writeJSON(out, result.Page)
				default:
					return writePageText(out, result.Page)
				}
			})
		},
	}

	cmd.Flags().StringVar(&opts.role, "role", "", "Database role to run the statements under")
	cmd.Flags().StringVar(&opts.skipToken, "skiptoken", "", "Continue from a previous page's next token")
	cmd.Flags().BoolVar(&opts.showPlan, "show-plan", false, "Print the compiled plan with the page")
	return cmd
}
