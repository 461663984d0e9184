package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"odata-sql/internal/app"
	"odata-sql/internal/ast"
	"odata-sql/internal/config"
	"odata-sql/internal/logging"
)

var validFormats = []string{"json", "text"}

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	format     string
	metricsOut string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "odsql",
		Short:         "Compile OData-style requests into SQL",
		Long:          "odsql compiles entity-model requests into a single SQL statement plus a materialization tree, and can run the plan against MySQL, PostgreSQL or SQLite.",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
		},
	}

	pf := cmd.PersistentFlags()
	config.DefineFlags(pf)
	pf.StringVar(&opts.format, "format", "json", "Output format (json, text)")
	pf.StringVar(&opts.metricsOut, "metrics-out", "", "Write Prometheus text metrics to this file after the command (requires observability.metrics_enabled)")

	cmd.AddCommand(newCompileCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	return cmd
}

// loadConfig loads and validates configuration. Database errors are only fatal when the
// command needs a database.
func loadConfig(cmd *cobra.Command, needDatabase bool) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	result := cfg.Validate()
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logging.ParseLevel(cfg.Observability.Logging.Level)}))
	for _, warn := range result.Warnings {
		logger.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	var fatal []string
	for _, e := range result.Errors {
		if !needDatabase && strings.HasPrefix(e.Field, "database.") {
			continue
		}
		fatal = append(fatal, e.Error())
	}
	if len(fatal) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(fatal, "; "))
	}
	return cfg, nil
}

// withApp builds and initializes the application, runs fn, then writes metrics if asked
// and shuts everything down.
func withApp(cmd *cobra.Command, opts *rootOptions, needDatabase bool, fn func(context.Context, *app.App) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd, needDatabase)
	if err != nil {
		return err
	}
	logger, loggerProvider, err := app.InitLogger(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(ctx, logger.Logger)
		}
		return err
	}
	a.AttachLoggerProvider(loggerProvider)
	defer func() {
		_ = a.Shutdown(context.Background())
	}()

	if err := a.Init(ctx); err != nil {
		return err
	}
	if needDatabase {
		if err := a.Connect(ctx); err != nil {
			return err
		}
	}

	err = fn(ctx, a)
	if opts.metricsOut != "" {
		if werr := writeMetricsFile(a, opts.metricsOut); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func writeMetricsFile(a *app.App, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	if err := a.WriteMetrics(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// readRequest decodes the request document at path; "-" reads stdin.
func readRequest(cmd *cobra.Command, path string) (*ast.Request, error) {
	if path != "-" {
		return ast.LoadRequest(path)
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("read request from stdin: %w", err)
	}
	return ast.DecodeRequest(data)
}
