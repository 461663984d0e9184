package app

import (
	"context"
	"fmt"
	"log/slog"

	"odata-sql/internal/dbexec"
	"odata-sql/internal/planner"
	"odata-sql/internal/schema"
	"odata-sql/internal/schemafilter"
)

// Init starts observability, loads the entity model and builds the compiler. It is
// idempotent and does not touch the database.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.initialized {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	success := false
	defer func() {
		if !success {
			a.cleanup.run(context.Background(), a.logger)
		}
	}()

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		a.cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		a.cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	if a.cfg.Schema.File == "" {
		return fmt.Errorf("schema.file is required")
	}
	model, err := schema.Load(a.cfg.Schema.File)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	if !a.cfg.Schema.Filters.IsZero() {
		model = schemafilter.Apply(model, a.cfg.Schema.Filters)
		if err := model.Validate(); err != nil {
			return fmt.Errorf("filtered schema is invalid: %w", err)
		}
	}

	d, err := a.cfg.Dialect()
	if err != nil {
		return err
	}
	compiler, err := planner.New(model, d, a.cfg.PlannerOptions()...)
	if err != nil {
		return fmt.Errorf("failed to build compiler: %w", err)
	}

	a.logger.Debug("compiler ready",
		slog.String("schema", a.cfg.Schema.File),
		slog.String("dialect", d.Name),
		slog.Int("entity_sets", len(model.EntitySets)),
	)

	a.meterProvider = meterProvider
	a.metrics = metrics
	a.tracerProvider = tracerProvider
	a.model = model
	a.dialect = compiler.Dialect()
	a.compiler = compiler
	a.initialized = true
	success = true
	return nil
}

// Connect opens the configured database and builds the plan runner. Init must run first.
func (a *App) Connect(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if !a.initialized {
		return fmt.Errorf("app is not initialized")
	}
	if a.connected {
		return nil
	}

	a.logger.Debug("connecting to database",
		slog.String("driver", a.cfg.Database.DriverName()),
		slog.String("host", a.cfg.Database.Host),
		slog.Bool("dsn_present", a.cfg.Database.ConnectionString != ""),
	)
	db, err := connectDB(ctx, a.cfg, a.dialect, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	executor, err := buildQueryExecutor(a.cfg, db, a.dialect)
	if err != nil {
		_ = db.Close()
		return err
	}
	a.cleanup.push("database", func(context.Context) error {
		return db.Close()
	})

	a.db = db
	a.runner = dbexec.NewRunner(executor)
	_, a.rolesEnabled = executor.(*dbexec.RoleExecutor)
	a.connected = true
	return nil
}
