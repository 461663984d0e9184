package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"odata-sql/internal/config"
	"odata-sql/internal/dbexec"
	"odata-sql/internal/dialect"
	"odata-sql/internal/logging"
	"odata-sql/internal/observability"
)

// InitLogger builds the process logger. With log export enabled it also starts an OTLP
// logger provider and tees records into it; the caller attaches the provider to the App.
func InitLogger(ctx context.Context, cfg *config.Config, out io.Writer) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := cfg.Observability.LoggingConfig()
	loggerCfg.Output = out
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.LogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", logsConfig.ServiceName),
		slog.String("environment", logsConfig.Environment),
		slog.String("otlp_endpoint", logsConfig.OTLP.Endpoint),
		slog.String("otlp_protocol", logsConfig.OTLP.Protocol),
		slog.Bool("insecure", logsConfig.OTLP.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(ctx, logsConfig)
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Debug("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(cfg.Observability.MetricsConfig())
	if err != nil {
		return nil, nil, err
	}
	metrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return meterProvider, metrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.TracesConfig()
	logger.Debug("initializing OpenTelemetry tracing",
		slog.String("service_name", tracesConfig.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.OTLP.Endpoint),
		slog.String("otlp_protocol", tracesConfig.OTLP.Protocol),
		slog.Float64("sample_ratio", tracesConfig.TraceSampleRatio),
	)

	return observability.InitTracerProvider(ctx, tracesConfig)
}

func connectDB(ctx context.Context, cfg *config.Config, d *dialect.Dialect, logger *logging.Logger) (*dbexec.DB, error) {
	// Register custom TLS configuration if needed (for verify-ca/verify-full modes)
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	db, err := dbexec.Open(cfg.OpenConfig(d), logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := dbexec.WaitForDatabase(ctx, db.DB, cfg.Database.ConnectionTimeout, cfg.Database.ConnectionRetryInterval, logger.Logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("connected to database",
		slog.String("driver", d.DriverName),
		slog.String("database", cfg.Database.Database),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return db, nil
}

func buildQueryExecutor(cfg *config.Config, db *dbexec.DB, d *dialect.Dialect) (dbexec.QueryExecutor, error) {
	if cfg.Database.Role == "" && len(cfg.Database.AllowedRoles) == 0 {
		return dbexec.NewStandardExecutor(db.DB), nil
	}
	executor, err := dbexec.NewRoleExecutor(dbexec.RoleExecutorConfig{
		DB:           db.DB,
		Dialect:      d,
		DefaultRole:  cfg.Database.Role,
		AllowedRoles: cfg.Database.AllowedRoles,
		ValidateRole: len(cfg.Database.AllowedRoles) > 0,
	})
	if err != nil {
		return nil, err
	}
	return executor, nil
}
