package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"

	"odata-sql/internal/dialect"
)

// OpenConfig describes the database a plan runs against.
type OpenConfig struct {
	Dialect *dialect.Dialect
	DSN     string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Metrics      bool
	Tracing      bool
	SQLCommenter bool
}

// DB is an opened database plus its stats registration, if any.
type DB struct {
	*sql.DB
	stats interface{ Unregister() error }
}

// Close unregisters the stats callback and closes the pool.
func (d *DB) Close() error {
	if d.stats != nil {
		_ = d.stats.Unregister()
	}
	return d.DB.Close()
}

func dbSystem(d *dialect.Dialect) attribute.KeyValue {
	switch d.Name {
	case "postgres":
		return semconv.DBSystemPostgreSQL
	case "sqlite":
		return semconv.DBSystemSqlite
	default:
		return semconv.DBSystemMySQL
	}
}

// ValidateDSN parses dsn with the driver of d.
func ValidateDSN(d *dialect.Dialect, dsn string) error {
	switch d.Name {
	case "mysql":
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return fmt.Errorf("invalid mysql dsn: %w", err)
		}
	case "postgres":
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return fmt.Errorf("invalid postgres dsn: %w", err)
		}
	case "sqlite":
		if dsn == "" {
			return fmt.Errorf("sqlite dsn must name a file or memory database")
		}
	}
	return nil
}

// Open opens the database of cfg, instrumented with otelsql when metrics or tracing is
// enabled.
func Open(cfg OpenConfig, logger *slog.Logger) (*DB, error) {
	if cfg.Dialect == nil {
		return nil, fmt.Errorf("a dialect is required to open a database")
	}
	if err := ValidateDSN(cfg.Dialect, cfg.DSN); err != nil {
		return nil, err
	}

	out := &DB{}
	if cfg.Metrics || cfg.Tracing {
		opts := []otelsql.Option{otelsql.WithAttributes(dbSystem(cfg.Dialect))}
		if cfg.Tracing {
			opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		}
		if cfg.SQLCommenter && cfg.Tracing {
			opts = append(opts, otelsql.WithSQLCommenter(true))
		} else if cfg.SQLCommenter {
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}

		db, err := otelsql.Open(cfg.Dialect.DriverName, cfg.DSN, opts...)
		if err != nil {
			return nil, err
		}
		out.DB = db
		if cfg.Metrics {
			out.stats, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystem(cfg.Dialect)))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}
		logger.Info("database instrumentation enabled",
			slog.String("driver", cfg.Dialect.DriverName),
			slog.Bool("metrics", cfg.Metrics),
			slog.Bool("tracing", cfg.Tracing),
		)
	} else {
		db, err := sql.Open(cfg.Dialect.DriverName, cfg.DSN)
		if err != nil {
			return nil, err
		}
		out.DB = db
	}

	if cfg.MaxOpenConns > 0 {
		out.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		out.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		out.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return out, nil
}

// WaitForDatabase pings db until it answers or timeout elapses. A zero timeout pings once.
func WaitForDatabase(ctx context.Context, db *sql.DB, timeout, interval time.Duration, logger *slog.Logger) error {
	if timeout == 0 {
		return db.PingContext(ctx)
	}
	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}
		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
