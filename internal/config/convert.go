package config

import (
	"odata-sql/internal/dbexec"
	"odata-sql/internal/dialect"
	"odata-sql/internal/logging"
	"odata-sql/internal/observability"
	"odata-sql/internal/planner"
)

// Dialect resolves the SQL dialect: planner.dialect when set, otherwise the database
// driver's.
func (c *Config) Dialect() (*dialect.Dialect, error) {
	name := c.Planner.Dialect
	if name == "" {
		name = c.Database.DriverName()
	}
	return dialect.ByName(name)
}

// Limits converts the planner section into compiler limits.
func (p *PlannerConfig) Limits() planner.Limits {
	return planner.Limits{
		MaxExpandDepth:  p.MaxExpandDepth,
		MaxJoins:        p.MaxJoins,
		MaxPageSize:     p.MaxPageSize,
		DefaultPageSize: p.DefaultPageSize,
	}
}

// PlannerOptions returns the compiler options the configuration selects.
func (c *Config) PlannerOptions() []planner.Option {
	opts := []planner.Option{planner.WithLimits(c.Planner.Limits())}
	switch c.Planner.NullsOrder {
	case "high":
		opts = append(opts, planner.WithNullsSortHigh(true))
	case "low":
		opts = append(opts, planner.WithNullsSortHigh(false))
	}
	return opts
}

// OpenConfig describes how dbexec opens the configured database.
func (c *Config) OpenConfig(d *dialect.Dialect) dbexec.OpenConfig {
	return dbexec.OpenConfig{
		Dialect:         d,
		DSN:             c.Database.DSN(),
		MaxOpenConns:    c.Database.Pool.MaxOpen,
		MaxIdleConns:    c.Database.Pool.MaxIdle,
		ConnMaxLifetime: c.Database.Pool.MaxLifetime,
		Metrics:         c.Observability.MetricsEnabled,
		Tracing:         c.Observability.TracingEnabled,
		SQLCommenter:    c.Observability.SQLCommenterEnabled,
	}
}

// LoggingConfig returns the logger settings; the caller supplies output and provider.
func (o *ObservabilityConfig) LoggingConfig() logging.Config {
	return logging.Config{Level: o.Logging.Level, Format: o.Logging.Format}
}

// MetricsConfig returns the OpenTelemetry resource settings for the meter provider.
func (o *ObservabilityConfig) MetricsConfig() observability.Config {
	return o.otelConfig(o.OTLP)
}

// TracesConfig returns the OpenTelemetry settings for trace export.
func (o *ObservabilityConfig) TracesConfig() observability.Config {
	return o.otelConfig(o.GetTracesConfig())
}

// LogsConfig returns the OpenTelemetry settings for log export.
func (o *ObservabilityConfig) LogsConfig() observability.Config {
	return o.otelConfig(o.GetLogsConfig())
}

func (o *ObservabilityConfig) otelConfig(otlp OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      o.ServiceName,
		ServiceVersion:   o.ServiceVersion,
		Environment:      o.Environment,
		TraceSampleRatio: o.TraceSampleRatio,
		OTLP: observability.OTLPConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
		},
	}
}
