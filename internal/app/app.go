// Package app wires configuration, observability, the entity model, the compiler and the
// database into one lifecycle used by the command line.
package app

import (
	"fmt"
	"sync"

	"odata-sql/internal/config"
	"odata-sql/internal/dbexec"
	"odata-sql/internal/dialect"
	"odata-sql/internal/logging"
	"odata-sql/internal/observability"
	"odata-sql/internal/planner"
	"odata-sql/internal/schema"
)

// App owns the runtime resources of one odsql invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	metrics        *observability.QueryMetrics

	model    *schema.Schema
	dialect  *dialect.Dialect
	compiler *planner.Compiler

	db           *dbexec.DB
	runner       *dbexec.Runner
	rolesEnabled bool

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool
	connected   bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Compiler returns the compiler built by Init.
func (a *App) Compiler() *planner.Compiler {
	return a.compiler
}

// Schema returns the entity model loaded by Init.
func (a *App) Schema() *schema.Schema {
	return a.model
}
