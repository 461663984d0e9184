package app

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"odata-sql/internal/ast"
	"odata-sql/internal/dbexec"
	"odata-sql/internal/logging"
	"odata-sql/internal/materialize"
	"odata-sql/internal/observability"
	"odata-sql/internal/planner"
)

// Result is a compiled plan and, after Run, the page it produced.
type Result struct {
	CompileID string
	Plan      *planner.Plan
	Page      *materialize.Page
}

// requestContext attaches the logger, metrics and a fresh compile id to ctx.
func (a *App) requestContext(ctx context.Context) (context.Context, string) {
	compileID := uuid.NewString()
	ctx = logging.WithLogger(ctx, a.logger)
	ctx = logging.WithCompileIDContext(ctx, compileID)
	if a.metrics != nil {
		ctx = observability.ContextWithQueryMetrics(ctx, a.metrics)
	}
	return ctx, compileID
}

// Compile builds the plan of req without executing it.
func (a *App) Compile(ctx context.Context, req *ast.Request) (*Result, error) {
	if a.compiler == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	ctx, compileID := a.requestContext(ctx)
	plan, err := a.compiler.Compile(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{CompileID: compileID, Plan: plan}, nil
}

// Run compiles req and executes the plan against the connected database. A non-empty
// role runs the statements under that database role.
func (a *App) Run(ctx context.Context, req *ast.Request, role string) (*Result, error) {
	if a.runner == nil {
		return nil, fmt.Errorf("app is not connected to a database")
	}
	ctx, compileID := a.requestContext(ctx)
	if role != "" {
		if !a.rolesEnabled {
			return nil, fmt.Errorf("role %q requested but database.role and database.allowed_roles are not configured", role)
		}
		ctx = dbexec.WithRole(ctx, role)
	}
	plan, err := a.compiler.Compile(ctx, req)
	if err != nil {
		return nil, err
	}
	page, err := a.runner.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	return &Result{CompileID: compileID, Plan: plan, Page: page}, nil
}

// WriteMetrics writes the collected metrics in the Prometheus text format. It fails when
// metrics are disabled.
func (a *App) WriteMetrics(w io.Writer) error {
	if a.meterProvider == nil {
		return fmt.Errorf("metrics are disabled; set observability.metrics_enabled")
	}
	return a.meterProvider.WriteText(w)
}
