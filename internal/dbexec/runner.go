package dbexec

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"odata-sql/internal/logging"
	"odata-sql/internal/materialize"
	"odata-sql/internal/observability"
	"odata-sql/internal/planner"
)

// Runner executes plans and materializes their pages.
type Runner struct {
	executor QueryExecutor
}

// NewRunner returns a runner reading through executor.
func NewRunner(executor QueryExecutor) *Runner {
	return &Runner{executor: executor}
}

// Run executes the data statement of plan and, when present, its count statement
// concurrently. The first failure cancels the other statement.
func (r *Runner) Run(ctx context.Context, plan *planner.Plan) (*materialize.Page, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is required")
	}
	start := time.Now()
	ctx, span := otel.Tracer("odata-sql/dbexec").Start(ctx, "dbexec.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("odata.entity_set", plan.EntitySet),
		attribute.String("db.system", plan.Dialect),
		attribute.Bool("odata.count", plan.Count != nil),
	)

	metrics := observability.QueryMetricsFromContext(ctx)
	if metrics != nil {
		metrics.IncrementActiveQueries(ctx)
		defer metrics.DecrementActiveQueries(ctx)
	}
	logger := logging.FromContext(ctx)
	if id := logging.CompileID(ctx); id != "" {
		logger = logger.WithCompileID(id)
	}

	writer := materialize.NewWriter(plan)
	var count *int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.stream(gctx, plan.Data, writer)
	})
	if plan.Count != nil {
		g.Go(func() error {
			n, err := r.count(gctx, *plan.Count)
			if err != nil {
				return err
			}
			count = &n
			return nil
		})
	}
	err := g.Wait()

	var page *materialize.Page
	if err == nil {
		page, err = writer.Finish(count)
	}
	if metrics != nil {
		metrics.RecordExecution(ctx, time.Since(start), plan.EntitySet, err != nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("plan execution failed", "entity_set", plan.EntitySet, "error", err)
		return nil, err
	}

	if metrics != nil {
		metrics.RecordPage(ctx, plan.EntitySet, page.Rows, len(page.Items))
	}
	span.SetAttributes(
		attribute.Int("odata.result.rows", page.Rows),
		attribute.Int("odata.result.entities", len(page.Items)),
		attribute.Bool("odata.result.has_next", page.NextSkipToken != ""),
	)
	logger.Debug("executed plan",
		"entity_set", plan.EntitySet,
		"rows", page.Rows,
		"entities", len(page.Items),
		"duration", time.Since(start),
	)
	return page, nil
}

func (r *Runner) stream(ctx context.Context, q planner.SQLQuery, writer *materialize.Writer) error {
	rows, err := r.executor.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return fmt.Errorf("data query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("data query columns: %w", err)
	}
	for rows.Next() {
		row := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan data row: %w", err)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("materialize row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("data query: %w", err)
	}
	return nil
}

func (r *Runner) count(ctx context.Context, q planner.SQLQuery) (int64, error) {
	rows, err := r.executor.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("scan count: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return n, nil
}
