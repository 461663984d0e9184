package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds the metrics of compiling and executing requests.
type QueryMetrics struct {
	compileDuration metric.Float64Histogram
	compileCounter  metric.Int64Counter
	compileErrors   metric.Int64Counter
	planJoins       metric.Int64Histogram
	execDuration    metric.Float64Histogram
	execErrors      metric.Int64Counter
	activeQueries   metric.Int64UpDownCounter
	resultRows      metric.Int64Histogram
	pageEntities    metric.Int64Histogram
}

// InitQueryMetrics creates the compile and execution instruments on the global meter
// provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("odata-sql")

	compileDuration, err := meter.Float64Histogram(
		"odata.compile.duration",
		metric.WithDescription("Duration of request compilation in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile duration histogram: %w", err)
	}

	compileCounter, err := meter.Int64Counter(
		"odata.compile.total",
		metric.WithDescription("Total number of compiled requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile counter: %w", err)
	}

	compileErrors, err := meter.Int64Counter(
		"odata.compile.errors",
		metric.WithDescription("Number of requests rejected by the compiler, by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile error counter: %w", err)
	}

	planJoins, err := meter.Int64Histogram(
		"odata.plan.joins",
		metric.WithDescription("Number of joins in a compiled plan"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan joins histogram: %w", err)
	}

	execDuration, err := meter.Float64Histogram(
		"odata.execute.duration",
		metric.WithDescription("Duration of plan execution in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution duration histogram: %w", err)
	}

	execErrors, err := meter.Int64Counter(
		"odata.execute.errors",
		metric.WithDescription("Number of failed plan executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution error counter: %w", err)
	}

	activeQueries, err := meter.Int64UpDownCounter(
		"odata.execute.active",
		metric.WithDescription("Number of plans currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active queries counter: %w", err)
	}

	resultRows, err := meter.Int64Histogram(
		"odata.result.rows",
		metric.WithDescription("Number of flat rows read for one page"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create result rows histogram: %w", err)
	}

	pageEntities, err := meter.Int64Histogram(
		"odata.result.entities",
		metric.WithDescription("Number of root entities returned in one page"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create page entities histogram: %w", err)
	}

	return &QueryMetrics{
		compileDuration: compileDuration,
		compileCounter:  compileCounter,
		compileErrors:   compileErrors,
		planJoins:       planJoins,
		execDuration:    execDuration,
		execErrors:      execErrors,
		activeQueries:   activeQueries,
		resultRows:      resultRows,
		pageEntities:    pageEntities,
	}, nil
}

// RecordCompile records one compilation. errKind is "none" for a successful compile.
func (m *QueryMetrics) RecordCompile(ctx context.Context, duration time.Duration, entitySet string, joins int, errKind string) {
	attrs := []attribute.KeyValue{
		attribute.String("entity_set", entitySet),
		attribute.Bool("has_errors", errKind != "none"),
	}
	m.compileDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	m.compileCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errKind != "none" {
		m.compileErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity_set", entitySet),
			attribute.String("error_kind", errKind),
		))
		return
	}
	m.planJoins.Record(ctx, int64(joins), metric.WithAttributes(attribute.String("entity_set", entitySet)))
}

// RecordExecution records the execution of one plan against the database.
func (m *QueryMetrics) RecordExecution(ctx context.Context, duration time.Duration, entitySet string, failed bool) {
	attrs := []attribute.KeyValue{
		attribute.String("entity_set", entitySet),
		attribute.Bool("has_errors", failed),
	}
	m.execDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if failed {
		m.execErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_set", entitySet)))
	}
}

// RecordPage records the flat rows read and the root entities materialized for a page.
func (m *QueryMetrics) RecordPage(ctx context.Context, entitySet string, rows, entities int) {
	attrs := metric.WithAttributes(attribute.String("entity_set", entitySet))
	m.resultRows.Record(ctx, int64(rows), attrs)
	m.pageEntities.Record(ctx, int64(entities), attrs)
}

// IncrementActiveQueries increments the executing plans counter
func (m *QueryMetrics) IncrementActiveQueries(ctx context.Context) {
	m.activeQueries.Add(ctx, 1)
}

// DecrementActiveQueries decrements the executing plans counter
func (m *QueryMetrics) DecrementActiveQueries(ctx context.Context) {
	m.activeQueries.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the QueryMetrics instance
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := InitQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}

	logger.Info("query metrics initialized")
	return metrics, nil
}

type queryMetricsContextKey struct{}

// ContextWithQueryMetrics stores query metrics in the provided context.
func ContextWithQueryMetrics(ctx context.Context, metrics *QueryMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, queryMetricsContextKey{}, metrics)
}

// QueryMetricsFromContext retrieves query metrics from the context.
func QueryMetricsFromContext(ctx context.Context) *QueryMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(queryMetricsContextKey{}).(*QueryMetrics)
	return metrics
}
