package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"odata-sql/internal/ast"
)

// RequestShape summarizes the options a request uses.
type RequestShape struct {
	Transformations int
	HasFilter       bool
	ComputeCount    int
	SelectCount     int
	ExpandCount     int
	ExpandDepth     int
	OrderByCount    int
	Paged           bool
	Counted         bool
}

// DescribeRequest measures req for spans and logs.
func DescribeRequest(req *ast.Request) RequestShape {
	if req == nil {
		return RequestShape{}
	}
	shape := RequestShape{
		Transformations: len(req.Apply),
		HasFilter:       req.Filter != nil,
		ComputeCount:    len(req.Compute),
		OrderByCount:    len(req.OrderBy),
		Paged:           req.SkipToken != "",
		Counted:         req.Count,
	}
	if req.Select != nil {
		shape.SelectCount = len(req.Select.Select)
	}
	shape.ExpandCount, shape.ExpandDepth = countExpands(req.Select, 0)
	return shape
}

func countExpands(se *ast.SelectExpand, depth int) (count, maxDepth int) {
	maxDepth = depth
	if se == nil {
		return 0, depth
	}
	for _, item := range se.Expand {
		n, d := countExpands(item.Nested, depth+1)
		count += n + 1
		if d > maxDepth {
			maxDepth = d
		}
	}
	return count, maxDepth
}

// RequestSpanAttributes builds canonical span attributes for a request.
func RequestSpanAttributes(req *ast.Request) []attribute.KeyValue {
	if req == nil {
		return nil
	}
	shape := DescribeRequest(req)
	attrs := []attribute.KeyValue{
		attribute.String("odata.entity_set", req.EntitySet),
		attribute.Int("odata.request.apply_steps", shape.Transformations),
		attribute.Bool("odata.request.filter", shape.HasFilter),
		attribute.Int("odata.request.expand_count", shape.ExpandCount),
		attribute.Int("odata.request.expand_depth", shape.ExpandDepth),
		attribute.Int("odata.request.orderby_count", shape.OrderByCount),
	}
	if shape.Paged {
		attrs = append(attrs, attribute.Bool("odata.request.skip_token", true))
	}
	if shape.Counted {
		attrs = append(attrs, attribute.Bool("odata.request.count", true))
	}
	return attrs
}

// RequestLogFields builds canonical structured log fields for a request.
func RequestLogFields(ctx context.Context, req *ast.Request) []any {
	fields := make([]any, 0, 4)
	if req != nil {
		shape := DescribeRequest(req)
		fields = append(fields,
			slog.String("entity_set", req.EntitySet),
			slog.Int("expand_depth", shape.ExpandDepth),
		)
		if shape.Paged {
			fields = append(fields, slog.Bool("skip_token", true))
		}
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}
