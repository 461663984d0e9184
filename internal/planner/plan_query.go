package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"odata-sql/internal/ast"
	"odata-sql/internal/dialect"
	"odata-sql/internal/expr"
	"odata-sql/internal/logging"
	"odata-sql/internal/observability"
	"odata-sql/internal/planerr"
	"odata-sql/internal/schema"
	"odata-sql/internal/translate"
)

// SQLQuery is a parameterized statement in the placeholder format of its dialect.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Plan is the output of compiling one request.
type Plan struct {
	EntitySet string
	Dialect   string
	// Data returns up to PageSize+1 root rows, with their expanded children.
	Data SQLQuery
	// Count returns the number of rows matching the request before paging, if requested.
	Count    *SQLQuery
	Root     *MaterializationNode
	PageSize int
	Ordering []OrderingTerm
	OrderKey string
	Joins    int
}

// Compiler turns requests into plans. It only reads the schema and is safe for concurrent
// use.
type Compiler struct {
	model   schema.Model
	dialect *dialect.Dialect
	tr      *translate.Translator
	limits  Limits
}

type compilerOptions struct {
	limits        Limits
	nullsSortHigh *bool
}

// Option customizes a Compiler.
type Option func(*compilerOptions)

// WithLimits bounds expand depth, join count and page size.
func WithLimits(limits Limits) Option {
	return func(o *compilerOptions) {
		o.limits = limits
	}
}

// WithNullsSortHigh overrides the null ordering policy of the dialect.
func WithNullsSortHigh(high bool) Option {
	return func(o *compilerOptions) {
		o.nullsSortHigh = &high
	}
}

// New returns a compiler for model rendering SQL in dialect d.
func New(model schema.Model, d *dialect.Dialect, opts ...Option) (*Compiler, error) {
	if model == nil || d == nil {
		return nil, errors.New("model and dialect are required")
	}
	options := &compilerOptions{limits: DefaultLimits()}
	for _, opt := range opts {
		opt(options)
	}
	if err := options.limits.Validate(); err != nil {
		return nil, err
	}
	if options.nullsSortHigh != nil {
		d = d.WithNullsSortHigh(*options.nullsSortHigh)
	}
	return &Compiler{
		model:   model,
		dialect: d,
		tr:      translate.New(model, d),
		limits:  options.limits,
	}, nil
}

// Dialect returns the dialect plans are rendered in.
func (c *Compiler) Dialect() *dialect.Dialect {
	return c.dialect
}

// Compile builds the plan for req. Stages run in a fixed order: apply transformations,
// filter, compute, select/expand, ordering, skip token, paging, collection expansion.
func (c *Compiler) Compile(ctx context.Context, req *ast.Request) (*Plan, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	start := time.Now()
	ctx, span := startCompileSpan(ctx, "planner.compile", observability.RequestSpanAttributes(req)...)
	compileID := logging.CompileID(ctx)
	if compileID == "" {
		compileID = uuid.NewString()
	}
	logger := logging.FromContext(ctx).WithCompileID(compileID).WithFields(observability.RequestLogFields(ctx, req)...)
	logger.Debug("compiling request")

	plan, err := c.compile(req, logger)

	joins := 0
	if plan != nil {
		joins = plan.Joins
		span.SetAttributes(attribute.Int("odata.plan.joins", plan.Joins), attribute.Int("odata.plan.page_size", plan.PageSize))
	}
	finishCompileSpan(span, err)
	if metrics := observability.QueryMetricsFromContext(ctx); metrics != nil {
		metrics.RecordCompile(ctx, time.Since(start), req.EntitySet, joins, planerr.Label(err))
	}
	if err != nil {
		logger.Debug("compile failed", "error", err, "kind", planerr.Label(err))
		return nil, err
	}
	logger.Debug("compiled plan", "joins", plan.Joins, "page_size", plan.PageSize, "order_key", plan.OrderKey)
	return plan, nil
}

func (c *Compiler) compile(req *ast.Request, logger *logging.Logger) (*Plan, error) {
	if err := validateLimits(EstimateCost(req), c.limits); err != nil {
		return nil, err
	}
	entity, err := c.model.EntitySet(req.EntitySet)
	if err != nil {
		return nil, planerr.PropertyNotFound(req.EntitySet, "")
	}

	comp := &compilation{model: c.model, dialect: c.dialect, tr: c.tr, limits: c.limits}
	blk := comp.tableBlock(entity, "t0")

	for _, step := range req.Apply {
		switch t := step.(type) {
		case *ast.FilterTransform:
			err = blk.filter(t.Predicate)
		case *ast.GroupByTransform:
			blk, err = comp.groupBy(blk, t.Keys, t.Aggregates)
		case *ast.AggregateTransform:
			blk, err = comp.groupBy(blk, nil, t.Items)
		case *ast.ComputeTransform:
			err = blk.compute(t.Items)
		default:
			err = planerr.UnsupportedTransformation(fmt.Sprintf("%T", step), "unknown apply transformation")
		}
		if err != nil {
			return nil, err
		}
	}
	if req.Filter != nil {
		if err := blk.filter(req.Filter); err != nil {
			return nil, err
		}
	}
	if len(req.Compute) > 0 {
		if err := blk.compute(req.Compute); err != nil {
			return nil, err
		}
	}
	logger.Debug("planned row source", "alias", blk.alias, "grouped", blk.apply != nil)

	root := newNode(req.EntitySet, entity.Name, true, blk.alias)
	var pending []pendingCollection
	if blk.entity != nil {
		pending, err = comp.selectEntity(blk, root, blk.Row().(*EntityRow), req.Select, 0)
	} else {
		root.EntityType = ""
		err = comp.selectShape(blk, root, req.Select)
	}
	if err != nil {
		return nil, err
	}

	terms, exprs, err := comp.planOrdering(blk, root, req.OrderBy)
	if err != nil {
		return nil, err
	}
	countWhere := append([]expr.Expr{}, blk.where...)

	if req.SkipToken != "" {
		pred, err := comp.keysetFromToken(req.SkipToken, req.EntitySet, terms, exprs)
		if err != nil {
			return nil, err
		}
		blk.where = append(blk.where, pred)
	}

	pageSize := c.limits.pageSize(req.Top)
	page, err := blk.selectBuilder()
	if err != nil {
		return nil, err
	}
	if page, err = comp.applyOrder(page, exprs); err != nil {
		return nil, err
	}
	page = page.Limit(uint64(pageSize) + 1)
	if req.Skip != nil && *req.Skip > 0 {
		page = page.Offset(uint64(*req.Skip))
	}

	order := make([]orderCol, len(terms))
	for i, t := range terms {
		order[i] = orderCol{idx: t.Reader.Index, desc: t.Descending, e: exprs[i].e}
	}
	data, _, _, err := comp.wrap(page, len(blk.columns), order, pending)
	if err != nil {
		return nil, err
	}
	dataSQL, dataArgs, err := data.PlaceholderFormat(c.dialect.Placeholder).ToSql()
	if err != nil {
		return nil, fmt.Errorf("render data query: %w", err)
	}

	root.Pagination = Pagination{
		EntitySet: req.EntitySet,
		PageSize:  pageSize,
		Top:       req.Top,
		Count:     req.Count,
		Ordering:  terms,
		OrderKey:  OrderKey(terms),
	}
	plan := &Plan{
		EntitySet: req.EntitySet,
		Dialect:   c.dialect.Name,
		Data:      SQLQuery{SQL: dataSQL, Args: dataArgs},
		Root:      root,
		PageSize:  pageSize,
		Ordering:  terms,
		OrderKey:  root.Pagination.OrderKey,
		Joins:     comp.joins,
	}

	if req.Count {
		inner := blk.build([]sq.Sqlizer{sq.Expr("1")}, countWhere)
		countSQL, countArgs, err := sq.Select("COUNT(*)").
			FromSelect(inner, c.dialect.QuoteIdentifier("__count")).
			PlaceholderFormat(c.dialect.Placeholder).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("render count query: %w", err)
		}
		plan.Count = &SQLQuery{SQL: countSQL, Args: countArgs}
	}
	return plan, nil
}
