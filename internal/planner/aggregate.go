package planner

import (
	"fmt"

	"odata-sql/internal/ast"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/rowshape"
	"odata-sql/internal/sqltype"
)

// ApplyDescriptor describes one field introduced by a group-by or an aggregate.
type ApplyDescriptor struct {
	Alias    string
	GroupKey bool
	// Function is empty for group keys.
	Function ast.AggregateMethod
	// Argument is the pre-group expression the key or aggregate reads.
	Argument expr.Expr
	// Position is the index of the field in Shape.
	Position int
}

// ApplyShape is the row shape produced by a group-by or aggregate: group keys first,
// then aggregates, read back through the key and aggregate columns of the grouping select.
type ApplyShape struct {
	Shape       *rowshape.Shape
	Descriptors []ApplyDescriptor
}

// Resolve looks up a field by alias and returns its descriptor and the column holding it
// under tableAlias. A group key is read from the key columns at the position counting
// only prior group keys; anything else from the aggregate columns at
// index minus the number of group keys.
func (a *ApplyShape) Resolve(alias, tableAlias string) (ApplyDescriptor, expr.Column, error) {
	idx, field, err := a.Shape.Lookup(alias)
	if err != nil {
		return ApplyDescriptor{}, expr.Column{}, err
	}
	desc := a.Descriptors[idx]
	var column string
	if desc.GroupKey {
		prior := 0
		for _, d := range a.Descriptors[:idx] {
			if d.GroupKey {
				prior++
			}
		}
		column = keyColumn(prior)
	} else {
		column = aggregateColumn(idx - a.Shape.GroupKeyCount())
	}
	return desc, expr.Column{Table: tableAlias, Name: column, T: field.Type}, nil
}

func keyColumn(i int) string       { return fmt.Sprintf("__k%d", i) }
func aggregateColumn(j int) string { return fmt.Sprintf("__a%d", j) }
func preKeyColumn(i int) string    { return fmt.Sprintf("__g%d", i) }
func preValueColumn(j int) string  { return fmt.Sprintf("__v%d", j) }

type aggregateSignature struct {
	fn       expr.AggregateFunc
	nullable bool
	result   func(arg sqltype.Type) (sqltype.Type, bool)
}

func sumResult(arg sqltype.Type) (sqltype.Type, bool) {
	switch arg.Kind {
	case sqltype.KindInt32, sqltype.KindInt64:
		return sqltype.Of(sqltype.KindInt64), true
	case sqltype.KindDecimal, sqltype.KindDouble:
		return sqltype.Of(arg.Kind), true
	}
	return sqltype.Type{}, false
}

func averageResult(arg sqltype.Type) (sqltype.Type, bool) {
	switch arg.Kind {
	case sqltype.KindInt32, sqltype.KindInt64, sqltype.KindDouble:
		return sqltype.Of(sqltype.KindDouble), true
	case sqltype.KindDecimal:
		return sqltype.Of(sqltype.KindDecimal), true
	}
	return sqltype.Type{}, false
}

func extremumResult(arg sqltype.Type) (sqltype.Type, bool) {
	switch arg.Kind {
	case sqltype.KindBoolean, sqltype.KindBinary, sqltype.KindNull:
		return sqltype.Type{}, false
	}
	return arg, true
}

func countResult(arg sqltype.Type) (sqltype.Type, bool) {
	if arg.Kind == sqltype.KindNull {
		return sqltype.Type{}, false
	}
	return sqltype.Of(sqltype.KindInt64), true
}

// aggregateTable maps each aggregation method to the store aggregate and its result type.
var aggregateTable = map[ast.AggregateMethod]aggregateSignature{
	ast.AggregateSum:           {fn: expr.AggSum, nullable: true, result: sumResult},
	ast.AggregateAverage:       {fn: expr.AggAverage, nullable: true, result: averageResult},
	ast.AggregateMin:           {fn: expr.AggMin, nullable: true, result: extremumResult},
	ast.AggregateMax:           {fn: expr.AggMax, nullable: true, result: extremumResult},
	ast.AggregateCountDistinct: {fn: expr.AggCountDistinct, result: countResult},
	ast.AggregateCount:         {fn: expr.AggCount, result: countResult},
}

// aggregateFunction resolves the store aggregate and result type for method over arg.
func aggregateFunction(method ast.AggregateMethod, arg sqltype.Type) (expr.AggregateFunc, sqltype.Type, error) {
	sig, ok := aggregateTable[method]
	if !ok {
		return 0, sqltype.Type{}, planerr.UnsupportedTransformation("aggregate", fmt.Sprintf("unknown aggregation method %q", method))
	}
	t, ok := sig.result(arg)
	if !ok {
		return 0, sqltype.Type{}, planerr.UnsupportedTransformation("aggregate", fmt.Sprintf("%s cannot aggregate %s", method, arg))
	}
	return sig.fn, t.WithNullable(sig.nullable), nil
}

// groupBy groups the rows of src by keys and aggregates each group. It returns the
// block later stages read the grouped rows from.
//
// Three selects are built: src projects the key and argument values, the grouping
// select groups them, and the returned block wraps the grouping select so that later
// filters and orderings see plain columns.
func (c *compilation) groupBy(src *queryBlock, keys []ast.Node, items []ast.AggregateItem) (*queryBlock, error) {
	if len(keys) == 0 && len(items) == 0 {
		return nil, planerr.UnsupportedTransformation("groupby", "grouping requires at least one key or aggregate")
	}

	row := src.Row()
	apply := &ApplyShape{Shape: rowshape.New(c.nextAlias("s"))}
	src.columns = nil
	src.fingerprints = make(map[string]int)

	for i, key := range keys {
		segments, variable, ok := ast.Path(key)
		if !ok || len(segments) == 0 || (variable != "" && variable != ast.It) {
			return nil, planerr.UnsupportedTransformation(ast.KindOf(key), "group keys must be property paths")
		}
		e, err := src.property(row, segments...)
		if err != nil {
			return nil, err
		}
		name := ast.PathString(segments)
		src.projectAs(preKeyColumn(i), e)
		pos, err := apply.Shape.Add(rowshape.Field{
			Name:     name,
			Column:   keyColumn(i),
			Type:     e.Type(),
			GroupKey: true,
			Expr:     expr.Column{Table: apply.Shape.Alias, Name: keyColumn(i), T: e.Type()},
			Identity: name,
		})
		if err != nil {
			return nil, err
		}
		apply.Descriptors = append(apply.Descriptors, ApplyDescriptor{Alias: name, GroupKey: true, Argument: e, Position: pos})
	}

	aggregates := make([]expr.Aggregate, len(items))
	for j, item := range items {
		if item.Alias == "" {
			return nil, planerr.UnsupportedTransformation("aggregate", fmt.Sprintf("%s requires an alias", item.Method))
		}
		argType := sqltype.Of(sqltype.KindInt64)
		var arg expr.Expr
		if item.Method != ast.AggregateCount {
			if item.Expression == nil {
				return nil, planerr.UnsupportedTransformation("aggregate", fmt.Sprintf("%s requires an expression", item.Method))
			}
			e, err := src.translate(item.Expression, row)
			if err != nil {
				return nil, err
			}
			argType = e.Type()
			arg = e
		}
		fn, t, err := aggregateFunction(item.Method, argType)
		if err != nil {
			return nil, err
		}
		aggregates[j] = expr.Aggregate{Func: fn, T: t}
		if arg != nil {
			src.projectAs(preValueColumn(j), arg)
		}
		pos, err := apply.Shape.Add(rowshape.Field{
			Name:     item.Alias,
			Column:   aggregateColumn(j),
			Type:     t,
			Expr:     expr.Column{Table: apply.Shape.Alias, Name: aggregateColumn(j), T: t},
			Identity: item.Alias,
		})
		if err != nil {
			return nil, err
		}
		apply.Descriptors = append(apply.Descriptors, ApplyDescriptor{Alias: item.Alias, Function: item.Method, Argument: arg, Position: pos})
	}

	if len(src.columns) == 0 {
		src.projectAs("__one", expr.Literal{Value: int64(1), T: sqltype.Of(sqltype.KindInt64)})
	}
	pre, err := src.selectBuilder()
	if err != nil {
		return nil, err
	}

	grouping := c.derivedBlock(pre, c.nextAlias("g"), nil)
	var groupCols []string
	for i, desc := range apply.Descriptors[:len(keys)] {
		col := expr.Column{Table: grouping.alias, Name: preKeyColumn(i), T: desc.Argument.Type()}
		grouping.projectAs(keyColumn(i), col)
		groupCols = append(groupCols, c.dialect.QuoteQualified(grouping.alias, preKeyColumn(i)))
	}
	for j, agg := range aggregates {
		if arg := apply.Descriptors[len(keys)+j].Argument; arg != nil {
			agg.Arg = expr.Column{Table: grouping.alias, Name: preValueColumn(j), T: arg.Type()}
		}
		grouping.projectAs(aggregateColumn(j), agg)
	}
	grouped, err := grouping.selectBuilder()
	if err != nil {
		return nil, err
	}
	if len(groupCols) > 0 {
		grouped = grouped.GroupBy(groupCols...)
	}
	return c.derivedBlock(grouped, apply.Shape.Alias, apply), nil
}

// compute adds computed aliases to the block's rows. Later items may reference earlier
// ones.
func (b *queryBlock) compute(items []ast.ComputeItem) error {
	for _, item := range items {
		if item.Alias == "" {
			return planerr.UnsupportedTransformation("compute", "computed values require an alias")
		}
		if b.nameTaken(item.Alias) {
			return planerr.AmbiguousOrMissingField(item.Alias, 2)
		}
		e, err := b.translate(item.Expression, b.Row())
		if err != nil {
			return err
		}
		b.computed[item.Alias] = e
		b.computeOrder = append(b.computeOrder, item.Alias)
	}
	return nil
}

func (b *queryBlock) nameTaken(name string) bool {
	if _, ok := b.computed[name]; ok {
		return true
	}
	if b.entity != nil {
		if _, ok := b.entity.Property(name); ok {
			return true
		}
		if _, ok := b.entity.Navigation(name); ok {
			return true
		}
	}
	return b.apply != nil && b.apply.Shape.Matches(name) > 0
}
