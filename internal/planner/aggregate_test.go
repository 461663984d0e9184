package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odata-sql/internal/ast"
	"odata-sql/internal/dialect"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/rowshape"
	"odata-sql/internal/sqltype"
	"odata-sql/internal/testutil"
)

func TestAggregateFunction(t *testing.T) {
	tests := []struct {
		method ast.AggregateMethod
		arg    sqltype.Kind
		fn     expr.AggregateFunc
		want   sqltype.Type
	}{
		{ast.AggregateSum, sqltype.KindInt32, expr.AggSum, sqltype.Of(sqltype.KindInt64).WithNullable(true)},
		{ast.AggregateSum, sqltype.KindDecimal, expr.AggSum, sqltype.Of(sqltype.KindDecimal).WithNullable(true)},
		{ast.AggregateAverage, sqltype.KindInt64, expr.AggAverage, sqltype.Of(sqltype.KindDouble).WithNullable(true)},
		{ast.AggregateAverage, sqltype.KindDecimal, expr.AggAverage, sqltype.Of(sqltype.KindDecimal).WithNullable(true)},
		{ast.AggregateMin, sqltype.KindString, expr.AggMin, sqltype.Of(sqltype.KindString).WithNullable(true)},
		{ast.AggregateMax, sqltype.KindDateTime, expr.AggMax, sqltype.Of(sqltype.KindDateTime).WithNullable(true)},
		{ast.AggregateCountDistinct, sqltype.KindString, expr.AggCountDistinct, sqltype.Of(sqltype.KindInt64)},
		{ast.AggregateCount, sqltype.KindInt64, expr.AggCount, sqltype.Of(sqltype.KindInt64)},
	}
	for _, tt := range tests {
		t.Run(string(tt.method)+"/"+tt.arg.String(), func(t *testing.T) {
			fn, got, err := aggregateFunction(tt.method, sqltype.Of(tt.arg))
			require.NoError(t, err)
			assert.Equal(t, tt.fn, fn)
			assert.Equal(t, tt.want, got)
		})
	}

	_, _, err := aggregateFunction(ast.AggregateSum, sqltype.Of(sqltype.KindString))
	assert.True(t, errors.Is(err, planerr.ErrUnsupportedTransformation))
	_, _, err = aggregateFunction(ast.AggregateMin, sqltype.Of(sqltype.KindBoolean))
	assert.True(t, errors.Is(err, planerr.ErrUnsupportedTransformation))
	_, _, err = aggregateFunction("median", sqltype.Of(sqltype.KindInt64))
	assert.True(t, errors.Is(err, planerr.ErrUnsupportedTransformation))
}

func TestApplyShape_Resolve(t *testing.T) {
	apply := &ApplyShape{Shape: rowshape.New("s1")}
	add := func(name string, key bool) {
		pos, err := apply.Shape.Add(rowshape.Field{Name: name, GroupKey: key, Type: sqltype.Of(sqltype.KindInt64)})
		require.NoError(t, err)
		apply.Descriptors = append(apply.Descriptors, ApplyDescriptor{Alias: name, GroupKey: key, Position: pos})
	}
	add("Country", true)
	add("Year", true)
	add("total", false)
	add("orders", false)

	cases := map[string]string{"Country": "__k0", "Year": "__k1", "total": "__a0", "orders": "__a1", "TOTAL": "__a0"}
	for alias, column := range cases {
		desc, col, err := apply.Resolve(alias, "s1")
		require.NoError(t, err, alias)
		assert.Equal(t, column, col.Name, alias)
		assert.Equal(t, "s1", col.Table)
		assert.Equal(t, desc.GroupKey, column[:3] == "__k")
	}

	_, _, err := apply.Resolve("missing", "s1")
	assert.True(t, errors.Is(err, planerr.ErrAmbiguousOrMissingField))
}

func TestCompile_AggregateWithoutKeys(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	plan := compileRequest(t, newCompiler(t, dialect.SQLite()), &ast.Request{
		EntitySet: "Products",
		Apply: []ast.Transformation{&ast.AggregateTransform{Items: []ast.AggregateItem{
			{Method: ast.AggregateCount, Alias: "total"},
			{Expression: ast.Prop("Rating"), Method: ast.AggregateMax, Alias: "best"},
		}}},
	})
	assert.Empty(t, plan.Root.Keys)
	assert.Empty(t, plan.Ordering)

	rows := queryRows(t, db, plan.Data)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(6), readValue(t, plan.Root.Fields[0], rows[0]))
	assert.Equal(t, 4.5, readValue(t, plan.Root.Fields[1], rows[0]))
}

func TestCompile_GroupByNavigationKey(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	plan := compileRequest(t, newCompiler(t, dialect.SQLite()), &ast.Request{
		EntitySet: "Products",
		Apply: []ast.Transformation{&ast.GroupByTransform{
			Keys:       []ast.Node{ast.Prop("Category/Name")},
			Aggregates: []ast.AggregateItem{{Method: ast.AggregateCount, Alias: "n"}},
		}},
	})
	assert.Equal(t, 1, plan.Joins)
	assert.Equal(t, "Category/Name", plan.OrderKey)

	rows := queryRows(t, db, plan.Data)
	var got [][2]any
	for _, row := range rows {
		got = append(got, [2]any{readValue(t, plan.Root.Fields[0], row), readValue(t, plan.Root.Fields[1], row)})
	}
	assert.Equal(t, [][2]any{{nil, int64(2)}, {"Garden", int64(2)}, {"Tools", int64(2)}}, got)
}

func TestCompile_ComputeAndOrderOverGroups(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	plan := compileRequest(t, newCompiler(t, dialect.SQLite()), &ast.Request{
		EntitySet: "Products",
		Apply: []ast.Transformation{
			&ast.GroupByTransform{
				Keys:       []ast.Node{ast.Prop("Name")},
				Aggregates: []ast.AggregateItem{{Expression: ast.Prop("Rating"), Method: ast.AggregateAverage, Alias: "avgRating"}},
			},
			&ast.ComputeTransform{Items: []ast.ComputeItem{
				{Expression: ast.Binary(ast.OpMul, ast.Prop("avgRating"), ast.Const(2.0)), Alias: "score"},
			}},
		},
		Select:  &ast.SelectExpand{Select: []string{"Name", "score"}},
		OrderBy: []ast.OrderByItem{{Expression: ast.Prop("avgRating"), Descending: true}},
	})
	assert.Equal(t, "avgRating,Name", plan.OrderKey)
	assert.Equal(t, 2, plan.Root.Arity())

	rows := queryRows(t, db, plan.Data)
	var names []any
	var scores []any
	for _, row := range rows {
		names = append(names, readValue(t, plan.Root.Fields[0], row))
		scores = append(scores, readValue(t, plan.Root.Fields[1], row))
	}
	assert.Equal(t, []any{"Spade", "Hammer", "Rake"}, names)
	assert.Equal(t, []any{8.0, 7.0, 6.0}, scores)
}

func TestCompile_GroupByErrors(t *testing.T) {
	c := newCompiler(t, dialect.MySQL())
	grouped := func(extra ...ast.Transformation) []ast.Transformation {
		return append([]ast.Transformation{&ast.GroupByTransform{
			Keys:       []ast.Node{ast.Prop("Name")},
			Aggregates: []ast.AggregateItem{{Method: ast.AggregateCount, Alias: "n"}},
		}}, extra...)
	}

	tests := []struct {
		name string
		req  *ast.Request
		want error
	}{
		{
			name: "key is not a path",
			req: &ast.Request{EntitySet: "Products", Apply: []ast.Transformation{&ast.GroupByTransform{
				Keys: []ast.Node{ast.Const(1)},
			}}},
			want: planerr.ErrUnsupportedTransformation,
		},
		{
			name: "aggregate without alias",
			req: &ast.Request{EntitySet: "Products", Apply: []ast.Transformation{&ast.AggregateTransform{
				Items: []ast.AggregateItem{{Expression: ast.Prop("Price"), Method: ast.AggregateSum}},
			}}},
			want: planerr.ErrUnsupportedTransformation,
		},
		{
			name: "property lost by grouping",
			req:  &ast.Request{EntitySet: "Products", Apply: grouped(), Filter: ast.Binary(ast.OpGt, ast.Prop("Price"), ast.Const(1))},
			want: planerr.ErrPropertyNotFound,
		},
		{
			name: "expand after grouping",
			req: &ast.Request{EntitySet: "Products", Apply: grouped(), Select: &ast.SelectExpand{
				Expand: []ast.ExpandItem{{Navigation: "Category"}},
			}},
			want: planerr.ErrUnsupportedTransformation,
		},
		{
			name: "compute reuses aggregate alias",
			req: &ast.Request{EntitySet: "Products", Apply: grouped(&ast.ComputeTransform{Items: []ast.ComputeItem{
				{Expression: ast.Const(1), Alias: "n"},
			}})},
			want: planerr.ErrAmbiguousOrMissingField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}
