package planner

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odata-sql/internal/ast"
	"odata-sql/internal/cursor"
	"odata-sql/internal/dialect"
	"odata-sql/internal/planerr"
	"odata-sql/internal/testutil"
)

func intPtr(v int) *int { return &v }

func newCompiler(t *testing.T, d *dialect.Dialect, opts ...Option) *Compiler {
	t.Helper()
	c, err := New(testutil.Schema(t), d, opts...)
	require.NoError(t, err)
	return c
}

func compileRequest(t *testing.T, c *Compiler, req *ast.Request) *Plan {
	t.Helper()
	plan, err := c.Compile(context.Background(), req)
	require.NoError(t, err)
	return plan
}

func queryRows(t *testing.T, db *sql.DB, q SQLQuery) [][]any {
	t.Helper()
	rows, err := db.Query(q.SQL, q.Args...)
	require.NoError(t, err, q.SQL)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)
	var out [][]any
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		out = append(out, row)
	}
	require.NoError(t, rows.Err())
	return out
}

func readValue(t *testing.T, r FieldReader, row []any) any {
	t.Helper()
	v, err := r.Read(row)
	require.NoError(t, err)
	return v
}

func assertGolden(t *testing.T, name, sql string) {
	t.Helper()
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, name, []byte(sql+"\n"))
}

func TestCompile_FilterOnJoinedPathWithExpand(t *testing.T) {
	c := newCompiler(t, dialect.MySQL())
	plan := compileRequest(t, c, &ast.Request{
		EntitySet: "Orders",
		Filter:    ast.Binary(ast.OpEq, ast.Prop("Customer/Country"), ast.Const("UK")),
		Select: &ast.SelectExpand{
			Select: []string{"Id", "Amount"},
			Expand: []ast.ExpandItem{{Navigation: "Customer", Nested: &ast.SelectExpand{Select: []string{"Name"}}}},
		},
		OrderBy: []ast.OrderByItem{{Expression: ast.Prop("PlacedAt"), Descending: true}},
		Top:     intPtr(5),
	})

	assertGolden(t, "orders_customer_filter", plan.Data.SQL)
	assert.Equal(t, []interface{}{"UK"}, plan.Data.Args)
	assert.Equal(t, 1, plan.Joins)
	assert.Equal(t, 5, plan.PageSize)
	assert.Nil(t, plan.Count)

	require.Len(t, plan.Ordering, 2)
	assert.Equal(t, "PlacedAt", plan.Ordering[0].Name)
	assert.True(t, plan.Ordering[0].Descending)
	assert.Equal(t, 4, plan.Ordering[0].Reader.Index)
	assert.Equal(t, "Id", plan.Ordering[1].Name)
	assert.Equal(t, 0, plan.Ordering[1].Reader.Index)
	assert.Equal(t, "PlacedAt,Id", plan.OrderKey)

	root := plan.Root
	assert.Equal(t, 2, root.Arity())
	require.Len(t, root.Children, 1)
	customer := root.Children[0]
	assert.False(t, customer.Collection)
	assert.Equal(t, 1, customer.Arity())
	assert.Equal(t, 3, root.Leaves())
	require.Len(t, customer.Keys, 1)
	assert.Equal(t, 3, customer.Keys[0].Index)
}

func TestCompile_GroupByPipeline(t *testing.T) {
	req := &ast.Request{
		EntitySet: "Products",
		Apply: []ast.Transformation{
			&ast.FilterTransform{Predicate: ast.Binary(ast.OpEq, ast.Prop("Status"), ast.EnumConst("Unknown"))},
			&ast.GroupByTransform{
				Keys:       []ast.Node{ast.Prop("Name")},
				Aggregates: []ast.AggregateItem{{Expression: ast.Prop("Id"), Method: ast.AggregateCountDistinct, Alias: "cnt"}},
			},
		},
		Filter: ast.Binary(ast.OpGt, ast.Prop("cnt"), ast.Const(1)),
	}

	t.Run("sql", func(t *testing.T) {
		plan := compileRequest(t, newCompiler(t, dialect.MySQL()), req)
		assertGolden(t, "products_groupby_pipeline", plan.Data.SQL)
		assert.Equal(t, []interface{}{"Unknown", int64(1)}, plan.Data.Args)
		assert.Empty(t, plan.Root.EntityType)
		require.Len(t, plan.Root.Keys, 1)
		assert.Equal(t, "Name", plan.OrderKey)
	})

	t.Run("sqlite", func(t *testing.T) {
		db := testutil.NewSQLiteDB(t)
		plan := compileRequest(t, newCompiler(t, dialect.SQLite()), req)
		rows := queryRows(t, db, plan.Data)

		require.Len(t, rows, 2)
		assert.Equal(t, "Hammer", readValue(t, plan.Root.Fields[0], rows[0]))
		assert.Equal(t, int64(2), readValue(t, plan.Root.Fields[1], rows[0]))
		assert.Equal(t, "Rake", readValue(t, plan.Root.Fields[0], rows[1]))
		assert.Equal(t, int64(2), readValue(t, plan.Root.Fields[1], rows[1]))
	})
}

func TestCompile_CollectionExpandWrapsPage(t *testing.T) {
	req := &ast.Request{
		EntitySet: "Customers",
		Select: &ast.SelectExpand{
			Select: []string{"Name"},
			Expand: []ast.ExpandItem{{
				Navigation: "Orders",
				Nested:     &ast.SelectExpand{Select: []string{"Amount"}},
				OrderBy:    []ast.OrderByItem{{Expression: ast.Prop("Amount"), Descending: true}},
			}},
		},
		Top: intPtr(2),
	}

	t.Run("sql", func(t *testing.T) {
		plan := compileRequest(t, newCompiler(t, dialect.MySQL()), req)
		assertGolden(t, "customers_expand_orders", plan.Data.SQL)
		assert.Empty(t, plan.Data.Args)
		assert.Equal(t, 1, plan.Joins)

		orders := plan.Root.Children[0]
		assert.True(t, orders.Collection)
		require.Len(t, orders.Fields, 1)
		assert.Equal(t, 2, orders.Fields[0].Index)
		assert.Equal(t, "c2", orders.Fields[0].Field.Column)
		require.Len(t, orders.Keys, 1)
		assert.Equal(t, 3, orders.Keys[0].Index)
	})

	t.Run("sqlite", func(t *testing.T) {
		db := testutil.NewSQLiteDB(t)
		plan := compileRequest(t, newCompiler(t, dialect.SQLite()), req)
		rows := queryRows(t, db, plan.Data)

		orders := plan.Root.Children[0]
		var pairs [][2]any
		for _, row := range rows {
			pairs = append(pairs, [2]any{readValue(t, plan.Root.Keys[0], row), readValue(t, orders.Keys[0], row)})
		}
		// three owners: the page plus the look-ahead row
		assert.Equal(t, [][2]any{
			{int64(1), int64(1)},
			{int64(1), int64(2)},
			{int64(2), int64(3)},
			{int64(3), int64(5)},
		}, pairs)
	})
}

func TestCompile_JunctionExpand(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	plan := compileRequest(t, newCompiler(t, dialect.SQLite()), &ast.Request{
		EntitySet: "Products",
		Filter:    ast.Binary(ast.OpEq, ast.Prop("Id"), ast.Const(5)),
		Select: &ast.SelectExpand{
			Select: []string{"Name"},
			Expand: []ast.ExpandItem{{Navigation: "Tags"}},
		},
	})
	rows := queryRows(t, db, plan.Data)

	tags := plan.Root.Children[0]
	var labels []any
	for _, row := range rows {
		assert.Equal(t, "Spade", readValue(t, plan.Root.Fields[0], row))
		for _, f := range tags.Fields {
			if f.Field.Name == "Label" {
				labels = append(labels, readValue(t, f, row))
			}
		}
	}
	assert.Equal(t, []any{"steel", "outdoor"}, labels)
	// the junction table and the wrapper join
	assert.Equal(t, 2, plan.Joins)
}

func TestCompile_QuantifierFilter(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	pred := ast.Binary(ast.OpGt, &ast.PropertyAccess{Source: &ast.RangeVariable{Name: "o"}, Name: "Amount"}, ast.Const(20))
	plan := compileRequest(t, newCompiler(t, dialect.SQLite()), &ast.Request{
		EntitySet: "Customers",
		Filter:    &ast.Quantifier{Kind: ast.QuantifierAny, Source: ast.Nav("Orders"), Variable: "o", Predicate: pred},
	})
	rows := queryRows(t, db, plan.Data)

	var ids []any
	for _, row := range rows {
		ids = append(ids, readValue(t, plan.Root.Keys[0], row))
	}
	assert.Equal(t, []any{int64(1), int64(2)}, ids)
}

func TestCompile_LambdaOuterJoinCountedOnce(t *testing.T) {
	lambda := ast.Binary(ast.OpAnd,
		ast.Binary(ast.OpEq,
			&ast.PropertyAccess{Source: &ast.NavigationAccess{Source: &ast.RangeVariable{Name: "o"}, Name: "Customer"}, Name: "Country"},
			ast.Const("UK")),
		ast.Binary(ast.OpEq,
			&ast.PropertyAccess{Source: &ast.NavigationAccess{Source: &ast.RangeVariable{Name: ast.It}, Name: "Category"}, Name: "Name"},
			ast.Const("Tools")))
	req := &ast.Request{
		EntitySet: "Products",
		Filter:    &ast.Quantifier{Kind: ast.QuantifierAny, Source: ast.Nav("Orders"), Variable: "o", Predicate: lambda},
	}

	limits := DefaultLimits()
	limits.MaxJoins = 2
	plan := compileRequest(t, newCompiler(t, dialect.SQLite(), WithLimits(limits)), req)
	assert.Equal(t, 2, plan.Joins)
	assert.Equal(t, 2, strings.Count(plan.Data.SQL, "LEFT JOIN"))

	rows := queryRows(t, testutil.NewSQLiteDB(t), plan.Data)
	var ids []any
	for _, row := range rows {
		ids = append(ids, readValue(t, plan.Root.Keys[0], row))
	}
	assert.Equal(t, []any{int64(1), int64(2)}, ids)
}

func TestCompile_CountIgnoresPaging(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	plan := compileRequest(t, newCompiler(t, dialect.SQLite()), &ast.Request{
		EntitySet: "Products",
		Filter:    ast.Binary(ast.OpEq, ast.Prop("Status"), ast.EnumConst("Unknown")),
		Top:       intPtr(1),
		Skip:      intPtr(1),
		Count:     true,
	})
	require.NotNil(t, plan.Count)
	assert.Contains(t, plan.Count.SQL, `AS "__count"`)
	assert.NotContains(t, plan.Count.SQL, "LIMIT")

	rows := queryRows(t, db, *plan.Count)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0][0])

	data := queryRows(t, db, plan.Data)
	require.Len(t, data, 2)
	assert.Equal(t, int64(3), readValue(t, plan.Root.Keys[0], data[0]))
}

// pageThrough follows skip tokens until the last page and returns the root keys in the
// order they were served.
func pageThrough(t *testing.T, db *sql.DB, c *Compiler, req ast.Request) []any {
	t.Helper()
	var ids []any
	for i := 0; i < 10; i++ {
		plan := compileRequest(t, c, &req)
		rows := queryRows(t, db, plan.Data)
		more := len(rows) > plan.PageSize
		if more {
			rows = rows[:plan.PageSize]
		}
		for _, row := range rows {
			ids = append(ids, readValue(t, plan.Root.Keys[0], row))
		}
		if !more {
			return ids
		}
		last := rows[len(rows)-1]
		values := make([]any, len(plan.Ordering))
		for j, term := range plan.Ordering {
			values[j] = readValue(t, term.Reader, last)
		}
		token, err := cursor.Encode(plan.EntitySet, plan.OrderKey, directions(plan.Ordering), values...)
		require.NoError(t, err)
		req.SkipToken = token
	}
	t.Fatal("pagination did not terminate")
	return nil
}

func TestCompile_KeysetPagination(t *testing.T) {
	req := ast.Request{
		EntitySet: "Products",
		OrderBy:   []ast.OrderByItem{{Expression: ast.Prop("Rating")}},
		Top:       intPtr(2),
	}

	t.Run("nulls low", func(t *testing.T) {
		db := testutil.NewSQLiteDB(t)
		ids := pageThrough(t, db, newCompiler(t, dialect.SQLite()), req)
		assert.Equal(t, []any{int64(2), int64(4), int64(6), int64(3), int64(5), int64(1)}, ids)
	})

	t.Run("nulls high", func(t *testing.T) {
		db := testutil.NewSQLiteDB(t)
		ids := pageThrough(t, db, newCompiler(t, dialect.SQLite(), WithNullsSortHigh(true)), req)
		assert.Equal(t, []any{int64(6), int64(3), int64(5), int64(1), int64(2), int64(4)}, ids)
	})

	t.Run("descending", func(t *testing.T) {
		db := testutil.NewSQLiteDB(t)
		desc := req
		desc.OrderBy = []ast.OrderByItem{{Expression: ast.Prop("Rating"), Descending: true}}
		ids := pageThrough(t, db, newCompiler(t, dialect.SQLite()), desc)
		assert.Equal(t, []any{int64(1), int64(5), int64(3), int64(6), int64(2), int64(4)}, ids)
	})
}

func TestCompile_SkipTokenErrors(t *testing.T) {
	c := newCompiler(t, dialect.SQLite())
	base := ast.Request{EntitySet: "Products", OrderBy: []ast.OrderByItem{{Expression: ast.Prop("Name")}}}

	wrongSet, err := cursor.Encode("Customers", "Name,Id", []string{"ASC", "ASC"}, "Rake", int64(3))
	require.NoError(t, err)
	wrongArity, err := cursor.Encode("Products", "Name", []string{"ASC"}, "Rake")
	require.NoError(t, err)
	badValue, err := cursor.Encode("Products", "Name,Id", []string{"ASC", "ASC"}, "Rake", "three")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "garbage", token: "%%%", want: planerr.ErrInvalidSkipToken},
		{name: "other entity set", token: wrongSet, want: planerr.ErrInvalidSkipToken},
		{name: "arity", token: wrongArity, want: planerr.ErrCursorArity},
		{name: "unparseable value", token: badValue, want: planerr.ErrInvalidSkipToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.SkipToken = tt.token
			_, err := c.Compile(context.Background(), &req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	c := newCompiler(t, dialect.MySQL())

	tests := []struct {
		name string
		req  *ast.Request
		want error
	}{
		{
			name: "unknown entity set",
			req:  &ast.Request{EntitySet: "Invoices"},
			want: planerr.ErrPropertyNotFound,
		},
		{
			name: "unknown property",
			req:  &ast.Request{EntitySet: "Products", Filter: ast.Binary(ast.OpEq, ast.Prop("Colour"), ast.Const("red"))},
			want: planerr.ErrPropertyNotFound,
		},
		{
			name: "navigation without constraint",
			req:  &ast.Request{EntitySet: "Orders", Filter: ast.Binary(ast.OpEq, ast.Prop("Warehouse/Name"), ast.Const("x"))},
			want: planerr.ErrJoinPathNotFound,
		},
		{
			name: "compute alias shadows property",
			req: &ast.Request{EntitySet: "Products", Compute: []ast.ComputeItem{
				{Expression: ast.Prop("Price"), Alias: "Name"},
			}},
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

func TestCompile_ComputedAliasIsSelectedAndOrderable(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	plan := compileRequest(t, newCompiler(t, dialect.SQLite()), &ast.Request{
		EntitySet: "Orders",
		Compute:   []ast.ComputeItem{{Expression: ast.Binary(ast.OpMul, ast.Prop("Quantity"), ast.Const(10)), Alias: "Points"}},
		Select:    &ast.SelectExpand{Select: []string{"Id", "Points"}},
		OrderBy:   []ast.OrderByItem{{Expression: ast.Prop("Points"), Descending: true}},
		Top:       intPtr(2),
	})
	assert.Equal(t, "Points,Id", plan.OrderKey)

	rows := queryRows(t, db, plan.Data)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), readValue(t, plan.Root.Fields[0], rows[0]))
	assert.Equal(t, int64(30), readValue(t, plan.Root.Fields[1], rows[0]))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, dialect.MySQL())
	assert.Error(t, err)

	_, err = New(testutil.Schema(t), dialect.MySQL(), WithLimits(Limits{DefaultPageSize: 10, MaxPageSize: 5}))
	assert.Error(t, err)

	c := newCompiler(t, dialect.Postgres(), WithNullsSortHigh(false))
	assert.False(t, c.Dialect().NullsSortHigh)
	assert.True(t, c.Dialect().ExplicitNullOrdering())
}
