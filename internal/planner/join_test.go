package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odata-sql/internal/ast"
	"odata-sql/internal/dialect"
	"odata-sql/internal/planerr"
	"odata-sql/internal/sqltype"
	"odata-sql/internal/testutil"
)

func TestJoinPath(t *testing.T) {
	p := JoinPath{"Order", "Customer"}
	assert.Equal(t, "Order/Customer", p.Key())
	assert.True(t, p.Equal(JoinPath{"Order", "Customer"}))
	assert.False(t, p.Equal(JoinPath{"Order"}))
	assert.False(t, p.Equal(JoinPath{"Customer", "Order"}))

	q := p.Append("Country")
	assert.Equal(t, JoinPath{"Order", "Customer", "Country"}, q)
	assert.Len(t, p, 2)
}

func TestJoinPlanner_ReusesStepForSamePath(t *testing.T) {
	model := testutil.Schema(t)
	comp := &compilation{model: model, dialect: dialect.MySQL(), limits: DefaultLimits()}
	orders, err := model.EntitySet("Orders")
	require.NoError(t, err)
	jp := newJoinPlanner(comp, "t0", orders)

	first, err := jp.Build(JoinPath{"Product", "Category"})
	require.NoError(t, err)
	again, err := jp.Build(JoinPath{"Product", "Category"})
	require.NoError(t, err)
	product, ok := jp.Lookup(JoinPath{"Product"})
	require.True(t, ok)

	assert.Same(t, first, again)
	assert.Equal(t, "j1", product.Alias)
	assert.Equal(t, "j2", first.Alias)
	assert.Len(t, jp.Steps(), 2)
	assert.Equal(t, 2, comp.joins)
	assert.True(t, strings.HasPrefix(first.clauses[0].SQL, "`categories` AS `j2` ON "), first.clauses[0].SQL)
}

func TestJoinPlanner_Errors(t *testing.T) {
	model := testutil.Schema(t)
	comp := &compilation{model: model, dialect: dialect.MySQL(), limits: DefaultLimits()}
	orders, err := model.EntitySet("Orders")
	require.NoError(t, err)
	jp := newJoinPlanner(comp, "t0", orders)

	_, err = jp.Build(JoinPath{"Warehouse"})
	assert.True(t, errors.Is(err, planerr.ErrJoinPathNotFound))

	_, err = jp.Build(JoinPath{"Product", "Orders"})
	assert.True(t, errors.Is(err, planerr.ErrUnsupportedTransformation))

	_, err = jp.Build(JoinPath{"Customer", "Orders"})
	assert.True(t, errors.Is(err, planerr.ErrUnsupportedTransformation))

	_, err = jp.Build(JoinPath{"Supplier"})
	assert.True(t, errors.Is(err, planerr.ErrPropertyNotFound))

	_, err = jp.Build(nil)
	assert.True(t, errors.Is(err, planerr.ErrJoinPathNotFound))
}

func TestJoinPlanner_MismatchedKeyTypes(t *testing.T) {
	model := testutil.Schema(t)
	for i := range model.EntityTypes {
		et := &model.EntityTypes[i]
		if et.Name != "Order" {
			continue
		}
		for j := range et.Properties {
			if et.Properties[j].Name == "CustomerId" {
				et.Properties[j].Type = sqltype.Of(sqltype.KindString)
			}
		}
	}
	comp := &compilation{model: model, dialect: dialect.MySQL(), limits: DefaultLimits()}
	orders, err := model.EntitySet("Orders")
	require.NoError(t, err)

	_, err = newJoinPlanner(comp, "t0", orders).Build(JoinPath{"Customer"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, planerr.ErrJoinPathNotFound))
	assert.Contains(t, err.Error(), "mismatched key types")

	c, err := New(model, dialect.MySQL())
	require.NoError(t, err)
	_, err = c.Compile(context.Background(), &ast.Request{
		EntitySet: "Customers",
		Filter: &ast.Quantifier{Kind: ast.QuantifierAny, Source: ast.Nav("Orders"), Variable: "o",
			Predicate: ast.Binary(ast.OpGt, &ast.PropertyAccess{Source: &ast.RangeVariable{Name: "o"}, Name: "Amount"}, ast.Const(10))},
	})
	assert.True(t, errors.Is(err, planerr.ErrJoinPathNotFound))
}

func TestCompile_NavigationJoinedOnceAcrossFilterAndExpand(t *testing.T) {
	c := newCompiler(t, dialect.MySQL())
	plan, err := c.Compile(context.Background(), &ast.Request{
		EntitySet: "Orders",
		Filter:    ast.Binary(ast.OpEq, ast.Prop("Customer/Name"), ast.Const("Ada")),
		OrderBy:   []ast.OrderByItem{{Expression: ast.Prop("Customer/Country")}},
		Select: &ast.SelectExpand{
			Expand: []ast.ExpandItem{{Navigation: "Customer"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Joins)
	assert.Equal(t, 1, strings.Count(plan.Data.SQL, "LEFT JOIN `customers`"))
	assert.Equal(t, "Customer/Country,Id", plan.OrderKey)
}

func TestCompile_JoinBudget(t *testing.T) {
	c := newCompiler(t, dialect.MySQL(), WithLimits(Limits{MaxJoins: 1, DefaultPageSize: 10}))
	_, err := c.Compile(context.Background(), &ast.Request{
		EntitySet: "Orders",
		Filter: ast.Binary(ast.OpAnd,
			ast.Binary(ast.OpEq, ast.Prop("Customer/Name"), ast.Const("Ada")),
			ast.Binary(ast.OpEq, ast.Prop("Product/Name"), ast.Const("Rake")),
		),
	})
	assert.True(t, errors.Is(err, planerr.ErrLimitExceeded))
}
