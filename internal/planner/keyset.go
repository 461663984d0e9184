package planner

import (
	"odata-sql/internal/cursor"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/sqltype"
)

// KeysetField is one term of a unique ordering.
type KeysetField struct {
	Expr       expr.Expr
	Descending bool
}

// KeysetCursor holds the ordering values of the last row of the previous page, aligned
// with the ordering. nil is NULL.
type KeysetCursor []any

// BuildKeysetPredicate returns the predicate selecting the rows strictly after cursor
// under ordering. nullsSortHigh reports whether NULL sorts after every value in
// ascending order.
//
// For fields f1..fn the predicate is the disjunction over i of
// (f1 = v1 AND ... AND f(i-1) = v(i-1) AND fi after vi).
func BuildKeysetPredicate(ordering []KeysetField, cur KeysetCursor, nullsSortHigh bool) (expr.Expr, error) {
	if len(ordering) == 0 {
		return nil, planerr.EmptyOrdering()
	}
	if len(cur) != len(ordering) {
		return nil, planerr.CursorArity(len(cur), len(ordering))
	}

	var disjuncts []expr.Expr
	for i, f := range ordering {
		after := keysetAfter(f, cur[i], nullsSortHigh)
		if after == nil {
			continue
		}
		terms := make([]expr.Expr, 0, i+1)
		for j := 0; j < i; j++ {
			terms = append(terms, keysetEqual(ordering[j], cur[j]))
		}
		terms = append(terms, after)
		disjuncts = append(disjuncts, expr.And(terms...))
	}
	if len(disjuncts) == 0 {
		return expr.Literal{Value: false, T: sqltype.Boolean}, nil
	}
	return expr.Or(disjuncts...), nil
}

func keysetEqual(f KeysetField, v any) expr.Expr {
	if v == nil {
		return expr.IsNull{Operand: f.Expr}
	}
	return expr.Compare(expr.OpEq, f.Expr, keysetLiteral(f, v))
}

// keysetAfter returns the strict "after v" test for f, or nil when no row can follow a
// NULL value on this field.
func keysetAfter(f KeysetField, v any, nullsSortHigh bool) expr.Expr {
	nullsLast := nullsSortHigh != f.Descending
	if v == nil {
		if nullsLast {
			return nil
		}
		return expr.IsNull{Operand: f.Expr, Negate: true}
	}

	op := expr.OpGt
	if f.Descending {
		op = expr.OpLt
	}
	var cmp expr.Expr
	if f.Expr.Type().Kind == sqltype.KindString {
		zero := expr.Literal{Value: int64(0), T: sqltype.Of(sqltype.KindInt32)}
		cmp = expr.Compare(op, expr.StrCompare{Left: f.Expr, Right: keysetLiteral(f, v)}, zero)
	} else {
		cmp = expr.Compare(op, f.Expr, keysetLiteral(f, v))
	}
	if f.Expr.Type().Nullable && nullsLast {
		return expr.Or(cmp, expr.IsNull{Operand: f.Expr})
	}
	return cmp
}

func keysetLiteral(f KeysetField, v any) expr.Literal {
	return expr.Literal{Value: v, T: f.Expr.Type().NonNull()}
}

// keysetFromToken decodes a skip token issued for the same entity set and ordering and
// returns the predicate for the next page.
func (c *compilation) keysetFromToken(raw, entitySet string, terms []OrderingTerm, exprs []orderExpr) (expr.Expr, error) {
	if len(terms) == 0 {
		return nil, planerr.EmptyOrdering()
	}
	token, err := cursor.Decode(raw)
	if err != nil {
		return nil, planerr.InvalidSkipToken(err)
	}
	if len(token.Values) != len(terms) {
		return nil, planerr.CursorArity(len(token.Values), len(terms))
	}
	if err := token.Validate(entitySet, OrderKey(terms), directions(terms)); err != nil {
		return nil, planerr.InvalidSkipToken(err)
	}
	types := make([]sqltype.Type, len(terms))
	for i, t := range terms {
		types[i] = t.Type
	}
	values, err := cursor.ParseValues(token.Values, types)
	if err != nil {
		return nil, planerr.InvalidSkipToken(err)
	}

	fields := make([]KeysetField, len(exprs))
	for i, e := range exprs {
		fields[i] = KeysetField{Expr: e.e, Descending: e.desc}
	}
	return BuildKeysetPredicate(fields, KeysetCursor(values), c.dialect.NullsSortHigh)
}
