package planner

import (
	"fmt"
	"hash/fnv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"odata-sql/internal/ast"
	"odata-sql/internal/expr"
	"odata-sql/internal/rowshape"
)

// orderExpr is one ORDER BY term of a block.
type orderExpr struct {
	e    expr.Expr
	desc bool
}

// orderCol is one ordering term read from an output column of a block.
type orderCol struct {
	idx  int
	desc bool
	e    expr.Expr
}

// planOrdering translates the requested ordering and makes it unique by appending the
// key properties of an entity row, or the group keys of a grouped row. Every term is
// projected so the writer can build the next skip token from the last row.
func (c *compilation) planOrdering(blk *queryBlock, node *MaterializationNode, items []ast.OrderByItem) ([]OrderingTerm, []orderExpr, error) {
	var (
		terms []OrderingTerm
		exprs []orderExpr
	)
	seen := make(map[string]bool)
	add := func(name string, e expr.Expr, desc bool) error {
		fp := expr.Fingerprint(c.dialect, e)
		if seen[fp] {
			return nil
		}
		seen[fp] = true
		reader, err := node.addField(blk, rowshape.Field{
			Name:           hiddenName(name),
			Type:           e.Type(),
			PaginationOnly: true,
			Expr:           e,
			Identity:       name,
		})
		if err != nil {
			return err
		}
		terms = append(terms, OrderingTerm{Name: name, Descending: desc, Type: e.Type(), Reader: reader})
		exprs = append(exprs, orderExpr{e: e, desc: desc})
		return nil
	}

	row := blk.Row()
	for _, item := range items {
		e, err := blk.translate(item.Expression, row)
		if err != nil {
			return nil, nil, err
		}
		if err := add(orderingName(c, item.Expression, e), e, item.Descending); err != nil {
			return nil, nil, err
		}
	}

	switch {
	case blk.entity != nil:
		for _, key := range blk.entity.KeyProperties() {
			col, err := propertyColumn(blk.alias, blk.entity, key.Name)
			if err != nil {
				return nil, nil, err
			}
			if err := add(key.Name, col, false); err != nil {
				return nil, nil, err
			}
		}
	case blk.apply != nil:
		for _, desc := range blk.apply.Descriptors {
			if !desc.GroupKey {
				continue
			}
			field := blk.apply.Shape.Fields[desc.Position]
			if err := add(field.Name, field.Expr, false); err != nil {
				return nil, nil, err
			}
		}
	}
	return terms, exprs, nil
}

// orderingName names a term after its property path, or after a hash of its SQL when
// the term is a computed expression.
func orderingName(c *compilation, node ast.Node, e expr.Expr) string {
	if segments, variable, ok := ast.Path(node); ok && len(segments) > 0 && (variable == "" || variable == ast.It) {
		return ast.PathString(segments)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(expr.Fingerprint(c.dialect, e)))
	return fmt.Sprintf("$%08x", h.Sum32())
}

// OrderKey joins the term names of an ordering; skip tokens carry it to detect a changed
// ordering.
func OrderKey(terms []OrderingTerm) string {
	names := make([]string, len(terms))
	for i, t := range terms {
		names[i] = t.Name
	}
	return strings.Join(names, ",")
}

func directions(terms []OrderingTerm) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Direction()
	}
	return out
}

// applyOrder renders ORDER BY terms. When the configured null ordering differs from the
// store's, nullable terms are preceded by an explicit null test.
func (c *compilation) applyOrder(sb sq.SelectBuilder, terms []orderExpr) (sq.SelectBuilder, error) {
	for _, t := range terms {
		frag, err := expr.Render(c.dialect, t.e)
		if err != nil {
			return sb, err
		}
		if c.dialect.ExplicitNullOrdering() && t.e.Type().Nullable {
			nullsLast := c.dialect.NullsSortHigh != t.desc
			sb = sb.OrderByClause("CASE WHEN "+frag.SQL+" IS NULL THEN 1 ELSE 0 END"+direction(!nullsLast), frag.Args...)
		}
		sb = sb.OrderByClause(frag.SQL+direction(t.desc), frag.Args...)
	}
	return sb, nil
}

func direction(desc bool) string {
	if desc {
		return " DESC"
	}
	return " ASC"
}
