package translate

import (
	"fmt"

	"odata-sql/internal/ast"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/schema"
	"odata-sql/internal/sqltype"
)

// collectionSource resolves the navigation chain of a quantifier or count source to the
// row it starts from, the single-valued prefix and the final collection navigation.
func (t *Translator) collectionSource(source ast.Node, env Env) (Row, []string, *schema.Navigation, error) {
	segments, variable, ok := ast.Path(source)
	if !ok || len(segments) == 0 {
		return nil, nil, nil, planerr.UnsupportedTransformation(ast.KindOf(source), "source must be a navigation path")
	}
	row, err := t.rowFor(variable, env)
	if err != nil {
		return nil, nil, nil, err
	}
	entity := row.Entity()
	if entity == nil {
		return nil, nil, nil, planerr.UnsupportedTransformation(ast.KindOf(source), "navigation is not available after grouping")
	}

	for i, name := range segments {
		nav, ok := entity.Navigation(name)
		if !ok {
			return nil, nil, nil, planerr.PropertyNotFound(name, ast.PathString(segments[:i+1]))
		}
		last := i == len(segments)-1
		if last != nav.Collection {
			if last {
				return nil, nil, nil, planerr.UnsupportedTransformation(ast.KindOf(source), fmt.Sprintf("%s is not a collection", name))
			}
			return nil, nil, nil, planerr.UnsupportedTransformation(ast.KindOf(source), fmt.Sprintf("%s is a collection and cannot be traversed", name))
		}
		if !nav.HasConstraint() {
			return nil, nil, nil, planerr.JoinPathNotFound(ast.PathString(segments[:i+1]), "navigation has no referential constraint")
		}
		if last {
			return row, segments[:i], nav, nil
		}
		next, ok := t.model.EntityType(nav.Target)
		if !ok {
			return nil, nil, nil, planerr.PropertyNotFound(nav.Target, ast.PathString(segments[:i+1]))
		}
		entity = next
	}
	return nil, nil, nil, planerr.UnsupportedTransformation(ast.KindOf(source), "empty navigation path")
}

// openCorrelated opens a sub-select over the collection target, restricted to the
// elements related to the current owner row.
func (t *Translator) openCorrelated(source ast.Node, env Env) (Subquery, error) {
	if env.Subqueries == nil {
		return nil, planerr.UnsupportedTransformation(ast.KindOf(source), "sub-selects are not available in this scope")
	}
	row, prefix, nav, err := t.collectionSource(source, env)
	if err != nil {
		return nil, err
	}
	target, ok := t.model.EntityType(nav.Target)
	if !ok {
		return nil, planerr.PropertyNotFound(nav.Target, nav.Name)
	}

	var ownerProps []string
	if nav.Junction != nil {
		for _, k := range nav.Junction.Local {
			ownerProps = append(ownerProps, k.Property)
		}
	} else {
		for _, k := range nav.Constraint {
			ownerProps = append(ownerProps, k.Local)
		}
	}
	keys := make([]expr.Expr, len(ownerProps))
	for i, prop := range ownerProps {
		path := append(append([]string{}, prefix...), prop)
		if keys[i], err = row.Property(path); err != nil {
			return nil, err
		}
	}

	sub, err := env.Subqueries.Open(target)
	if err != nil {
		return nil, err
	}
	if err := sub.Correlate(nav, keys); err != nil {
		return nil, err
	}
	return sub, nil
}

func (t *Translator) translateQuantifier(n *ast.Quantifier, env Env) (expr.Expr, error) {
	sub, err := t.openCorrelated(n.Source, env)
	if err != nil {
		return nil, err
	}

	var pred expr.Expr
	if n.Predicate != nil {
		inner := env.With(n.Variable, sub.Row())
		pred, err = WithJoins(sub, func() (expr.Expr, error) {
			return t.TranslatePredicate(n.Predicate, inner)
		})
		if err != nil {
			return nil, err
		}
	}

	switch n.Kind {
	case ast.QuantifierAny:
		return expr.Subquery{Query: sub.Build("1", pred), Kind: expr.SubqueryExists, T: sqltype.Boolean}, nil
	case ast.QuantifierAll:
		if pred == nil {
			return expr.Literal{Value: true, T: sqltype.Boolean}, nil
		}
		// an element whose predicate is unknown does not satisfy all
		return expr.Subquery{
			Query: sub.Build("1", expr.Truth{Operand: pred, Negate: true}),
			Kind:  expr.SubqueryNotExists,
			T:     sqltype.Boolean,
		}, nil
	}
	return nil, planerr.UnsupportedTransformation(ast.KindOf(n), fmt.Sprintf("quantifier %q", n.Kind))
}

func (t *Translator) translateCount(n *ast.Count, env Env) (expr.Expr, error) {
	sub, err := t.openCorrelated(n.Source, env)
	if err != nil {
		return nil, err
	}
	return expr.Subquery{Query: sub.Build("COUNT(*)", nil), Kind: expr.SubqueryScalar, T: sqltype.Of(sqltype.KindInt64)}, nil
}
