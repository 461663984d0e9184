package planner

import (
	"fmt"
	"strings"

	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/schema"
	"odata-sql/internal/translate"
)

// JoinPath is a chain of navigation property names starting at a block's root row.
type JoinPath []string

// Key returns the registry key of the path.
func (p JoinPath) Key() string {
	return strings.Join(p, "/")
}

// Equal reports whether both paths name the same navigations in the same order.
func (p JoinPath) Equal(other JoinPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Append returns a new path extended by names.
func (p JoinPath) Append(names ...string) JoinPath {
	out := make(JoinPath, 0, len(p)+len(names))
	out = append(out, p...)
	return append(out, names...)
}

// JoinStep is one LEFT JOIN built for a navigation path.
type JoinStep struct {
	Path       JoinPath
	Alias      string
	Navigation *schema.Navigation
	Target     *schema.EntityType
	clauses    []joinClause
}

type joinClause struct {
	SQL  string
	Args []interface{}
}

// JoinPlanner builds LEFT JOINs for single-valued navigation paths of one query block.
// Every distinct path is joined at most once; later requests reuse the step.
type JoinPlanner struct {
	comp     *compilation
	alias    string
	entity   *schema.EntityType
	steps    []*JoinStep
	registry map[string]*JoinStep
	// clauses counts the JOIN clauses of all steps.
	clauses int
}

func newJoinPlanner(comp *compilation, alias string, entity *schema.EntityType) *JoinPlanner {
	return &JoinPlanner{
		comp:     comp,
		alias:    alias,
		entity:   entity,
		registry: make(map[string]*JoinStep),
	}
}

// Lookup returns the step already built for path.
func (jp *JoinPlanner) Lookup(path JoinPath) (*JoinStep, bool) {
	step, ok := jp.registry[path.Key()]
	return step, ok
}

// Steps returns the built steps in join order.
func (jp *JoinPlanner) Steps() []*JoinStep {
	return jp.steps
}

// Build returns the join for path, building missing prefixes first.
func (jp *JoinPlanner) Build(path JoinPath) (*JoinStep, error) {
	if len(path) == 0 {
		return nil, planerr.JoinPathNotFound("", "empty navigation path")
	}
	if step, ok := jp.Lookup(path); ok {
		return step, nil
	}
	if jp.entity == nil {
		return nil, planerr.UnsupportedTransformation("navigation-access", "navigation is not available after grouping")
	}

	ownerAlias, owner := jp.alias, jp.entity
	if len(path) > 1 {
		parent, err := jp.Build(path[:len(path)-1])
		if err != nil {
			return nil, err
		}
		ownerAlias, owner = parent.Alias, parent.Target
	}

	name := path[len(path)-1]
	nav, ok := owner.Navigation(name)
	if !ok {
		return nil, planerr.PropertyNotFound(name, path.Key())
	}
	if nav.Collection {
		return nil, planerr.UnsupportedTransformation("navigation-access", fmt.Sprintf("collection navigation %s cannot be joined into a row", name))
	}
	if !nav.HasConstraint() {
		return nil, planerr.JoinPathNotFound(path.Key(), fmt.Sprintf("navigation %s.%s has no referential constraint", owner.Name, name))
	}
	target, ok := jp.comp.model.EntityType(nav.Target)
	if !ok {
		return nil, planerr.PropertyNotFound(nav.Target, path.Key())
	}

	step := &JoinStep{
		Path:       append(JoinPath{}, path...),
		Alias:      jp.comp.nextAlias("j"),
		Navigation: nav,
		Target:     target,
	}
	clauses, err := jp.comp.navigationJoin(ownerAlias, owner, nav, step.Alias, target)
	if err != nil {
		return nil, err
	}
	if err := jp.comp.countJoins(len(clauses)); err != nil {
		return nil, err
	}
	step.clauses = clauses
	jp.clauses += len(clauses)
	jp.steps = append(jp.steps, step)
	jp.registry[step.Path.Key()] = step
	return step, nil
}

// navigationJoin renders the ON clauses linking owner rows to target rows. A junction
// table is joined first for many-to-many navigations.
func (c *compilation) navigationJoin(ownerAlias string, owner *schema.EntityType, nav *schema.Navigation, alias string, target *schema.EntityType) ([]joinClause, error) {
	if nav.Junction != nil {
		junctionAlias := c.nextAlias("j")
		var ownerSide, targetSide []expr.Expr
		for _, k := range nav.Junction.Local {
			ownerCol, err := propertyColumn(ownerAlias, owner, k.Property)
			if err != nil {
				return nil, err
			}
			cond, err := keyEquals(nav.Name, expr.Column{Table: junctionAlias, Name: k.Column, T: ownerCol.T}, ownerCol)
			if err != nil {
				return nil, err
			}
			ownerSide = append(ownerSide, cond)
		}
		for _, k := range nav.Junction.Remote {
			targetCol, err := propertyColumn(alias, target, k.Property)
			if err != nil {
				return nil, err
			}
			cond, err := keyEquals(nav.Name, targetCol, expr.Column{Table: junctionAlias, Name: k.Column, T: targetCol.T})
			if err != nil {
				return nil, err
			}
			targetSide = append(targetSide, cond)
		}
		first, err := c.joinClause(nav.Junction.Table, junctionAlias, expr.And(ownerSide...))
		if err != nil {
			return nil, err
		}
		second, err := c.joinClause(target.Table, alias, expr.And(targetSide...))
		if err != nil {
			return nil, err
		}
		return []joinClause{first, second}, nil
	}

	conds := make([]expr.Expr, 0, len(nav.Constraint))
	for _, pair := range nav.Constraint {
		local, err := propertyColumn(ownerAlias, owner, pair.Local)
		if err != nil {
			return nil, err
		}
		remote, err := propertyColumn(alias, target, pair.Remote)
		if err != nil {
			return nil, err
		}
		cond, err := keyEquals(nav.Name, local, remote)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	clause, err := c.joinClause(target.Table, alias, expr.And(conds...))
	if err != nil {
		return nil, err
	}
	return []joinClause{clause}, nil
}

func (c *compilation) joinClause(table, alias string, on expr.Expr) (joinClause, error) {
	frag, err := expr.Render(c.dialect, on)
	if err != nil {
		return joinClause{}, err
	}
	return joinClause{SQL: c.dialect.TableAs(table, alias) + " ON " + frag.SQL, Args: frag.Args}, nil
}

// keyEquals compares two key columns, casting when their kinds differ.
// keyEquals compares two key columns of a navigation. Keys whose types have no common
// type cannot be joined.
func keyEquals(path string, left, right expr.Expr) (expr.Expr, error) {
	l, r, err := translate.Coerce(left, right)
	if err != nil {
		return nil, planerr.JoinPathNotFound(path, fmt.Sprintf("mismatched key types %s and %s", left.Type(), right.Type()))
	}
	return expr.Compare(expr.OpEq, l, r), nil
}

func propertyColumn(alias string, entity *schema.EntityType, name string) (expr.Column, error) {
	prop, ok := entity.Property(name)
	if !ok {
		return expr.Column{}, planerr.PropertyNotFound(name, entity.Name)
	}
	return expr.Column{Table: alias, Name: prop.Column, T: prop.Type}, nil
}
