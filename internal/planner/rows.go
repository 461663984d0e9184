package planner

import (
	"fmt"
	"strings"

	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/schema"
	"odata-sql/internal/translate"
)

// EntityRow reads the properties of an entity reached from a block's root through base,
// a path of single-valued navigations that the block has joined.
type EntityRow struct {
	blk    *queryBlock
	base   JoinPath
	entity *schema.EntityType
	// nullable is set when the row is reached through an outer join.
	nullable bool
}

// Entity implements translate.Row.
func (r *EntityRow) Entity() *schema.EntityType {
	return r.entity
}

// Property implements translate.Row. Computed aliases of the block shadow nothing: a
// compute alias may not reuse a declared property name.
func (r *EntityRow) Property(path []string) (expr.Expr, error) {
	if len(path) == 0 {
		return nil, planerr.PropertyNotFound("", r.base.Key())
	}
	if len(r.base) == 0 && len(path) == 1 {
		if e, ok := r.blk.computed[path[0]]; ok {
			return e, nil
		}
	}

	alias, entity, nullable := r.blk.alias, r.entity, r.nullable
	if len(r.base) > 0 {
		step, ok := r.blk.joins.Lookup(r.base)
		if !ok {
			return nil, &translate.NeedsJoinError{Path: r.base, Scope: r.blk}
		}
		alias = step.Alias
	}

	for i, name := range path[:len(path)-1] {
		nav, ok := entity.Navigation(name)
		if !ok {
			return nil, planerr.PropertyNotFound(name, strings.Join(path[:i+1], "/"))
		}
		if nav.Collection {
			return nil, planerr.UnsupportedTransformation("property-access", fmt.Sprintf("collection navigation %s has no single value", name))
		}
		if !nav.HasConstraint() {
			return nil, planerr.JoinPathNotFound(r.base.Append(path[:i+1]...).Key(), fmt.Sprintf("navigation %s.%s has no referential constraint", entity.Name, name))
		}
		full := r.base.Append(path[:i+1]...)
		step, ok := r.blk.joins.Lookup(full)
		if !ok {
			return nil, &translate.NeedsJoinError{Path: full, Scope: r.blk}
		}
		alias, entity, nullable = step.Alias, step.Target, true
	}

	name := path[len(path)-1]
	prop, ok := entity.Property(name)
	if !ok {
		return nil, planerr.PropertyNotFound(name, r.base.Append(path...).Key())
	}
	t := prop.Type
	if nullable {
		t = t.WithNullable(true)
	}
	return expr.Column{Table: alias, Name: prop.Column, T: t}, nil
}

// child returns the row of the entity reached through the single-valued navigation nav.
func (r *EntityRow) child(nav *schema.Navigation, target *schema.EntityType) *EntityRow {
	return &EntityRow{blk: r.blk, base: r.base.Append(nav.Name), entity: target, nullable: true}
}

// ShapeRow reads the fields of a grouped shape through the alias resolver.
type ShapeRow struct {
	blk *queryBlock
}

// Entity implements translate.Row; grouped rows have no entity type.
func (r *ShapeRow) Entity() *schema.EntityType {
	return nil
}

// Property implements translate.Row. A path such as Customer/Country names the group key
// declared with the same path.
func (r *ShapeRow) Property(path []string) (expr.Expr, error) {
	name := strings.Join(path, "/")
	if len(path) == 1 {
		if e, ok := r.blk.computed[name]; ok {
			return e, nil
		}
	}
	if r.blk.apply == nil || r.blk.apply.Shape.Matches(name) == 0 {
		return nil, planerr.PropertyNotFound(name, "")
	}
	_, col, err := r.blk.apply.Resolve(name, r.blk.alias)
	if err != nil {
		return nil, err
	}
	return col, nil
}
