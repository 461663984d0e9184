package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"odata-sql/internal/ast"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/rowshape"
	"odata-sql/internal/schema"
	"odata-sql/internal/sqltype"
)

// pendingCollection is a collection expansion waiting for its owner block to be
// finished. It is joined by a wrapper around the owner so that pagination of the owner
// counts owner rows.
type pendingCollection struct {
	node   *MaterializationNode
	item   ast.ExpandItem
	nav    *schema.Navigation
	target *schema.EntityType
	// ownerCols are the owner block columns holding the values the child rows link to.
	ownerCols  []int
	ownerTypes []sqltype.Type
	depth      int
}

func selectsAll(se *ast.SelectExpand) bool {
	if se == nil || len(se.Select) == 0 {
		return true
	}
	for _, name := range se.Select {
		if name == "*" {
			return true
		}
	}
	return false
}

// selectEntity plans the fields and expansions of an entity row into node. Single-valued
// expansions are joined in blk; collection expansions are returned for wrapping.
func (c *compilation) selectEntity(blk *queryBlock, node *MaterializationNode, row *EntityRow, se *ast.SelectExpand, depth int) ([]pendingCollection, error) {
	entity := row.entity
	addProperty := func(name string) error {
		e, err := blk.property(row, name)
		if err != nil {
			return err
		}
		_, err = node.addField(blk, rowshape.Field{
			Name:     name,
			Type:     e.Type(),
			Expr:     e,
			Identity: row.base.Append(name).Key(),
		})
		return err
	}
	addComputed := func(name string) error {
		e := blk.computed[name]
		_, err := node.addField(blk, rowshape.Field{Name: name, Type: e.Type(), Expr: e, Identity: name})
		return err
	}

	rootRow := len(row.base) == 0
	if selectsAll(se) {
		for _, prop := range entity.Properties {
			if err := addProperty(prop.Name); err != nil {
				return nil, err
			}
		}
		if rootRow {
			for _, name := range blk.computeOrder {
				if err := addComputed(name); err != nil {
					return nil, err
				}
			}
		}
	} else {
		for _, name := range se.Select {
			if _, ok := blk.computed[name]; ok && rootRow {
				if err := addComputed(name); err != nil {
					return nil, err
				}
				continue
			}
			if _, ok := entity.Property(name); ok {
				if err := addProperty(name); err != nil {
					return nil, err
				}
				continue
			}
			if _, ok := entity.Navigation(name); ok {
				return nil, planerr.UnsupportedTransformation("select", fmt.Sprintf("navigation %s must be expanded, not selected", name))
			}
			return nil, planerr.PropertyNotFound(name, row.base.Append(name).Key())
		}
	}

	for _, key := range entity.KeyProperties() {
		e, err := blk.property(row, key.Name)
		if err != nil {
			return nil, err
		}
		identity := row.base.Append(key.Name).Key()
		reader, err := node.addField(blk, rowshape.Field{
			Name:           hiddenName(identity),
			Type:           e.Type(),
			PaginationOnly: true,
			Expr:           e,
			Identity:       identity,
		})
		if err != nil {
			return nil, err
		}
		node.Keys = append(node.Keys, reader)
	}

	if se == nil {
		return nil, nil
	}
	var pending []pendingCollection
	for _, item := range se.Expand {
		nav, ok := entity.Navigation(item.Navigation)
		if !ok {
			return nil, planerr.PropertyNotFound(item.Navigation, row.base.Append(item.Navigation).Key())
		}
		if c.limits.MaxExpandDepth > 0 && depth+1 > c.limits.MaxExpandDepth {
			return nil, planerr.LimitExceeded(fmt.Sprintf("query exceeds maximum expand depth of %d", c.limits.MaxExpandDepth))
		}
		target, ok := c.model.EntityType(nav.Target)
		if !ok {
			return nil, planerr.PropertyNotFound(nav.Target, row.base.Append(nav.Name).Key())
		}

		if !nav.Collection {
			if item.Filter != nil || len(item.OrderBy) > 0 || item.Top != nil || item.Count {
				return nil, planerr.UnsupportedTransformation("expand", fmt.Sprintf("single-valued navigation %s takes no filter, orderby, top or count", nav.Name))
			}
			step, err := blk.joins.Build(row.base.Append(nav.Name))
			if err != nil {
				return nil, err
			}
			child := newNode(nav.Name, target.Name, false, step.Alias)
			nested, err := c.selectEntity(blk, child, row.child(nav, target), item.Nested, depth+1)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
			pending = append(pending, nested...)
			continue
		}

		if !nav.HasConstraint() {
			return nil, planerr.JoinPathNotFound(row.base.Append(nav.Name).Key(), fmt.Sprintf("navigation %s.%s has no referential constraint", entity.Name, nav.Name))
		}
		p := pendingCollection{
			node:   newNode(nav.Name, target.Name, true, ""),
			item:   item,
			nav:    nav,
			target: target,
			depth:  depth + 1,
		}
		for _, local := range ownerProperties(nav) {
			e, err := blk.property(row, local)
			if err != nil {
				return nil, err
			}
			p.ownerCols = append(p.ownerCols, blk.project(e))
			p.ownerTypes = append(p.ownerTypes, e.Type())
		}
		p.node.Pagination.Top = item.Top
		p.node.Pagination.Count = item.Count
		node.Children = append(node.Children, p.node)
		pending = append(pending, p)
	}
	return pending, nil
}

// ownerProperties lists the owner properties a collection navigation links through.
func ownerProperties(nav *schema.Navigation) []string {
	var names []string
	if nav.Junction != nil {
		for _, k := range nav.Junction.Local {
			names = append(names, k.Property)
		}
		return names
	}
	for _, pair := range nav.Constraint {
		names = append(names, pair.Local)
	}
	return names
}

// selectShape plans the output of a grouped row: group keys, aggregates and computed
// aliases.
func (c *compilation) selectShape(blk *queryBlock, node *MaterializationNode, se *ast.SelectExpand) error {
	if se != nil && len(se.Expand) > 0 {
		return planerr.UnsupportedTransformation("expand", "navigation cannot be expanded after grouping")
	}
	row := blk.Row()
	var names []string
	if selectsAll(se) {
		for _, f := range blk.apply.Shape.Fields {
			names = append(names, f.Name)
		}
		names = append(names, blk.computeOrder...)
	} else {
		names = se.Select
	}
	for _, name := range names {
		e, err := row.Property([]string{name})
		if err != nil {
			return err
		}
		field := rowshape.Field{Name: name, Type: e.Type(), Expr: e, Identity: name}
		if desc, col, err := blk.apply.Resolve(name, blk.alias); err == nil && blk.computed[name] == nil {
			field.Name = blk.apply.Shape.Fields[desc.Position].Name
			field.GroupKey = desc.GroupKey
			field.Identity = field.Name
			field.Expr = col
		}
		if _, err := node.addField(blk, field); err != nil {
			return err
		}
	}
	for _, desc := range blk.apply.Descriptors {
		if !desc.GroupKey {
			continue
		}
		f := blk.apply.Shape.Fields[desc.Position]
		reader, err := node.addField(blk, rowshape.Field{
			Name:           hiddenName(f.Name),
			Type:           f.Type,
			GroupKey:       true,
			PaginationOnly: true,
			Expr:           f.Expr,
			Identity:       f.Name,
		})
		if err != nil {
			return err
		}
		node.Keys = append(node.Keys, reader)
	}
	return nil
}

// planCollection builds the block of one collection expansion. The block projects the
// child fields, the columns linking each child to its owner, and its own nested
// collections. It returns the block SQL, its width, the link columns and the ordering of
// its rows.
func (c *compilation) planCollection(p pendingCollection) (sq.SelectBuilder, int, []expr.Column, []orderCol, error) {
	blk := c.tableBlock(p.target, c.nextAlias("t"))
	p.node.Shape.Alias = blk.alias

	var links []expr.Expr
	if p.nav.Junction != nil {
		junctionAlias := c.nextAlias("t")
		var on []expr.Expr
		for _, k := range p.nav.Junction.Remote {
			col, err := propertyColumn(blk.alias, p.target, k.Property)
			if err != nil {
				return sq.SelectBuilder{}, 0, nil, nil, err
			}
			cond, err := keyEquals(p.nav.Name, col, expr.Column{Table: junctionAlias, Name: k.Column, T: col.T})
			if err != nil {
				return sq.SelectBuilder{}, 0, nil, nil, err
			}
			on = append(on, cond)
		}
		clause, err := c.joinClause(p.nav.Junction.Table, junctionAlias, expr.And(on...))
		if err != nil {
			return sq.SelectBuilder{}, 0, nil, nil, err
		}
		if err := c.countJoins(1); err != nil {
			return sq.SelectBuilder{}, 0, nil, nil, err
		}
		blk.inner = append(blk.inner, clause)
		for i, k := range p.nav.Junction.Local {
			links = append(links, expr.Column{Table: junctionAlias, Name: k.Column, T: p.ownerTypes[i]})
		}
	} else {
		for _, pair := range p.nav.Constraint {
			col, err := propertyColumn(blk.alias, p.target, pair.Remote)
			if err != nil {
				return sq.SelectBuilder{}, 0, nil, nil, err
			}
			links = append(links, col)
		}
	}

	if p.item.Filter != nil {
		if err := blk.filter(p.item.Filter); err != nil {
			return sq.SelectBuilder{}, 0, nil, nil, err
		}
	}
	nested, err := c.selectEntity(blk, p.node, blk.Row().(*EntityRow), p.item.Nested, p.depth)
	if err != nil {
		return sq.SelectBuilder{}, 0, nil, nil, err
	}

	linkCols := make([]expr.Column, len(links))
	for i, e := range links {
		linkCols[i] = expr.Column{Name: columnName(blk.project(e)), T: e.Type()}
	}

	var order []orderCol
	seen := make(map[string]bool)
	addOrder := func(e expr.Expr, desc bool) {
		fp := expr.Fingerprint(c.dialect, e)
		if seen[fp] {
			return
		}
		seen[fp] = true
		order = append(order, orderCol{idx: blk.project(e), desc: desc, e: e})
	}
	for _, item := range p.item.OrderBy {
		e, err := blk.translate(item.Expression, blk.Row())
		if err != nil {
			return sq.SelectBuilder{}, 0, nil, nil, err
		}
		addOrder(e, item.Descending)
	}
	for _, key := range p.node.Keys {
		addOrder(key.Field.Expr, false)
	}

	sb, err := blk.selectBuilder()
	if err != nil {
		return sq.SelectBuilder{}, 0, nil, nil, err
	}
	sb, width, order, err := c.wrap(sb, len(blk.columns), order, nested)
	if err != nil {
		return sq.SelectBuilder{}, 0, nil, nil, err
	}
	return sb, width, linkCols, order, nil
}

// wrap LEFT JOINs the pending collections of a finished block. The wrapper reads the
// block under a new alias, keeps its columns in place and appends each child's columns,
// shifting the child's readers accordingly. Rows are ordered by the block's ordering,
// then by each child's ordering.
func (c *compilation) wrap(inner sq.SelectBuilder, width int, order []orderCol, pending []pendingCollection) (sq.SelectBuilder, int, []orderCol, error) {
	if len(pending) == 0 {
		return inner, width, order, nil
	}
	outer := c.derivedBlock(inner, c.nextAlias("p"), nil)
	for i := 0; i < width; i++ {
		outer.projectAs(columnName(i), expr.Column{Table: outer.alias, Name: columnName(i)})
	}
	var terms []orderExpr
	for _, oc := range order {
		terms = append(terms, orderExpr{e: relocate(oc.e, outer.alias, oc.idx, false), desc: oc.desc})
	}

	wrapped := append([]orderCol{}, order...)
	for _, p := range pending {
		childSB, childWidth, linkCols, childOrder, err := c.planCollection(p)
		if err != nil {
			return sq.SelectBuilder{}, 0, nil, err
		}
		childAlias := c.nextAlias("e")
		on := make([]expr.Expr, len(linkCols))
		for i, link := range linkCols {
			ownerCol := expr.Column{Table: outer.alias, Name: columnName(p.ownerCols[i]), T: p.ownerTypes[i]}
			link.Table = childAlias
			if on[i], err = keyEquals(p.nav.Name, ownerCol, link); err != nil {
				return sq.SelectBuilder{}, 0, nil, err
			}
		}
		childSQL, childArgs, err := childSB.ToSql()
		if err != nil {
			return sq.SelectBuilder{}, 0, nil, err
		}
		frag, err := expr.Render(c.dialect, expr.And(on...))
		if err != nil {
			return sq.SelectBuilder{}, 0, nil, err
		}
		if err := c.countJoins(1); err != nil {
			return sq.SelectBuilder{}, 0, nil, err
		}
		outer.expansions = append(outer.expansions, joinClause{
			SQL:  "(" + childSQL + ") AS " + c.dialect.QuoteIdentifier(childAlias) + " ON " + frag.SQL,
			Args: append(childArgs, frag.Args...),
		})

		offset := len(outer.columns)
		for j := 0; j < childWidth; j++ {
			outer.projectAs(columnName(offset+j), expr.Column{Table: childAlias, Name: columnName(j)})
		}
		p.node.shift(offset)
		for _, oc := range childOrder {
			terms = append(terms, orderExpr{e: relocate(oc.e, childAlias, oc.idx, true), desc: oc.desc})
			wrapped = append(wrapped, orderCol{idx: offset + oc.idx, desc: oc.desc, e: oc.e})
		}
	}

	sb, err := outer.selectBuilder()
	if err != nil {
		return sq.SelectBuilder{}, 0, nil, err
	}
	sb, err = c.applyOrder(sb, terms)
	if err != nil {
		return sq.SelectBuilder{}, 0, nil, err
	}
	return sb, len(outer.columns), wrapped, nil
}

// relocate reads an ordering value from column idx of a derived table. Values read
// through an outer join may be NULL.
func relocate(e expr.Expr, alias string, idx int, outerJoined bool) expr.Expr {
	t := e.Type()
	if outerJoined {
		t = t.WithNullable(true)
	}
	return expr.Column{Table: alias, Name: columnName(idx), T: t}
}
