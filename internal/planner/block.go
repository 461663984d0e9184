package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"odata-sql/internal/ast"
	"odata-sql/internal/dialect"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/schema"
	"odata-sql/internal/translate"
)

// compilation holds the state of one Compile call. Nothing in it outlives the call.
type compilation struct {
	model    schema.Model
	dialect  *dialect.Dialect
	tr       *translate.Translator
	limits   Limits
	aliasSeq int
	joins    int
}

func (c *compilation) nextAlias(prefix string) string {
	c.aliasSeq++
	return fmt.Sprintf("%s%d", prefix, c.aliasSeq)
}

func (c *compilation) countJoins(n int) error {
	c.joins += n
	if c.limits.MaxJoins > 0 && c.joins > c.limits.MaxJoins {
		return planerr.LimitExceeded(fmt.Sprintf("query exceeds maximum join count of %d", c.limits.MaxJoins))
	}
	return nil
}

// Open implements translate.Subqueries: quantifier and count sub-selects are blocks of
// their own with a private join registry.
func (c *compilation) Open(target *schema.EntityType) (translate.Subquery, error) {
	return c.tableBlock(target, c.nextAlias("q")), nil
}

// projection is one column of a block's SELECT list.
type projection struct {
	name string
	e    expr.Expr
}

// queryBlock is one SELECT: a base table or derived table, its joins, its predicates
// and its projection.
type queryBlock struct {
	comp    *compilation
	alias   string
	table   string
	derived *sq.SelectBuilder
	// entity is nil once the block reads a grouped shape.
	entity *schema.EntityType
	apply  *ApplyShape

	inner []joinClause
	joins *JoinPlanner
	// expansions are derived collection blocks LEFT JOINed by a wrapper.
	expansions []joinClause
	where      []expr.Expr

	computed     map[string]expr.Expr
	computeOrder []string

	columns      []projection
	fingerprints map[string]int
}

func (c *compilation) tableBlock(entity *schema.EntityType, alias string) *queryBlock {
	return &queryBlock{
		comp:         c,
		alias:        alias,
		table:        entity.Table,
		entity:       entity,
		joins:        newJoinPlanner(c, alias, entity),
		computed:     make(map[string]expr.Expr),
		fingerprints: make(map[string]int),
	}
}

func (c *compilation) derivedBlock(from sq.SelectBuilder, alias string, apply *ApplyShape) *queryBlock {
	return &queryBlock{
		comp:         c,
		alias:        alias,
		derived:      &from,
		apply:        apply,
		joins:        newJoinPlanner(c, alias, nil),
		computed:     make(map[string]expr.Expr),
		fingerprints: make(map[string]int),
	}
}

// Row returns the block's root row.
func (b *queryBlock) Row() translate.Row {
	if b.entity != nil {
		return &EntityRow{blk: b, entity: b.entity}
	}
	return &ShapeRow{blk: b}
}

// Join implements translate.Joiner.
func (b *queryBlock) Join(path []string) error {
	_, err := b.joins.Build(JoinPath(path))
	return err
}

// Checkpoint implements translate.Checkpointer. Joins of sub-selects opened by a
// retried attempt are never rendered, so they stop counting against MaxJoins; joins
// this block registered in the meantime are kept.
func (b *queryBlock) Checkpoint() func() {
	joins, own := b.comp.joins, b.joins.clauses
	return func() {
		b.comp.joins = joins + (b.joins.clauses - own)
	}
}

func (b *queryBlock) env(row translate.Row) translate.Env {
	return translate.NewEnv(row, b.comp)
}

// translate converts node against row, joining navigations this block owns on demand.
func (b *queryBlock) translate(node ast.Node, row translate.Row) (expr.Expr, error) {
	env := b.env(row)
	return translate.WithJoins(b, func() (expr.Expr, error) {
		return b.comp.tr.Translate(node, env)
	})
}

func (b *queryBlock) predicate(node ast.Node, row translate.Row) (expr.Expr, error) {
	env := b.env(row)
	return translate.WithJoins(b, func() (expr.Expr, error) {
		return b.comp.tr.TranslatePredicate(node, env)
	})
}

// property reads a property path of row, joining navigations on demand.
func (b *queryBlock) property(row translate.Row, path ...string) (expr.Expr, error) {
	return translate.WithJoins(b, func() (expr.Expr, error) {
		return row.Property(path)
	})
}

func (b *queryBlock) filter(node ast.Node) error {
	pred, err := b.predicate(node, b.Row())
	if err != nil {
		return err
	}
	b.where = append(b.where, pred)
	return nil
}

// project adds e to the SELECT list unless an identical expression is already projected
// and returns its position.
func (b *queryBlock) project(e expr.Expr) int {
	fp := expr.Fingerprint(b.comp.dialect, e)
	if idx, ok := b.fingerprints[fp]; ok {
		return idx
	}
	idx := len(b.columns)
	b.columns = append(b.columns, projection{name: columnName(idx), e: e})
	b.fingerprints[fp] = idx
	return idx
}

// projectAs adds e under a fixed column name.
func (b *queryBlock) projectAs(name string, e expr.Expr) int {
	b.columns = append(b.columns, projection{name: name, e: e})
	return len(b.columns) - 1
}

func columnName(idx int) string {
	return fmt.Sprintf("c%d", idx)
}

func (b *queryBlock) selectList() ([]sq.Sqlizer, error) {
	if len(b.columns) == 0 {
		return nil, fmt.Errorf("block %s projects no columns", b.alias)
	}
	cols := make([]sq.Sqlizer, len(b.columns))
	for i, col := range b.columns {
		frag, err := expr.Render(b.comp.dialect, col.e)
		if err != nil {
			return nil, err
		}
		cols[i] = sq.Expr(frag.SQL+" AS "+b.comp.dialect.QuoteIdentifier(col.name), frag.Args...)
	}
	return cols, nil
}

// build renders the block with the given select list and predicates.
func (b *queryBlock) build(columns []sq.Sqlizer, where []expr.Expr) sq.SelectBuilder {
	sb := sq.Select()
	for _, col := range columns {
		sb = sb.Column(col)
	}
	if b.derived != nil {
		sb = sb.FromSelect(*b.derived, b.comp.dialect.QuoteIdentifier(b.alias))
	} else {
		sb = sb.From(b.comp.dialect.TableAs(b.table, b.alias))
	}
	for _, clause := range b.inner {
		sb = sb.Join(clause.SQL, clause.Args...)
	}
	for _, step := range b.joins.Steps() {
		for _, clause := range step.clauses {
			sb = sb.LeftJoin(clause.SQL, clause.Args...)
		}
	}
	for _, clause := range b.expansions {
		sb = sb.LeftJoin(clause.SQL, clause.Args...)
	}
	if pred := expr.And(where...); pred != nil {
		sb = sb.Where(expr.SQL(b.comp.dialect, pred))
	}
	return sb
}

// selectBuilder renders the block with its projection and predicates.
func (b *queryBlock) selectBuilder() (sq.SelectBuilder, error) {
	cols, err := b.selectList()
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	return b.build(cols, b.where), nil
}

// Correlate implements translate.Subquery: it restricts the block to the elements of
// nav owned by the row whose key values are ownerKeys.
func (b *queryBlock) Correlate(nav *schema.Navigation, ownerKeys []expr.Expr) error {
	if nav.Junction != nil {
		junctionAlias := b.comp.nextAlias("q")
		var on []expr.Expr
		for _, k := range nav.Junction.Remote {
			col, err := propertyColumn(b.alias, b.entity, k.Property)
			if err != nil {
				return err
			}
			cond, err := keyEquals(nav.Name, col, expr.Column{Table: junctionAlias, Name: k.Column, T: col.T})
			if err != nil {
				return err
			}
			on = append(on, cond)
		}
		clause, err := b.comp.joinClause(nav.Junction.Table, junctionAlias, expr.And(on...))
		if err != nil {
			return err
		}
		b.inner = append(b.inner, clause)
		for i, k := range nav.Junction.Local {
			cond, err := keyEquals(nav.Name, expr.Column{Table: junctionAlias, Name: k.Column, T: ownerKeys[i].Type()}, ownerKeys[i])
			if err != nil {
				return err
			}
			b.where = append(b.where, cond)
		}
		return nil
	}
	for i, pair := range nav.Constraint {
		col, err := propertyColumn(b.alias, b.entity, pair.Remote)
		if err != nil {
			return err
		}
		cond, err := keyEquals(nav.Name, col, ownerKeys[i])
		if err != nil {
			return err
		}
		b.where = append(b.where, cond)
	}
	return nil
}

// Build implements translate.Subquery.
func (b *queryBlock) Build(projection string, where expr.Expr) sq.Sqlizer {
	preds := append(append([]expr.Expr{}, b.where...), where)
	return b.build([]sq.Sqlizer{sq.Expr(projection)}, preds)
}
