// Package translate turns query AST nodes into typed store expressions. Translation is a
// pure function of the node and an explicit environment: the current row, the named
// range variables and a factory for correlated sub-selects.
package translate

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"odata-sql/internal/ast"
	"odata-sql/internal/dialect"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/schema"
	"odata-sql/internal/sqltype"
)

// Row is a row reference the translator reads properties from.
type Row interface {
	// Entity returns the entity type of the row, or nil when the row is a remapped shape
	// (after grouping) that only exposes named fields.
	Entity() *schema.EntityType
	// Property resolves a path of single-valued navigations ending in a property or alias.
	// A navigation that is not joined yet yields a *NeedsJoinError.
	Property(path []string) (expr.Expr, error)
}

// Joiner builds the join for a navigation path in the query block it owns.
type Joiner interface {
	Join(path []string) error
}

// NeedsJoinError signals that a single-valued navigation must be joined before the
// expression can be translated. Scope is the block that owns the navigation.
type NeedsJoinError struct {
	Path  []string
	Scope Joiner
}

func (e *NeedsJoinError) Error() string {
	return fmt.Sprintf("navigation %s requires a join", strings.Join(e.Path, "/"))
}

// Subquery is a correlated sub-select over the elements of a collection navigation.
type Subquery interface {
	Joiner
	// Row is the per-element row.
	Row() Row
	// Correlate restricts the elements to those related to the owner key values.
	Correlate(nav *schema.Navigation, ownerKeys []expr.Expr) error
	// Build renders the sub-select with the given projection and extra predicate.
	Build(projection string, where expr.Expr) sq.Sqlizer
}

// Subqueries opens sub-selects for quantifiers and counts.
type Subqueries interface {
	Open(target *schema.EntityType) (Subquery, error)
}

// Env is the translation environment. It is passed by value; With returns a copy.
type Env struct {
	// Row is the innermost row in scope.
	Row Row
	// Vars maps range variable names ("$it", lambda variables) to rows.
	Vars       map[string]Row
	Subqueries Subqueries
}

// NewEnv returns an environment whose innermost row is also "$it".
func NewEnv(row Row, subqueries Subqueries) Env {
	return Env{Row: row, Vars: map[string]Row{ast.It: row}, Subqueries: subqueries}
}

// With returns a copy of env where row is the innermost row, also bound to name.
func (env Env) With(name string, row Row) Env {
	vars := make(map[string]Row, len(env.Vars)+1)
	for k, v := range env.Vars {
		vars[k] = v
	}
	if name != "" {
		vars[name] = row
	}
	return Env{Row: row, Vars: vars, Subqueries: env.Subqueries}
}

// Checkpointer is implemented by scopes that keep bookkeeping for sub-selects opened
// while translating. Checkpoint captures it; the returned func discards whatever a
// retried attempt added.
type Checkpointer interface {
	Checkpoint() func()
}

// maxJoinRetries bounds the join-and-retry loop; each retry adds one join.
const maxJoinRetries = 32

// WithJoins runs translate, building the join for every NeedsJoinError owned by scope
// and retrying. Signals for other scopes propagate.
func WithJoins(scope Joiner, translate func() (expr.Expr, error)) (expr.Expr, error) {
	cp, _ := scope.(Checkpointer)
	for attempt := 0; ; attempt++ {
		var restore func()
		if cp != nil {
			restore = cp.Checkpoint()
		}
		e, err := translate()
		var needs *NeedsJoinError
		if err == nil || !errors.As(err, &needs) || needs.Scope != scope {
			return e, err
		}
		if restore != nil {
			restore()
		}
		if attempt >= maxJoinRetries {
			return nil, planerr.JoinPathNotFound(strings.Join(needs.Path, "/"), "join retry limit reached")
		}
		if err := scope.Join(needs.Path); err != nil {
			return nil, err
		}
	}
}

// Translator translates AST nodes for one schema and dialect. It holds no per-request
// state and is safe for concurrent use.
type Translator struct {
	model   schema.Model
	dialect *dialect.Dialect
}

// New returns a translator.
func New(model schema.Model, d *dialect.Dialect) *Translator {
	return &Translator{model: model, dialect: d}
}

// Translate converts node into an expression over the rows in env.
func (t *Translator) Translate(node ast.Node, env Env) (expr.Expr, error) {
	switch n := node.(type) {
	case *ast.Constant:
		return translateConstant(n)
	case *ast.PropertyAccess:
		return t.translateProperty(n, env)
	case *ast.BinaryOp:
		return t.translateBinary(n, env)
	case *ast.UnaryOp:
		return t.translateUnary(n, env)
	case *ast.FunctionCall:
		return t.translateCall(n, env)
	case *ast.Quantifier:
		return t.translateQuantifier(n, env)
	case *ast.Count:
		return t.translateCount(n, env)
	case *ast.NavigationAccess, *ast.RangeVariable:
		return nil, planerr.UnsupportedTransformation(ast.KindOf(node), "a navigation or range variable is not a value")
	case nil:
		return nil, planerr.UnsupportedTransformation("nil", "missing expression")
	}
	return nil, planerr.UnsupportedTransformation(ast.KindOf(node), fmt.Sprintf("%T", node))
}

// TranslatePredicate translates node and requires a boolean result.
func (t *Translator) TranslatePredicate(node ast.Node, env Env) (expr.Expr, error) {
	e, err := t.Translate(node, env)
	if err != nil {
		return nil, err
	}
	if e.Type().Kind != sqltype.KindBoolean {
		return nil, planerr.UnsupportedTransformation(ast.KindOf(node), fmt.Sprintf("predicate has type %s", e.Type()))
	}
	return e, nil
}

func translateConstant(n *ast.Constant) (expr.Expr, error) {
	if n.Value == nil || n.Type.Kind == sqltype.KindNull {
		return expr.Null(), nil
	}
	v, err := sqltype.Convert(n.Value, n.Type)
	if err != nil {
		return nil, planerr.UnsupportedTransformation("constant", err.Error())
	}
	return expr.Literal{Value: v, T: n.Type.NonNull()}, nil
}

func (t *Translator) rowFor(variable string, env Env) (Row, error) {
	if variable == "" {
		if env.Row == nil {
			return nil, planerr.PropertyNotFound("", "no row in scope")
		}
		return env.Row, nil
	}
	row, ok := env.Vars[variable]
	if !ok {
		return nil, planerr.PropertyNotFound(variable, "")
	}
	return row, nil
}

func (t *Translator) translateProperty(n *ast.PropertyAccess, env Env) (expr.Expr, error) {
	segments, variable, ok := ast.Path(n)
	if !ok {
		return nil, planerr.UnsupportedTransformation(ast.KindOf(n), "property source must be a navigation path")
	}
	row, err := t.rowFor(variable, env)
	if err != nil {
		return nil, err
	}
	return row.Property(segments)
}

func (t *Translator) translateUnary(n *ast.UnaryOp, env Env) (expr.Expr, error) {
	operand, err := t.Translate(n.Operand, env)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case ast.OpNot:
		if operand.Type().Kind != sqltype.KindBoolean {
			return nil, planerr.UnsupportedTransformation(ast.KindOf(n), "not requires a boolean operand")
		}
		return expr.Not(operand), nil
	case ast.OpNegate:
		if !operand.Type().Kind.IsNumeric() {
			return nil, planerr.UnsupportedTransformation(ast.KindOf(n), "negate requires a numeric operand")
		}
		if lit, ok := operand.(expr.Literal); ok {
			if v, err := expr.Eval(expr.Unary{Op: expr.OpNegate, Operand: lit, T: lit.T}, nil); err == nil {
				return expr.Literal{Value: v, T: lit.T}, nil
			}
		}
		return expr.Unary{Op: expr.OpNegate, Operand: operand, T: operand.Type()}, nil
	}
	return nil, planerr.UnsupportedTransformation(ast.KindOf(n), string(n.Op))
}
