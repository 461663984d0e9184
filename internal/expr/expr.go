// Package expr is the store-neutral expression tree produced by the translator. Nodes
// render to SQL for a dialect and can be evaluated in memory against a row environment.
package expr

import (
	sq "github.com/Masterminds/squirrel"

	"odata-sql/internal/sqltype"
)

// Expr is a typed expression. The set of implementations is closed.
type Expr interface {
	Type() sqltype.Type
	exprNode()
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	// OpIntDiv is integer division; its SQL operator comes from the dialect.
	OpIntDiv
	OpMod
)

var binarySQL = map[BinaryOp]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpLt:  "<",
	OpLe:  "<=",
	OpGt:  ">",
	OpGe:  ">=",
	OpAnd: "AND",
	OpOr:  "OR",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpMod: "%",
}

// IsComparison reports whether op yields a boolean from two values.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// IsLogical reports whether op combines booleans.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNegate
)

// AggregateFunc enumerates the aggregate functions the store evaluates.
type AggregateFunc int

const (
	AggSum AggregateFunc = iota
	AggAverage
	AggMin
	AggMax
	AggCountDistinct
	// AggCount counts rows and takes no argument.
	AggCount
)

// SubqueryKind selects how a sub-select is embedded.
type SubqueryKind int

const (
	SubqueryExists SubqueryKind = iota
	SubqueryNotExists
	SubqueryScalar
)

// Column references a column of a table or derived-table alias.
type Column struct {
	Table string
	Name  string
	T     sqltype.Type
}

// Literal is a constant already converted to its store representation.
type Literal struct {
	Value interface{}
	T     sqltype.Type
}

type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	T     sqltype.Type
}

type Unary struct {
	Op      UnaryOp
	Operand Expr
	T       sqltype.Type
}

// Call invokes a protocol function through the dialect's template table.
type Call struct {
	Name string
	Args []Expr
	T    sqltype.Type
}

// StrCompare yields the ordinal comparison of two strings as a negative, zero or
// positive integer.
type StrCompare struct {
	Left  Expr
	Right Expr
}

type Cast struct {
	Operand Expr
	T       sqltype.Type
}

type IsNull struct {
	Operand Expr
	Negate  bool
}

// Subquery embeds a correlated sub-select built by the planner.
type Subquery struct {
	Query sq.Sqlizer
	Kind  SubqueryKind
	T     sqltype.Type
}

type Aggregate struct {
	Func AggregateFunc
	Arg  Expr
	T    sqltype.Type
}

func (c Column) Type() sqltype.Type    { return c.T }
func (l Literal) Type() sqltype.Type   { return l.T }
func (b Binary) Type() sqltype.Type    { return b.T }
func (u Unary) Type() sqltype.Type     { return u.T }
func (c Call) Type() sqltype.Type      { return c.T }
func (StrCompare) Type() sqltype.Type  { return sqltype.Of(sqltype.KindInt32) }
func (c Cast) Type() sqltype.Type      { return c.T }
func (IsNull) Type() sqltype.Type      { return sqltype.Boolean }
func (s Subquery) Type() sqltype.Type  { return s.T }
func (a Aggregate) Type() sqltype.Type { return a.T }

func (Column) exprNode()     {}
func (Literal) exprNode()    {}
func (Binary) exprNode()     {}
func (Unary) exprNode()      {}
func (Call) exprNode()       {}
func (StrCompare) exprNode() {}
func (Cast) exprNode()       {}
func (IsNull) exprNode()     {}
func (Subquery) exprNode()   {}
func (Aggregate) exprNode()  {}

// Null returns the untyped null literal.
func Null() Literal {
	return Literal{T: sqltype.Null}
}

// Compare builds a boolean comparison.
func Compare(op BinaryOp, left, right Expr) Binary {
	return Binary{Op: op, Left: left, Right: right, T: sqltype.Boolean}
}

// And folds conditions with AND, skipping nils. It returns nil when nothing remains.
func And(conds ...Expr) Expr {
	return fold(OpAnd, conds)
}

// Or folds conditions with OR, skipping nils. It returns nil when nothing remains.
func Or(conds ...Expr) Expr {
	return fold(OpOr, conds)
}

func fold(op BinaryOp, conds []Expr) Expr {
	var out Expr
	for _, c := range conds {
		if c == nil {
			continue
		}
		if out == nil {
			out = c
			continue
		}
		out = Binary{Op: op, Left: out, Right: c, T: sqltype.Boolean}
	}
	return out
}

// Not negates a boolean expression.
func Not(e Expr) Unary {
	return Unary{Op: OpNot, Operand: e, T: sqltype.Boolean}
}

// Truth tests a boolean for TRUE, treating NULL as not true.
type Truth struct {
	Operand Expr
	Negate  bool
}

func (Truth) Type() sqltype.Type { return sqltype.Boolean }
func (Truth) exprNode()          {}
