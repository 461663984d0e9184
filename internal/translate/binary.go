package translate

import (
	"fmt"

	"odata-sql/internal/ast"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/sqltype"
)

var comparisonOps = map[ast.BinaryOperator]expr.BinaryOp{
	ast.OpEq: expr.OpEq,
	ast.OpNe: expr.OpNe,
	ast.OpLt: expr.OpLt,
	ast.OpLe: expr.OpLe,
	ast.OpGt: expr.OpGt,
	ast.OpGe: expr.OpGe,
}

var arithmeticOps = map[ast.BinaryOperator]expr.BinaryOp{
	ast.OpAdd: expr.OpAdd,
	ast.OpSub: expr.OpSub,
	ast.OpMul: expr.OpMul,
	ast.OpDiv: expr.OpDiv,
	ast.OpMod: expr.OpMod,
}

func (t *Translator) translateBinary(n *ast.BinaryOp, env Env) (expr.Expr, error) {
	left, err := t.Translate(n.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := t.Translate(n.Right, env)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case ast.OpAnd, ast.OpOr:
		if left.Type().Kind != sqltype.KindBoolean || right.Type().Kind != sqltype.KindBoolean {
			return nil, planerr.UnsupportedTransformation(ast.KindOf(n), fmt.Sprintf("%s requires boolean operands", n.Op))
		}
		if n.Op == ast.OpAnd {
			return expr.And(left, right), nil
		}
		return expr.Or(left, right), nil
	}

	if op, ok := comparisonOps[n.Op]; ok {
		if isNullLiteral(right) || isNullLiteral(left) {
			return nullComparison(op, left, right), nil
		}
		l, r, err := Coerce(left, right)
		if err != nil {
			return nil, err
		}
		return expr.Compare(op, l, r), nil
	}

	if op, ok := arithmeticOps[n.Op]; ok {
		if !left.Type().Kind.IsNumeric() && !isNullLiteral(left) || !right.Type().Kind.IsNumeric() && !isNullLiteral(right) {
			return nil, planerr.UnsupportedTransformation(ast.KindOf(n), fmt.Sprintf("%s requires numeric operands, got %s and %s", n.Op, left.Type(), right.Type()))
		}
		l, r, err := Coerce(left, right)
		if err != nil {
			return nil, err
		}
		result := l.Type()
		result.Nullable = l.Type().Nullable || r.Type().Nullable
		if op == expr.OpDiv && result.Kind.IsIntegral() {
			op = expr.OpIntDiv
		}
		return expr.Binary{Op: op, Left: l, Right: r, T: result}, nil
	}
	return nil, planerr.UnsupportedTransformation(ast.KindOf(n), fmt.Sprintf("operator %q", n.Op))
}

func isNullLiteral(e expr.Expr) bool {
	lit, ok := e.(expr.Literal)
	return ok && lit.Value == nil
}

// nullComparison turns eq/ne against the null literal into IS [NOT] NULL. Ordering
// comparisons against null stay as written and evaluate to unknown.
func nullComparison(op expr.BinaryOp, left, right expr.Expr) expr.Expr {
	operand := left
	if isNullLiteral(left) {
		operand = right
	}
	switch {
	case isNullLiteral(left) && isNullLiteral(right):
		return expr.Literal{Value: op == expr.OpEq || op == expr.OpLe || op == expr.OpGe, T: sqltype.Boolean}
	case op == expr.OpEq:
		return expr.IsNull{Operand: operand}
	case op == expr.OpNe:
		return expr.IsNull{Operand: operand, Negate: true}
	}
	return expr.Compare(op, left, right)
}

// Coerce brings two operands to a common type. Nullability is ignored when comparing
// kinds; a constant converts to the other operand's type; otherwise the narrower side
// gets an explicit CAST.
func Coerce(left, right expr.Expr) (expr.Expr, expr.Expr, error) {
	lt, rt := left.Type(), right.Type()
	lLit, lIsLit := left.(expr.Literal)
	rLit, rIsLit := right.(expr.Literal)

	if lt.SameKind(rt) && !needsEnumResolution(lt, rt) {
		return left, right, nil
	}
	if lIsLit && !rIsLit {
		converted, err := convertLiteral(lLit, rt)
		return converted, right, err
	}
	if rIsLit && !lIsLit {
		converted, err := convertLiteral(rLit, lt)
		return left, converted, err
	}

	common, ok := sqltype.Common(lt, rt)
	if !ok {
		return nil, nil, planerr.UnsupportedTransformation("binary-operator", fmt.Sprintf("incompatible operand types %s and %s", lt, rt))
	}
	return castTo(left, common), castTo(right, common), nil
}

func needsEnumResolution(a, b sqltype.Type) bool {
	return a.Kind == sqltype.KindEnum && (a.Enum == nil) != (b.Enum == nil)
}

func convertLiteral(lit expr.Literal, target sqltype.Type) (expr.Expr, error) {
	if lit.Value == nil {
		return expr.Literal{T: target.WithNullable(true)}, nil
	}
	v, err := sqltype.Convert(lit.Value, target)
	if err != nil {
		return nil, planerr.UnsupportedTransformation("constant", fmt.Sprintf("cannot convert %v to %s: %v", lit.Value, target, err))
	}
	return expr.Literal{Value: v, T: target.NonNull()}, nil
}

func castTo(e expr.Expr, target sqltype.Type) expr.Expr {
	t := e.Type()
	if t.SameKind(target) {
		return e
	}
	if lit, ok := e.(expr.Literal); ok {
		if converted, err := convertLiteral(lit, target); err == nil {
			return converted
		}
	}
	return expr.Cast{Operand: e, T: target.WithNullable(t.Nullable)}
}
