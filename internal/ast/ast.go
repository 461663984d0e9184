// Package ast defines the pre-parsed query tree the compiler consumes. The node set is
// closed: every consumer handles it with a single type switch.
package ast

import (
	"strings"

	"odata-sql/internal/sqltype"
)

// Node is the interface all AST nodes implement.
type Node interface {
	node() // marker method
}

// Constant is a literal. A nil Value with KindNull is the null literal.
// Enum constants carry KindEnum and the member name; the translator resolves the enum
// definition from the operand they meet.
type Constant struct {
	Value interface{}
	Type  sqltype.Type
}

// PropertyAccess reads a structural property. Source is nil for the innermost row in
// scope, a RangeVariable, or a single-valued NavigationAccess.
type PropertyAccess struct {
	Source Node
	Name   string
}

// NavigationAccess follows a navigation property. Whether it is single-valued or a
// collection comes from the schema.
type NavigationAccess struct {
	Source Node
	Name   string
}

// RangeVariable names a row in scope: "$it" for the outermost row, otherwise a
// lambda variable introduced by a Quantifier.
type RangeVariable struct {
	Name string
}

// It is the name of the implicit outermost range variable.
const It = "$it"

// BinaryOperator enumerates binary operators.
type BinaryOperator string

const (
	OpEq  BinaryOperator = "eq"
	OpNe  BinaryOperator = "ne"
	OpLt  BinaryOperator = "lt"
	OpLe  BinaryOperator = "le"
	OpGt  BinaryOperator = "gt"
	OpGe  BinaryOperator = "ge"
	OpAnd BinaryOperator = "and"
	OpOr  BinaryOperator = "or"
	OpAdd BinaryOperator = "add"
	OpSub BinaryOperator = "sub"
	OpMul BinaryOperator = "mul"
	OpDiv BinaryOperator = "div"
	OpMod BinaryOperator = "mod"
)

type BinaryOp struct {
	Op    BinaryOperator
	Left  Node
	Right Node
}

// UnaryOperator enumerates unary operators.
type UnaryOperator string

const (
	OpNot    UnaryOperator = "not"
	OpNegate UnaryOperator = "negate"
)

type UnaryOp struct {
	Op      UnaryOperator
	Operand Node
}

// FunctionCall invokes a built-in function by its protocol name.
type FunctionCall struct {
	Name string
	Args []Node
}

// QuantifierKind distinguishes any from all.
type QuantifierKind string

const (
	QuantifierAny QuantifierKind = "any"
	QuantifierAll QuantifierKind = "all"
)

// Quantifier tests a predicate over the elements of a collection navigation. The
// predicate sees each element through Variable. A nil Predicate on an any quantifier
// tests for a non-empty collection.
type Quantifier struct {
	Kind      QuantifierKind
	Source    Node
	Variable  string
	Predicate Node
}

// Count is the number of elements of a collection navigation.
type Count struct {
	Source Node
}

func (*Constant) node()         {}
func (*PropertyAccess) node()   {}
func (*NavigationAccess) node() {}
func (*RangeVariable) node()    {}
func (*BinaryOp) node()         {}
func (*UnaryOp) node()          {}
func (*FunctionCall) node()     {}
func (*Quantifier) node()       {}
func (*Count) node()            {}

// KindOf names the node kind for diagnostics.
func KindOf(n Node) string {
	switch n.(type) {
	case *Constant:
		return "constant"
	case *PropertyAccess:
		return "property-access"
	case *NavigationAccess:
		return "navigation-access"
	case *RangeVariable:
		return "range-variable"
	case *BinaryOp:
		return "binary-operator"
	case *UnaryOp:
		return "unary-operator"
	case *FunctionCall:
		return "function-call"
	case *Quantifier:
		return "quantifier"
	case *Count:
		return "count"
	case nil:
		return "nil"
	}
	return "unknown"
}

// Path returns the property path of a PropertyAccess chain ("Customer/Name") and the
// range variable it starts from ("" for the innermost row). ok is false when the chain
// contains anything other than navigations and range variables.
func Path(n Node) (segments []string, variable string, ok bool) {
	for n != nil {
		switch v := n.(type) {
		case *PropertyAccess:
			segments = append(segments, v.Name)
			n = v.Source
		case *NavigationAccess:
			segments = append(segments, v.Name)
			n = v.Source
		case *RangeVariable:
			variable = v.Name
			n = nil
		default:
			return nil, "", false
		}
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return segments, variable, true
}

// PathString joins a property path with "/".
func PathString(segments []string) string {
	return strings.Join(segments, "/")
}

// Prop builds a property access along a "/"-separated path starting at the innermost row.
func Prop(path string) Node {
	parts := strings.Split(path, "/")
	var src Node
	for _, nav := range parts[:len(parts)-1] {
		src = &NavigationAccess{Source: src, Name: nav}
	}
	return &PropertyAccess{Source: src, Name: parts[len(parts)-1]}
}

// Nav builds a navigation access along a "/"-separated path.
func Nav(path string) Node {
	var src Node
	for _, nav := range strings.Split(path, "/") {
		src = &NavigationAccess{Source: src, Name: nav}
	}
	return src
}

// Const builds a constant, inferring its kind from the Go type of v.
func Const(v interface{}) *Constant {
	switch v.(type) {
	case nil:
		return &Constant{Type: sqltype.Null}
	case bool:
		return &Constant{Value: v, Type: sqltype.Of(sqltype.KindBoolean)}
	case int, int32:
		return &Constant{Value: v, Type: sqltype.Of(sqltype.KindInt32)}
	case int64:
		return &Constant{Value: v, Type: sqltype.Of(sqltype.KindInt64)}
	case float32, float64:
		return &Constant{Value: v, Type: sqltype.Of(sqltype.KindDouble)}
	}
	return &Constant{Value: v, Type: sqltype.Of(sqltype.KindString)}
}

// EnumConst builds an enum member constant.
func EnumConst(member string) *Constant {
	return &Constant{Value: member, Type: sqltype.Of(sqltype.KindEnum)}
}

// Binary builds a binary operator node.
func Binary(op BinaryOperator, left, right Node) *BinaryOp {
	return &BinaryOp{Op: op, Left: left, Right: right}
}
