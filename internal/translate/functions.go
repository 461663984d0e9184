package translate

import (
	"fmt"
	"strings"

	"odata-sql/internal/ast"
	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/sqltype"
)

// signature describes one protocol function: the kinds its arguments must have and
// how its result type is derived.
type signature struct {
	args   [][]sqltype.Kind
	result func(args []expr.Expr) (sqltype.Type, []expr.Expr)
}

var (
	stringArg   = []sqltype.Kind{sqltype.KindString}
	integerArg  = []sqltype.Kind{sqltype.KindInt32, sqltype.KindInt64}
	numericArg  = []sqltype.Kind{sqltype.KindInt32, sqltype.KindInt64, sqltype.KindDecimal, sqltype.KindDouble}
	temporalArg = []sqltype.Kind{sqltype.KindDate, sqltype.KindDateTime}
	timeArg     = []sqltype.Kind{sqltype.KindDateTime, sqltype.KindTimeOfDay}
)

func fixed(k sqltype.Kind) func([]expr.Expr) (sqltype.Type, []expr.Expr) {
	return func(args []expr.Expr) (sqltype.Type, []expr.Expr) {
		return sqltype.Of(k), args
	}
}

// rounding keeps decimal and double arguments and lifts integers to double.
func rounding(args []expr.Expr) (sqltype.Type, []expr.Expr) {
	switch args[0].Type().Kind {
	case sqltype.KindDecimal:
		return sqltype.Of(sqltype.KindDecimal), args
	case sqltype.KindDouble:
		return sqltype.Of(sqltype.KindDouble), args
	}
	double := sqltype.Of(sqltype.KindDouble)
	return double, []expr.Expr{castTo(args[0], double.WithNullable(args[0].Type().Nullable))}
}

// functions is keyed "name/arity".
var functions = map[string]signature{
	"contains/2":          {args: [][]sqltype.Kind{stringArg, stringArg}, result: fixed(sqltype.KindBoolean)},
	"startswith/2":        {args: [][]sqltype.Kind{stringArg, stringArg}, result: fixed(sqltype.KindBoolean)},
	"endswith/2":          {args: [][]sqltype.Kind{stringArg, stringArg}, result: fixed(sqltype.KindBoolean)},
	"indexof/2":           {args: [][]sqltype.Kind{stringArg, stringArg}, result: fixed(sqltype.KindInt32)},
	"length/1":            {args: [][]sqltype.Kind{stringArg}, result: fixed(sqltype.KindInt32)},
	"substring/2":         {args: [][]sqltype.Kind{stringArg, integerArg}, result: fixed(sqltype.KindString)},
	"substring/3":         {args: [][]sqltype.Kind{stringArg, integerArg, integerArg}, result: fixed(sqltype.KindString)},
	"tolower/1":           {args: [][]sqltype.Kind{stringArg}, result: fixed(sqltype.KindString)},
	"toupper/1":           {args: [][]sqltype.Kind{stringArg}, result: fixed(sqltype.KindString)},
	"trim/1":              {args: [][]sqltype.Kind{stringArg}, result: fixed(sqltype.KindString)},
	"concat/2":            {args: [][]sqltype.Kind{stringArg, stringArg}, result: fixed(sqltype.KindString)},
	"year/1":              {args: [][]sqltype.Kind{temporalArg}, result: fixed(sqltype.KindInt32)},
	"month/1":             {args: [][]sqltype.Kind{temporalArg}, result: fixed(sqltype.KindInt32)},
	"day/1":               {args: [][]sqltype.Kind{temporalArg}, result: fixed(sqltype.KindInt32)},
	"hour/1":              {args: [][]sqltype.Kind{timeArg}, result: fixed(sqltype.KindInt32)},
	"minute/1":            {args: [][]sqltype.Kind{timeArg}, result: fixed(sqltype.KindInt32)},
	"second/1":            {args: [][]sqltype.Kind{timeArg}, result: fixed(sqltype.KindInt32)},
	"fractionalseconds/1": {args: [][]sqltype.Kind{timeArg}, result: fixed(sqltype.KindDecimal)},
	"date/1":              {args: [][]sqltype.Kind{{sqltype.KindDateTime}}, result: fixed(sqltype.KindDate)},
	"now/0":               {result: fixed(sqltype.KindDateTime)},
	"ceiling/1":           {args: [][]sqltype.Kind{numericArg}, result: rounding},
	"floor/1":             {args: [][]sqltype.Kind{numericArg}, result: rounding},
	"round/1":             {args: [][]sqltype.Kind{numericArg}, result: rounding},
}

func (t *Translator) translateCall(n *ast.FunctionCall, env Env) (expr.Expr, error) {
	name := strings.ToLower(n.Name)
	if name == "cast" {
		return t.translateCast(n, env)
	}
	key := fmt.Sprintf("%s/%d", name, len(n.Args))
	sig, ok := functions[key]
	if !ok {
		return nil, planerr.UnsupportedFunction(n.Name, fmt.Sprintf("no function with %d argument(s)", len(n.Args)))
	}
	if _, ok := t.dialect.Function(name, len(n.Args)); !ok {
		return nil, planerr.UnsupportedFunction(n.Name, fmt.Sprintf("not available for %s", t.dialect.Name))
	}

	args := make([]expr.Expr, len(n.Args))
	nullable := false
	for i, a := range n.Args {
		e, err := t.Translate(a, env)
		if err != nil {
			return nil, err
		}
		if e, err = conformArgument(n.Name, i, e, sig.args[i]); err != nil {
			return nil, err
		}
		nullable = nullable || e.Type().Nullable
		args[i] = e
	}
	result, args := sig.result(args)
	return expr.Call{Name: name, Args: args, T: result.WithNullable(nullable)}, nil
}

// conformArgument checks an argument kind. Constants convert to the first accepted kind;
// date arguments widen to date-time where only date-times are accepted.
func conformArgument(function string, i int, e expr.Expr, accepted []sqltype.Kind) (expr.Expr, error) {
	kind := e.Type().Kind
	for _, k := range accepted {
		if k == kind {
			return e, nil
		}
	}
	if lit, ok := e.(expr.Literal); ok {
		if lit.Value == nil {
			return expr.Literal{T: sqltype.NullableOf(accepted[0])}, nil
		}
		if converted, err := convertLiteral(lit, sqltype.Of(accepted[0])); err == nil {
			return converted, nil
		}
	}
	if kind == sqltype.KindDate {
		for _, k := range accepted {
			if k == sqltype.KindDateTime {
				return castTo(e, sqltype.Of(sqltype.KindDateTime).WithNullable(e.Type().Nullable)), nil
			}
		}
	}
	if kind.IsIntegral() && accepted[0].IsIntegral() {
		return e, nil
	}
	return nil, planerr.UnsupportedFunction(function, fmt.Sprintf("argument %d has type %s", i+1, e.Type()))
}

// translateCast handles cast(expr, 'Edm.Type').
func (t *Translator) translateCast(n *ast.FunctionCall, env Env) (expr.Expr, error) {
	if len(n.Args) != 2 {
		return nil, planerr.UnsupportedFunction(n.Name, "cast takes an expression and a type name")
	}
	c, ok := n.Args[1].(*ast.Constant)
	if !ok {
		return nil, planerr.UnsupportedFunction(n.Name, "cast target must be a type name constant")
	}
	typeName, _ := c.Value.(string)
	kind, ok := sqltype.ParseKind(typeName)
	if !ok {
		return nil, planerr.UnsupportedFunction(n.Name, fmt.Sprintf("unknown type %q", typeName))
	}
	if _, ok := t.dialect.CastType(kind); !ok {
		return nil, planerr.UnsupportedFunction(n.Name, fmt.Sprintf("%s cannot cast to %s", t.dialect.Name, typeName))
	}
	operand, err := t.Translate(n.Args[0], env)
	if err != nil {
		return nil, err
	}
	target := sqltype.Type{Kind: kind, Nullable: operand.Type().Nullable}
	if operand.Type().SameKind(target) {
		return operand, nil
	}
	return expr.Cast{Operand: operand, T: target}, nil
}
