package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"odata-sql/internal/sqltype"
)

// Env supplies column values during in-memory evaluation.
type Env func(c Column) (interface{}, bool)

// MapEnv resolves columns by "table.name" keys.
func MapEnv(values map[string]interface{}) Env {
	return func(c Column) (interface{}, bool) {
		v, ok := values[c.Table+"."+c.Name]
		return v, ok
	}
}

// Eval evaluates e with SQL three-valued logic: a nil result means NULL/unknown.
// Sub-selects and aggregates need the store and are rejected.
func Eval(e Expr, env Env) (interface{}, error) {
	switch n := e.(type) {
	case Column:
		v, ok := env(n)
		if !ok {
			return nil, fmt.Errorf("no value for column %s.%s", n.Table, n.Name)
		}
		return sqltype.Normalize(v, n.T)
	case Literal:
		return n.Value, nil
	case Binary:
		return evalBinary(n, env)
	case Unary:
		v, err := Eval(n.Operand, env)
		if err != nil || v == nil {
			return nil, err
		}
		if n.Op == OpNot {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("NOT applied to %T", v)
			}
			return !b, nil
		}
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		}
		f, err := numeric(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	case IsNull:
		v, err := Eval(n.Operand, env)
		if err != nil {
			return nil, err
		}
		return (v == nil) != n.Negate, nil
	case Truth:
		v, err := Eval(n.Operand, env)
		if err != nil {
			return nil, err
		}
		b, _ := v.(bool)
		return b != n.Negate, nil
	case StrCompare:
		l, r, err := evalPair(n.Left, n.Right, env)
		if err != nil || l == nil || r == nil {
			return nil, err
		}
		c, err := sqltype.Compare(l, r)
		if err != nil {
			return nil, err
		}
		return int64(c), nil
	case Cast:
		v, err := Eval(n.Operand, env)
		if err != nil {
			return nil, err
		}
		return sqltype.Convert(v, n.T)
	case Call:
		return evalCall(n, env)
	case Subquery, Aggregate:
		return nil, fmt.Errorf("%T cannot be evaluated in memory", e)
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func evalPair(left, right Expr, env Env) (interface{}, interface{}, error) {
	l, err := Eval(left, env)
	if err != nil {
		return nil, nil, err
	}
	r, err := Eval(right, env)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func evalBinary(n Binary, env Env) (interface{}, error) {
	if n.Op.IsLogical() {
		return evalLogical(n, env)
	}
	l, r, err := evalPair(n.Left, n.Right, env)
	if err != nil {
		return nil, err
	}
	if l == nil || r == nil {
		return nil, nil
	}
	if n.Op.IsComparison() {
		if n.Left.Type().Kind == sqltype.KindDecimal || n.Right.Type().Kind == sqltype.KindDecimal {
			if l, err = numeric(l); err != nil {
				return nil, err
			}
			if r, err = numeric(r); err != nil {
				return nil, err
			}
		}
		c, err := sqltype.Compare(l, r)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpEq:
			return c == 0, nil
		case OpNe:
			return c != 0, nil
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch n.Op {
		case OpAdd:
			return li + ri, nil
		case OpSub:
			return li - ri, nil
		case OpMul:
			return li * ri, nil
		case OpIntDiv, OpDiv, OpMod:
			if ri == 0 {
				return nil, nil
			}
			if n.Op == OpMod {
				return li % ri, nil
			}
			if n.Op == OpIntDiv || n.T.Kind.IsIntegral() {
				return li / ri, nil
			}
			return float64(li) / float64(ri), nil
		}
	}
	lf, err := numeric(l)
	if err != nil {
		return nil, err
	}
	rf, err := numeric(r)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	case OpDiv, OpIntDiv:
		if rf == 0 {
			return nil, nil
		}
		if n.Op == OpIntDiv {
			return math.Trunc(lf / rf), nil
		}
		return lf / rf, nil
	case OpMod:
		if rf == 0 {
			return nil, nil
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unsupported operator %d", n.Op)
}

func evalLogical(n Binary, env Env) (interface{}, error) {
	l, r, err := evalPair(n.Left, n.Right, env)
	if err != nil {
		return nil, err
	}
	lb, lok := l.(bool)
	rb, rok := r.(bool)
	if (l != nil && !lok) || (r != nil && !rok) {
		return nil, fmt.Errorf("logical operator applied to %T and %T", l, r)
	}
	if n.Op == OpAnd {
		if (lok && !lb) || (rok && !rb) {
			return false, nil
		}
		if l == nil || r == nil {
			return nil, nil
		}
		return true, nil
	}
	if (lok && lb) || (rok && rb) {
		return true, nil
	}
	if l == nil || r == nil {
		return nil, nil
	}
	return false, nil
}

func numeric(v interface{}) (float64, error) {
	switch x := v.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric operand %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("non-numeric operand %T", v)
}

func evalCall(n Call, env Env) (interface{}, error) {
	args := make([]interface{}, len(n.Args))
	for i, a := range n.Args {
		v, err := Eval(a, env)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		args[i] = v
	}
	str := func(i int) string {
		s, _ := args[i].(string)
		return s
	}
	switch strings.ToLower(n.Name) {
	case "tolower":
		return strings.ToLower(str(0)), nil
	case "toupper":
		return strings.ToUpper(str(0)), nil
	case "trim":
		return strings.TrimSpace(str(0)), nil
	case "length":
		return int64(len([]rune(str(0)))), nil
	case "contains":
		return strings.Contains(str(0), str(1)), nil
	case "startswith":
		return strings.HasPrefix(str(0), str(1)), nil
	case "endswith":
		return strings.HasSuffix(str(0), str(1)), nil
	case "concat":
		return str(0) + str(1), nil
	case "indexof":
		idx := strings.Index(str(0), str(1))
		if idx < 0 {
			return int64(-1), nil
		}
		return int64(len([]rune(str(0)[:idx]))), nil
	case "floor", "ceiling", "round":
		f, err := numeric(args[0])
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(n.Name) {
		case "floor":
			return math.Floor(f), nil
		case "ceiling":
			return math.Ceil(f), nil
		}
		return math.Round(f), nil
	}
	return nil, fmt.Errorf("function %s cannot be evaluated in memory", n.Name)
}
