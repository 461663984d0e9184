package expr

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"odata-sql/internal/dialect"
)

// Render produces SQL with `?` placeholders for e.
func Render(d *dialect.Dialect, e Expr) (dialect.Fragment, error) {
	switch n := e.(type) {
	case Column:
		return dialect.Fragment{SQL: d.QuoteQualified(n.Table, n.Name)}, nil
	case Literal:
		if n.Value == nil {
			return dialect.Fragment{SQL: "NULL"}, nil
		}
		return dialect.Fragment{SQL: d.Param(n.T), Args: []interface{}{n.Value}}, nil
	case Binary:
		return renderBinary(d, n)
	case Unary:
		inner, err := Render(d, n.Operand)
		if err != nil {
			return dialect.Fragment{}, err
		}
		if n.Op == OpNot {
			return dialect.Fragment{SQL: "(NOT " + inner.SQL + ")", Args: inner.Args}, nil
		}
		return dialect.Fragment{SQL: "(-" + inner.SQL + ")", Args: inner.Args}, nil
	case Call:
		tpl, ok := d.Function(n.Name, len(n.Args))
		if !ok {
			return dialect.Fragment{}, fmt.Errorf("dialect %s has no function %s/%d", d.Name, n.Name, len(n.Args))
		}
		args, err := renderAll(d, n.Args)
		if err != nil {
			return dialect.Fragment{}, err
		}
		return tpl.Render(args...)
	case StrCompare:
		args, err := renderAll(d, []Expr{n.Left, n.Right})
		if err != nil {
			return dialect.Fragment{}, err
		}
		return d.StringCompare().Render(args...)
	case Cast:
		inner, err := Render(d, n.Operand)
		if err != nil {
			return dialect.Fragment{}, err
		}
		name, ok := d.CastType(n.T.Kind)
		if !ok {
			return dialect.Fragment{}, fmt.Errorf("dialect %s cannot cast to %s", d.Name, n.T)
		}
		return dialect.Fragment{SQL: "CAST(" + inner.SQL + " AS " + name + ")", Args: inner.Args}, nil
	case IsNull:
		inner, err := Render(d, n.Operand)
		if err != nil {
			return dialect.Fragment{}, err
		}
		op := " IS NULL)"
		if n.Negate {
			op = " IS NOT NULL)"
		}
		return dialect.Fragment{SQL: "(" + inner.SQL + op, Args: inner.Args}, nil
	case Truth:
		inner, err := Render(d, n.Operand)
		if err != nil {
			return dialect.Fragment{}, err
		}
		op := " IS TRUE)"
		if n.Negate {
			op = " IS NOT TRUE)"
		}
		return dialect.Fragment{SQL: "(" + inner.SQL + op, Args: inner.Args}, nil
	case Subquery:
		sql, args, err := n.Query.ToSql()
		if err != nil {
			return dialect.Fragment{}, err
		}
		switch n.Kind {
		case SubqueryExists:
			sql = "EXISTS (" + sql + ")"
		case SubqueryNotExists:
			sql = "NOT EXISTS (" + sql + ")"
		default:
			sql = "(" + sql + ")"
		}
		return dialect.Fragment{SQL: sql, Args: args}, nil
	case Aggregate:
		return renderAggregate(d, n)
	case nil:
		return dialect.Fragment{}, fmt.Errorf("nil expression")
	}
	return dialect.Fragment{}, fmt.Errorf("unsupported expression %T", e)
}

func renderAll(d *dialect.Dialect, exprs []Expr) ([]dialect.Fragment, error) {
	out := make([]dialect.Fragment, len(exprs))
	for i, e := range exprs {
		f, err := Render(d, e)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func renderBinary(d *dialect.Dialect, n Binary) (dialect.Fragment, error) {
	left, err := Render(d, n.Left)
	if err != nil {
		return dialect.Fragment{}, err
	}
	right, err := Render(d, n.Right)
	if err != nil {
		return dialect.Fragment{}, err
	}
	op := binarySQL[n.Op]
	if n.Op == OpIntDiv {
		op = d.IntDivision
	}
	args := make([]interface{}, 0, len(left.Args)+len(right.Args))
	args = append(args, left.Args...)
	args = append(args, right.Args...)
	return dialect.Fragment{SQL: "(" + left.SQL + " " + op + " " + right.SQL + ")", Args: args}, nil
}

func renderAggregate(d *dialect.Dialect, n Aggregate) (dialect.Fragment, error) {
	if n.Func == AggCount {
		return dialect.Fragment{SQL: "COUNT(*)"}, nil
	}
	if n.Arg == nil {
		return dialect.Fragment{}, fmt.Errorf("aggregate requires an argument")
	}
	arg, err := Render(d, n.Arg)
	if err != nil {
		return dialect.Fragment{}, err
	}
	var sql string
	switch n.Func {
	case AggSum:
		sql = "SUM(" + arg.SQL + ")"
	case AggAverage:
		sql = "AVG(" + arg.SQL + ")"
	case AggMin:
		sql = "MIN(" + arg.SQL + ")"
	case AggMax:
		sql = "MAX(" + arg.SQL + ")"
	case AggCountDistinct:
		sql = "COUNT(DISTINCT " + arg.SQL + ")"
	default:
		return dialect.Fragment{}, fmt.Errorf("unsupported aggregate %d", n.Func)
	}
	return dialect.Fragment{SQL: sql, Args: arg.Args}, nil
}

// Sqlizer adapts an expression to squirrel so it can be passed to Where, Column and
// OrderByClause.
type Sqlizer struct {
	Dialect *dialect.Dialect
	Expr    Expr
}

// SQL wraps e for use with squirrel builders.
func SQL(d *dialect.Dialect, e Expr) sq.Sqlizer {
	return Sqlizer{Dialect: d, Expr: e}
}

// ToSql implements squirrel.Sqlizer.
func (s Sqlizer) ToSql() (string, []interface{}, error) {
	f, err := Render(s.Dialect, s.Expr)
	if err != nil {
		return "", nil, err
	}
	return f.SQL, f.Args, nil
}

// Fingerprint identifies an expression by its rendered SQL and arguments. Two
// expressions with the same fingerprint read the same value.
func Fingerprint(d *dialect.Dialect, e Expr) string {
	f, err := Render(d, e)
	if err != nil {
		return fmt.Sprintf("!%T", e)
	}
	var b strings.Builder
	b.WriteString(f.SQL)
	for _, a := range f.Args {
		fmt.Fprintf(&b, "|%T:%v", a, a)
	}
	return b.String()
}
