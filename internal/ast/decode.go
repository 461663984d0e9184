package ast

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"odata-sql/internal/sqltype"
)

// requestDocument is the YAML/JSON form of a Request used by the CLI and test fixtures.
// Expressions use a small tagged form, e.g. {eq: [{prop: Name}, "x"]}.
type requestDocument struct {
	EntitySet string                   `yaml:"entitySet"`
	Apply     []map[string]interface{} `yaml:"apply"`
	Filter    interface{}              `yaml:"filter"`
	Compute   []map[string]interface{} `yaml:"compute"`
	Select    []string                 `yaml:"select"`
	Expand    []expandDocument         `yaml:"expand"`
	OrderBy   []interface{}            `yaml:"orderby"`
	Skip      *int                     `yaml:"skip"`
	Top       *int                     `yaml:"top"`
	SkipToken string                   `yaml:"skiptoken"`
	Count     bool                     `yaml:"count"`
}

type expandDocument struct {
	Navigation string           `yaml:"navigation"`
	Select     []string         `yaml:"select"`
	Expand     []expandDocument `yaml:"expand"`
	Filter     interface{}      `yaml:"filter"`
	OrderBy    []interface{}    `yaml:"orderby"`
	Top        *int             `yaml:"top"`
	Count      bool             `yaml:"count"`
}

// LoadRequest reads a request document from path.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request %s: %w", path, err)
	}
	return DecodeRequest(data)
}

// DecodeRequest parses a YAML (or JSON) request document.
func DecodeRequest(data []byte) (*Request, error) {
	var doc requestDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if doc.EntitySet == "" {
		return nil, fmt.Errorf("decode request: entitySet is required")
	}
	req := &Request{
		EntitySet: doc.EntitySet,
		Skip:      doc.Skip,
		Top:       doc.Top,
		SkipToken: doc.SkipToken,
		Count:     doc.Count,
	}
	var err error
	for i, step := range doc.Apply {
		t, err := decodeTransformation(step)
		if err != nil {
			return nil, fmt.Errorf("apply[%d]: %w", i, err)
		}
		req.Apply = append(req.Apply, t)
	}
	if doc.Filter != nil {
		if req.Filter, err = DecodeExpression(doc.Filter); err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
	}
	if req.Compute, err = decodeComputeItems(doc.Compute); err != nil {
		return nil, fmt.Errorf("compute: %w", err)
	}
	if len(doc.Select) > 0 || len(doc.Expand) > 0 {
		req.Select = &SelectExpand{Select: doc.Select}
		if req.Select.Expand, err = decodeExpand(doc.Expand); err != nil {
			return nil, err
		}
	}
	if req.OrderBy, err = decodeOrderBy(doc.OrderBy); err != nil {
		return nil, fmt.Errorf("orderby: %w", err)
	}
	return req, nil
}

func decodeExpand(docs []expandDocument) ([]ExpandItem, error) {
	items := make([]ExpandItem, 0, len(docs))
	for _, d := range docs {
		if d.Navigation == "" {
			return nil, fmt.Errorf("expand: navigation is required")
		}
		item := ExpandItem{Navigation: d.Navigation, Top: d.Top, Count: d.Count}
		if len(d.Select) > 0 || len(d.Expand) > 0 {
			nested, err := decodeExpand(d.Expand)
			if err != nil {
				return nil, err
			}
			item.Nested = &SelectExpand{Select: d.Select, Expand: nested}
		}
		if d.Filter != nil {
			f, err := DecodeExpression(d.Filter)
			if err != nil {
				return nil, fmt.Errorf("expand %s filter: %w", d.Navigation, err)
			}
			item.Filter = f
		}
		ob, err := decodeOrderBy(d.OrderBy)
		if err != nil {
			return nil, fmt.Errorf("expand %s orderby: %w", d.Navigation, err)
		}
		item.OrderBy = ob
		items = append(items, item)
	}
	return items, nil
}

func decodeTransformation(step map[string]interface{}) (Transformation, error) {
	if len(step) != 1 {
		return nil, fmt.Errorf("transformation must have exactly one key, got %d", len(step))
	}
	for name, body := range step {
		switch strings.ToLower(name) {
		case "filter":
			pred, err := DecodeExpression(body)
			if err != nil {
				return nil, err
			}
			return &FilterTransform{Predicate: pred}, nil
		case "groupby":
			m, ok := body.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("groupby must be a mapping")
			}
			keys, _ := m["keys"].([]interface{})
			g := &GroupByTransform{}
			for _, k := range keys {
				path, ok := k.(string)
				if !ok {
					return nil, fmt.Errorf("groupby key must be a property path")
				}
				g.Keys = append(g.Keys, Prop(path))
			}
			aggs, err := decodeAggregateItems(m["aggregate"])
			if err != nil {
				return nil, err
			}
			g.Aggregates = aggs
			return g, nil
		case "aggregate":
			aggs, err := decodeAggregateItems(body)
			if err != nil {
				return nil, err
			}
			return &AggregateTransform{Items: aggs}, nil
		case "compute":
			list, ok := body.([]interface{})
			if !ok {
				return nil, fmt.Errorf("compute must be a list")
			}
			maps := make([]map[string]interface{}, 0, len(list))
			for _, it := range list {
				m, ok := it.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("compute item must be a mapping")
				}
				maps = append(maps, m)
			}
			items, err := decodeComputeItems(maps)
			if err != nil {
				return nil, err
			}
			return &ComputeTransform{Items: items}, nil
		default:
			return nil, fmt.Errorf("unknown transformation %q", name)
		}
	}
	return nil, nil
}

func decodeAggregateItems(v interface{}) ([]AggregateItem, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("aggregate must be a list")
	}
	items := make([]AggregateItem, 0, len(list))
	for _, it := range list {
		m, ok := it.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("aggregate item must be a mapping")
		}
		alias, _ := m["as"].(string)
		method, _ := m["with"].(string)
		item := AggregateItem{Alias: alias, Method: AggregateMethod(strings.ToLower(method))}
		if path, ok := m["path"].(string); ok {
			if path == "$count" {
				item.Method = AggregateCount
			} else {
				item.Expression = Prop(path)
			}
		} else if e, ok := m["expr"]; ok {
			expr, err := DecodeExpression(e)
			if err != nil {
				return nil, err
			}
			item.Expression = expr
		}
		if item.Alias == "" {
			return nil, fmt.Errorf("aggregate item requires an alias")
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeComputeItems(list []map[string]interface{}) ([]ComputeItem, error) {
	items := make([]ComputeItem, 0, len(list))
	for _, m := range list {
		alias, _ := m["as"].(string)
		if alias == "" {
			return nil, fmt.Errorf("compute item requires an alias")
		}
		e, err := DecodeExpression(m["expr"])
		if err != nil {
			return nil, err
		}
		items = append(items, ComputeItem{Expression: e, Alias: alias})
	}
	return items, nil
}

func decodeOrderBy(list []interface{}) ([]OrderByItem, error) {
	items := make([]OrderByItem, 0, len(list))
	for _, it := range list {
		switch v := it.(type) {
		case string:
			fields := strings.Fields(v)
			if len(fields) == 0 {
				return nil, fmt.Errorf("empty orderby item")
			}
			items = append(items, OrderByItem{
				Expression: Prop(fields[0]),
				Descending: len(fields) > 1 && strings.EqualFold(fields[1], "desc"),
			})
		case map[string]interface{}:
			e, err := DecodeExpression(v["expr"])
			if err != nil {
				return nil, err
			}
			desc, _ := v["desc"].(bool)
			items = append(items, OrderByItem{Expression: e, Descending: desc})
		default:
			return nil, fmt.Errorf("invalid orderby item %v", it)
		}
	}
	return items, nil
}

var binaryOperators = map[string]BinaryOperator{
	"eq": OpEq, "ne": OpNe, "lt": OpLt, "le": OpLe, "gt": OpGt, "ge": OpGe,
	"and": OpAnd, "or": OpOr, "add": OpAdd, "sub": OpSub, "mul": OpMul, "div": OpDiv, "mod": OpMod,
}

// DecodeExpression converts the tagged document form of an expression into a Node.
// Bare scalars are constants.
func DecodeExpression(v interface{}) (Node, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		if _, isList := v.([]interface{}); isList {
			return nil, fmt.Errorf("unexpected list in expression")
		}
		return Const(v), nil
	}
	if prop, ok := m["prop"].(string); ok {
		n := Prop(prop)
		if variable, ok := m["var"].(string); ok {
			attachVariable(n, variable)
		}
		return n, nil
	}
	if c, ok := m["const"]; ok {
		typeName, _ := m["type"].(string)
		if typeName == "" {
			return Const(c), nil
		}
		kind, ok := sqltype.ParseKind(typeName)
		if !ok {
			return nil, fmt.Errorf("unknown constant type %q", typeName)
		}
		return &Constant{Value: c, Type: sqltype.Of(kind)}, nil
	}
	if member, ok := m["enum"].(string); ok {
		return EnumConst(member), nil
	}
	if name, ok := m["call"].(string); ok {
		rawArgs, _ := m["args"].([]interface{})
		call := &FunctionCall{Name: name}
		for _, a := range rawArgs {
			arg, err := DecodeExpression(a)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		return call, nil
	}
	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("ambiguous expression with keys %v", keys)
	}
	for key, body := range m {
		if op, ok := binaryOperators[key]; ok {
			operands, ok := body.([]interface{})
			if !ok || len(operands) != 2 {
				return nil, fmt.Errorf("%s requires two operands", key)
			}
			left, err := DecodeExpression(operands[0])
			if err != nil {
				return nil, err
			}
			right, err := DecodeExpression(operands[1])
			if err != nil {
				return nil, err
			}
			return Binary(op, left, right), nil
		}
		switch key {
		case "not", "negate":
			operand, err := DecodeExpression(body)
			if err != nil {
				return nil, err
			}
			return &UnaryOp{Op: UnaryOperator(key), Operand: operand}, nil
		case "any", "all":
			q, ok := body.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s must be a mapping", key)
			}
			nav, _ := q["nav"].(string)
			variable, _ := q["var"].(string)
			if nav == "" {
				return nil, fmt.Errorf("%s requires nav", key)
			}
			out := &Quantifier{Kind: QuantifierKind(key), Source: Nav(nav), Variable: variable}
			if p, ok := q["predicate"]; ok {
				pred, err := DecodeExpression(p)
				if err != nil {
					return nil, err
				}
				out.Predicate = pred
			}
			return out, nil
		case "count":
			nav, ok := body.(string)
			if !ok {
				return nil, fmt.Errorf("count requires a navigation path")
			}
			return &Count{Source: Nav(nav)}, nil
		}
		return nil, fmt.Errorf("unknown expression %q", key)
	}
	return nil, nil
}

// attachVariable roots a property path at a range variable.
func attachVariable(n Node, variable string) {
	for {
		switch v := n.(type) {
		case *PropertyAccess:
			if v.Source == nil {
				v.Source = &RangeVariable{Name: variable}
				return
			}
			n = v.Source
		case *NavigationAccess:
			if v.Source == nil {
				v.Source = &RangeVariable{Name: variable}
				return
			}
			n = v.Source
		default:
			return
		}
	}
}
