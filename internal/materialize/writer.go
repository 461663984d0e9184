// Package materialize rebuilds hierarchical entities from the flat rows of a compiled
// plan and produces the next skip token of a page.
package materialize

import (
	"fmt"
	"strings"
	"time"

	"odata-sql/internal/cursor"
	"odata-sql/internal/planner"
	"odata-sql/internal/sqltype"
)

// Page is one materialized page of root entities.
type Page struct {
	Items []map[string]any `json:"value"`
	// Count is the number of matching root entities before paging, when requested.
	Count         *int64 `json:"@count,omitempty"`
	NextSkipToken string `json:"@nextLink,omitempty"`
	// Rows is the number of flat rows consumed.
	Rows int `json:"-"`
}

// entity is a materialized entity plus the state needed to attach later rows to it.
type entity struct {
	values      map[string]any
	singles     map[*planner.MaterializationNode]*entity
	collections map[*planner.MaterializationNode]*collection
}

type collection struct {
	seen  map[string]*entity
	items []map[string]any
	total int
}

// Writer consumes the rows of one plan in order. It is not safe for concurrent use.
type Writer struct {
	root     *planner.MaterializationNode
	pageSize int

	roots    []*entity
	byKey    map[string]*entity
	rows     int
	more     bool
	lastRow  []any
	finished bool
}

// NewWriter returns a writer for the rows of plan.
func NewWriter(plan *planner.Plan) *Writer {
	return &Writer{
		root:     plan.Root,
		pageSize: plan.PageSize,
		byKey:    make(map[string]*entity),
	}
}

// Write consumes one row. Rows of a root entity must be contiguous, which the plan's
// ordering guarantees.
func (w *Writer) Write(row []any) error {
	if w.finished {
		return fmt.Errorf("write after finish")
	}
	w.rows++
	if w.more {
		return nil
	}

	keyValues, err := readAll(w.root.Keys, row)
	if err != nil {
		return err
	}
	var key string
	if len(keyValues) > 0 {
		key = tupleKey(keyValues)
		if existing, ok := w.byKey[key]; ok {
			return w.attach(w.root, existing, row, false)
		}
	}
	if len(w.roots) == w.pageSize {
		// the extra row of LIMIT pageSize+1 only signals that another page exists
		w.more = true
		return nil
	}

	e, err := newEntity(w.root, row)
	if err != nil {
		return err
	}
	if len(keyValues) > 0 {
		w.byKey[key] = e
	}
	w.roots = append(w.roots, e)
	w.lastRow = row
	return w.attach(w.root, e, row, true)
}

// Finish returns the page. count is the result of the plan's count statement, or nil.
func (w *Writer) Finish(count *int64) (*Page, error) {
	w.finished = true
	page := &Page{Items: make([]map[string]any, 0, len(w.roots)), Count: count, Rows: w.rows}
	for _, e := range w.roots {
		page.Items = append(page.Items, finish(w.root, e))
	}
	if w.more && w.lastRow != nil {
		token, err := nextToken(w.root.Pagination, w.lastRow)
		if err != nil {
			return nil, err
		}
		page.NextSkipToken = token
	}
	return page, nil
}

// attach walks the children of node for one row owned by e. New entities take their
// single-valued links from the row; collections accumulate across rows.
func (w *Writer) attach(node *planner.MaterializationNode, e *entity, row []any, isNew bool) error {
	for _, child := range node.Children {
		if !child.Collection {
			if isNew {
				linked, err := linkedEntity(child, row)
				if err != nil {
					return err
				}
				e.singles[child] = linked
			}
			if linked := e.singles[child]; linked != nil {
				if err := w.attach(child, linked, row, isNew); err != nil {
					return err
				}
			}
			continue
		}

		coll := e.collections[child]
		if coll == nil {
			coll = &collection{seen: make(map[string]*entity)}
			e.collections[child] = coll
		}
		keyValues, err := readAll(child.Keys, row)
		if err != nil {
			return err
		}
		if allNil(keyValues) {
			continue
		}
		key := tupleKey(keyValues)
		if member, ok := coll.seen[key]; ok {
			if err := w.attach(child, member, row, false); err != nil {
				return err
			}
			continue
		}
		member, err := newEntity(child, row)
		if err != nil {
			return err
		}
		coll.seen[key] = member
		coll.total++
		if top := child.Pagination.Top; top == nil || len(coll.items) < *top {
			coll.items = append(coll.items, member.values)
		}
		if err := w.attach(child, member, row, true); err != nil {
			return err
		}
	}
	return nil
}

func linkedEntity(node *planner.MaterializationNode, row []any) (*entity, error) {
	keyValues, err := readAll(node.Keys, row)
	if err != nil {
		return nil, err
	}
	if allNil(keyValues) {
		return nil, nil
	}
	return newEntity(node, row)
}

func newEntity(node *planner.MaterializationNode, row []any) (*entity, error) {
	e := &entity{
		values:      make(map[string]any, len(node.Fields)),
		singles:     make(map[*planner.MaterializationNode]*entity),
		collections: make(map[*planner.MaterializationNode]*collection),
	}
	for _, reader := range node.Fields {
		v, err := readValue(reader, row)
		if err != nil {
			return nil, err
		}
		setPath(e.values, reader.Field.Name, v)
	}
	return e, nil
}

// finish attaches links and collections to the output maps of the subtree through
// each child's link accessor.
func finish(node *planner.MaterializationNode, e *entity) map[string]any {
	for _, child := range node.Children {
		if !child.Collection {
			linked := e.singles[child]
			if linked == nil {
				child.Link.Set(e.values, nil)
				continue
			}
			child.Link.Set(e.values, finish(child, linked))
			continue
		}
		coll := e.collections[child]
		items := make([]map[string]any, 0)
		total := 0
		if coll != nil {
			items = append(items, coll.items...)
			for _, member := range coll.seen {
				finish(child, member)
			}
			total = coll.total
		}
		child.Link.Set(e.values, items)
		if child.Pagination.Count {
			child.Link.SetCount(e.values, total)
		}
	}
	return e.values
}

func readValue(reader planner.FieldReader, row []any) (any, error) {
	raw, err := reader.Read(row)
	if err != nil {
		return nil, err
	}
	v, err := sqltype.Normalize(raw, reader.Field.Type)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", reader.Field.Name, err)
	}
	return v, nil
}

func readAll(readers []planner.FieldReader, row []any) ([]any, error) {
	out := make([]any, len(readers))
	for i, reader := range readers {
		v, err := readValue(reader, row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func allNil(values []any) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}

// setPath stores v under name; a name such as Customer/Country nests a map per segment.
func setPath(values map[string]any, name string, v any) {
	segments := strings.Split(name, "/")
	for _, seg := range segments[:len(segments)-1] {
		next, ok := values[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			values[seg] = next
		}
		values = next
	}
	values[segments[len(segments)-1]] = v
}

// tupleKey encodes a key tuple so that equal values of equal kinds collide.
func tupleKey(values []any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('|')
		}
		switch val := v.(type) {
		case nil:
			b.WriteString("n:")
		case time.Time:
			b.WriteString("t:" + val.UTC().Format(time.RFC3339Nano))
		case []byte:
			fmt.Fprintf(&b, "b:%x", val)
		default:
			fmt.Fprintf(&b, "%T:%v", val, val)
		}
	}
	return b.String()
}

// nextToken builds the skip token resuming after row, the first row of the last root
// entity kept on the page.
func nextToken(p planner.Pagination, row []any) (string, error) {
	directions := make([]string, len(p.Ordering))
	values := make([]any, len(p.Ordering))
	for i, term := range p.Ordering {
		directions[i] = term.Direction()
		v, err := readValue(term.Reader, row)
		if err != nil {
			return "", err
		}
		values[i] = v
	}
	token, err := cursor.Encode(p.EntitySet, p.OrderKey, directions, values...)
	if err != nil {
		return "", fmt.Errorf("encode skip token: %w", err)
	}
	return token, nil
}
