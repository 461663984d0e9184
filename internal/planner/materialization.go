package planner

import (
	"fmt"

	"odata-sql/internal/rowshape"
	"odata-sql/internal/sqltype"
)

// FieldReader reads one value of a materialized entity from a result row.
type FieldReader struct {
	Field rowshape.Field
	// Index is the position of the value in the result row.
	Index int
}

// Read returns the value of the field in row.
func (r FieldReader) Read(row []any) (any, error) {
	if r.Index < 0 || r.Index >= len(row) {
		return nil, fmt.Errorf("field %s reads column %d of a %d-column row", r.Field.Name, r.Index, len(row))
	}
	return row[r.Index], nil
}

// LinkAccessor attaches a child node to its parent. The link lives on the parent's
// output entity under the navigation name, not in the query row.
type LinkAccessor struct {
	Navigation string
}

// Set stores the linked entity, collection or nil on parent.
func (l LinkAccessor) Set(parent map[string]any, v any) {
	parent[l.Navigation] = v
}

// SetCount stores the size of a linked collection as the <nav>@count annotation.
func (l LinkAccessor) SetCount(parent map[string]any, n int) {
	parent[l.Navigation+"@count"] = n
}

// OrderingTerm is one field of the unique ordering of a result level.
type OrderingTerm struct {
	// Name identifies the term in skip tokens.
	Name       string
	Descending bool
	Type       sqltype.Type
	Reader     FieldReader
}

// Direction returns ASC or DESC.
func (t OrderingTerm) Direction() string {
	if t.Descending {
		return "DESC"
	}
	return "ASC"
}

// Pagination carries what the writer needs to page a result level.
type Pagination struct {
	EntitySet string
	// PageSize bounds the root level; Top bounds an expanded collection.
	PageSize int
	Top      *int
	Count    bool
	Ordering []OrderingTerm
	OrderKey string
}

// MaterializationNode describes how to rebuild one level of the hierarchical result from
// flat rows. The tree is immutable once Compile returns.
type MaterializationNode struct {
	Name       string
	EntityType string
	Collection bool
	Shape      *rowshape.Shape
	// Fields are the output fields, in order.
	Fields []FieldReader
	// Keys identify an entity among the rows; all-NULL keys mean no entity.
	Keys       []FieldReader
	Link       LinkAccessor
	Children   []*MaterializationNode
	Pagination Pagination
}

func newNode(name, entityType string, collection bool, alias string) *MaterializationNode {
	return &MaterializationNode{
		Name:       name,
		EntityType: entityType,
		Collection: collection,
		Shape:      rowshape.New(alias),
		Link:       LinkAccessor{Navigation: name},
	}
}

// Arity returns the number of output fields of the node.
func (n *MaterializationNode) Arity() int {
	return len(n.Fields)
}

// Leaves returns the total number of output fields in the subtree.
func (n *MaterializationNode) Leaves() int {
	total := len(n.Fields)
	for _, child := range n.Children {
		total += child.Leaves()
	}
	return total
}

// addField projects f.Expr in blk and records a reader for it. Fields sharing an
// identity share one slot; an output request promotes an earlier pagination-only field.
func (n *MaterializationNode) addField(blk *queryBlock, f rowshape.Field) (FieldReader, error) {
	if pos := n.Shape.IndexOfIdentity(f.Identity); pos >= 0 {
		existing := n.Shape.Fields[pos]
		reader := FieldReader{Field: existing, Index: n.readerIndex(existing)}
		if existing.PaginationOnly && !f.PaginationOnly {
			existing.PaginationOnly = false
			existing.Name = f.Name
			n.Shape.Fields[pos] = existing
			reader.Field = existing
			n.Fields = append(n.Fields, reader)
		}
		return reader, nil
	}
	idx := blk.project(f.Expr)
	f.Column = columnName(idx)
	if _, err := n.Shape.Add(f); err != nil {
		return FieldReader{}, err
	}
	reader := FieldReader{Field: f, Index: idx}
	if !f.PaginationOnly {
		n.Fields = append(n.Fields, reader)
	}
	return reader, nil
}

func (n *MaterializationNode) readerIndex(f rowshape.Field) int {
	var idx int
	if _, err := fmt.Sscanf(f.Column, "c%d", &idx); err != nil {
		return -1
	}
	return idx
}

// hiddenName names a pagination-only field after its identity so it cannot collide with
// an output field.
func hiddenName(identity string) string {
	return "@" + identity
}

// shift moves every reader of the subtree by offset once its block is wrapped.
func (n *MaterializationNode) shift(offset int) {
	if offset == 0 {
		return
	}
	move := func(r FieldReader) FieldReader {
		r.Index += offset
		r.Field.Column = columnName(r.Index)
		return r
	}
	for i := range n.Fields {
		n.Fields[i] = move(n.Fields[i])
	}
	for i := range n.Keys {
		n.Keys[i] = move(n.Keys[i])
	}
	for i := range n.Pagination.Ordering {
		n.Pagination.Ordering[i].Reader = move(n.Pagination.Ordering[i].Reader)
	}
	for i := range n.Shape.Fields {
		if idx := n.readerIndex(n.Shape.Fields[i]); idx >= 0 {
			n.Shape.Fields[i].Column = columnName(idx + offset)
		}
	}
	for _, child := range n.Children {
		child.shift(offset)
	}
}
