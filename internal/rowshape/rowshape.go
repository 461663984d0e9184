// Package rowshape describes the intermediate rows flowing between pipeline stages as a
// flat, ordered list of field descriptors. Reading field N is positional and does not
// depend on how many fields a row has.
package rowshape

import (
	"fmt"
	"strings"

	"odata-sql/internal/expr"
	"odata-sql/internal/planerr"
	"odata-sql/internal/sqltype"
)

// Field describes one value of an intermediate row.
type Field struct {
	Name string
	// Column is the output column name the value is projected under.
	Column         string
	Type           sqltype.Type
	GroupKey       bool
	PaginationOnly bool
	// Expr reads the value inside the stage that currently owns the shape.
	Expr expr.Expr
	// Identity names the underlying descriptor (join path plus property). Fields with
	// the same identity share one projected slot.
	Identity string
}

// Shape is an ordered set of fields with unique names, read through Alias once the stage
// producing it is wrapped as a derived table.
type Shape struct {
	Alias  string
	Fields []Field
}

// New returns an empty shape.
func New(alias string) *Shape {
	return &Shape{Alias: alias}
}

// Len returns the number of fields.
func (s *Shape) Len() int {
	return len(s.Fields)
}

// Field returns field n.
func (s *Shape) Field(n int) (Field, error) {
	if n < 0 || n >= len(s.Fields) {
		return Field{}, fmt.Errorf("field %d out of range (shape has %d fields)", n, len(s.Fields))
	}
	return s.Fields[n], nil
}

// Add appends a field and returns its position. Names must be unique.
func (s *Shape) Add(f Field) (int, error) {
	for _, existing := range s.Fields {
		if existing.Name == f.Name {
			return 0, planerr.AmbiguousOrMissingField(f.Name, 2)
		}
	}
	s.Fields = append(s.Fields, f)
	return len(s.Fields) - 1, nil
}

// Lookup resolves a field by name. An exact match wins; otherwise a single
// case-insensitive match is accepted. Zero or several matches fail.
func (s *Shape) Lookup(name string) (int, Field, error) {
	for i, f := range s.Fields {
		if f.Name == name {
			return i, f, nil
		}
	}
	found := -1
	matches := 0
	for i, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			found = i
			matches++
		}
	}
	if matches != 1 {
		return 0, Field{}, planerr.AmbiguousOrMissingField(name, matches)
	}
	return found, s.Fields[found], nil
}

// Matches counts the fields Lookup would consider for name.
func (s *Shape) Matches(name string) int {
	n := 0
	for _, f := range s.Fields {
		if f.Name == name {
			return 1
		}
		if strings.EqualFold(f.Name, name) {
			n++
		}
	}
	return n
}

// IndexOfIdentity returns the position of the field with the given identity, or -1.
func (s *Shape) IndexOfIdentity(identity string) int {
	for i, f := range s.Fields {
		if f.Identity == identity {
			return i
		}
	}
	return -1
}

// Output returns the fields visible in results, in order.
func (s *Shape) Output() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.PaginationOnly {
			out = append(out, f)
		}
	}
	return out
}

// GroupKeyCount returns the number of group-key fields.
func (s *Shape) GroupKeyCount() int {
	n := 0
	for _, f := range s.Fields {
		if f.GroupKey {
			n++
		}
	}
	return n
}
