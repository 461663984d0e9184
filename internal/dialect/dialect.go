// Package dialect describes how compiled expressions render for a particular store:
// identifier quoting, placeholder style, native null ordering, cast type names and the
// templates behind each supported protocol function.
package dialect

import (
	"fmt"
	"strings"

	"odata-sql/internal/sqltype"

	sq "github.com/Masterminds/squirrel"
)

// Dialect is immutable once built; use the With* helpers to derive variants.
type Dialect struct {
	// Name identifies the dialect in configuration ("mysql", "postgres", "sqlite").
	Name string
	// DriverName is the database/sql driver registered for the dialect.
	DriverName string
	// Placeholder is applied once to the outermost statement.
	Placeholder sq.PlaceholderFormat
	// NullsSortHigh reports whether NULL sorts after every non-null value in ascending order.
	NullsSortHigh bool
	// IntDivision is the operator used for integer division.
	IntDivision string

	nativeNullsHigh bool
	quote           string
	typedArgs       bool
	castParams      map[sqltype.Kind]bool
	castNames       map[sqltype.Kind]string
	functions       map[string]Template
	strCompare      Template
}

// ByName returns the dialect registered under name.
func ByName(name string) (*Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "tidb", "":
		return MySQL(), nil
	case "postgres", "postgresql", "pgx":
		return Postgres(), nil
	case "sqlite", "sqlite3":
		return SQLite(), nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// WithNullsSortHigh returns a copy of d with an overridden null ordering policy.
func (d *Dialect) WithNullsSortHigh(high bool) *Dialect {
	clone := *d
	clone.NullsSortHigh = high
	return &clone
}

// ExplicitNullOrdering reports whether ORDER BY must place NULLs itself because the
// configured policy differs from the store's native ordering.
func (d *Dialect) ExplicitNullOrdering() bool {
	return d.NullsSortHigh != d.nativeNullsHigh
}

// QuoteIdentifier quotes a SQL identifier and escapes embedded quote characters.
func (d *Dialect) QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, d.quote, d.quote+d.quote)
	return d.quote + escaped + d.quote
}

// QuoteQualified quotes alias.column.
func (d *Dialect) QuoteQualified(alias, column string) string {
	if alias == "" {
		return d.QuoteIdentifier(column)
	}
	return d.QuoteIdentifier(alias) + "." + d.QuoteIdentifier(column)
}

// TableAs renders "table AS alias" for FROM and JOIN clauses.
func (d *Dialect) TableAs(table, alias string) string {
	return d.QuoteIdentifier(table) + " AS " + d.QuoteIdentifier(alias)
}

// CastType returns the store type name used in CAST(x AS ...).
func (d *Dialect) CastType(k sqltype.Kind) (string, bool) {
	name, ok := d.castNames[k]
	return name, ok
}

// Param renders a bound parameter of type t. Stores that cannot infer parameter types
// from function arguments get an explicit cast, as do kinds listed in castParams.
func (d *Dialect) Param(t sqltype.Type) string {
	if t.Kind == sqltype.KindEnum || t.Kind == sqltype.KindNull {
		return "?"
	}
	if !d.typedArgs && !d.castParams[t.Kind] {
		return "?"
	}
	if name, ok := d.castNames[t.Kind]; ok {
		return "CAST(? AS " + name + ")"
	}
	return "?"
}

// Function returns the template implementing a protocol function with the given arity.
func (d *Dialect) Function(name string, arity int) (Template, bool) {
	tpl, ok := d.functions[functionKey(name, arity)]
	return tpl, ok
}

// StringCompare returns a template yielding a negative, zero or positive integer when
// comparing its two string arguments ordinally.
func (d *Dialect) StringCompare() Template {
	return d.strCompare
}

func functionKey(name string, arity int) string {
	return fmt.Sprintf("%s/%d", strings.ToLower(name), arity)
}
