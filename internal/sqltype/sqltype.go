// Package sqltype provides the semantic type model shared by the translator, the planners
// and the skip token codec. It maps store column types to semantic kinds and owns the
// coercion rules used when two operands of different kinds meet.
package sqltype

import (
	"strings"
)

// Kind is the semantic category of a value.
type Kind int

const (
	// KindString is the default kind for text and unknown store types.
	KindString Kind = iota
	// KindInt32 represents 32-bit and smaller integers.
	KindInt32
	// KindInt64 represents 64-bit integers.
	KindInt64
	// KindDecimal represents fixed-point numbers. Values travel as strings.
	KindDecimal
	// KindDouble represents floating-point numbers.
	KindDouble
	KindBoolean
	KindDate
	KindDateTime
	KindTimeOfDay
	KindGuid
	// KindEnum values are stored either by member name or by ordinal, see EnumType.
	KindEnum
	KindBinary
	// KindNull is the kind of the untyped null literal.
	KindNull
)

var kindNames = map[Kind]string{
	KindString:    "Edm.String",
	KindInt32:     "Edm.Int32",
	KindInt64:     "Edm.Int64",
	KindDecimal:   "Edm.Decimal",
	KindDouble:    "Edm.Double",
	KindBoolean:   "Edm.Boolean",
	KindDate:      "Edm.Date",
	KindDateTime:  "Edm.DateTimeOffset",
	KindTimeOfDay: "Edm.TimeOfDay",
	KindGuid:      "Edm.Guid",
	KindEnum:      "Edm.Enum",
	KindBinary:    "Edm.Binary",
	KindNull:      "null",
}

// String returns the protocol type name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves a protocol type name such as "Edm.Int32" (the prefix is optional).
func ParseKind(name string) (Kind, bool) {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "Edm."))
	normalized = strings.TrimPrefix(normalized, "edm.")
	switch normalized {
	case "string":
		return KindString, true
	case "int32", "int16", "byte", "sbyte":
		return KindInt32, true
	case "int64":
		return KindInt64, true
	case "decimal":
		return KindDecimal, true
	case "double", "single":
		return KindDouble, true
	case "boolean":
		return KindBoolean, true
	case "date":
		return KindDate, true
	case "datetimeoffset", "datetime":
		return KindDateTime, true
	case "timeofday":
		return KindTimeOfDay, true
	case "guid":
		return KindGuid, true
	case "binary":
		return KindBinary, true
	default:
		return KindString, false
	}
}

// IsNumeric reports whether the kind takes part in numeric promotion.
func (k Kind) IsNumeric() bool {
	return numericRank(k) > 0
}

// IsIntegral reports whether the kind is an integer kind.
func (k Kind) IsIntegral() bool {
	return k == KindInt32 || k == KindInt64
}

func numericRank(k Kind) int {
	switch k {
	case KindInt32:
		return 1
	case KindInt64:
		return 2
	case KindDecimal:
		return 3
	case KindDouble:
		return 4
	default:
		return 0
	}
}

// EnumType describes an enumeration and how its members are stored.
type EnumType struct {
	Name    string
	Members []string
	// Ordinal stores members by zero-based position instead of by name.
	Ordinal bool
}

// Index returns the position of the named member, matching case-insensitively.
func (e *EnumType) Index(member string) int {
	for i, m := range e.Members {
		if strings.EqualFold(m, member) {
			return i
		}
	}
	return -1
}

// Type is a semantic type: a kind plus nullability and enum metadata.
type Type struct {
	Kind     Kind
	Nullable bool
	Enum     *EnumType
}

// Of returns a non-nullable type of the given kind.
func Of(k Kind) Type {
	return Type{Kind: k}
}

// NullableOf returns a nullable type of the given kind.
func NullableOf(k Kind) Type {
	return Type{Kind: k, Nullable: true}
}

// Null is the type of the null literal.
var Null = Type{Kind: KindNull, Nullable: true}

// Boolean is the non-nullable boolean type produced by predicates.
var Boolean = Type{Kind: KindBoolean}

// NonNull unwraps nullability.
func (t Type) NonNull() Type {
	t.Nullable = false
	return t
}

// WithNullable returns t with nullability set to n.
func (t Type) WithNullable(n bool) Type {
	t.Nullable = n
	return t
}

// SameKind reports whether both types share a kind once nullability is ignored.
// Enum types must also agree on their enum definition.
func (t Type) SameKind(other Type) bool {
	if t.Kind != other.Kind {
		return false
	}
	if t.Kind == KindEnum && t.Enum != nil && other.Enum != nil {
		return t.Enum.Name == other.Enum.Name
	}
	return true
}

func (t Type) String() string {
	name := t.Kind.String()
	if t.Kind == KindEnum && t.Enum != nil {
		name = t.Enum.Name
	}
	if t.Nullable {
		return name + "?"
	}
	return name
}

// Promote returns the wider of two numeric kinds.
func Promote(a, b Kind) (Kind, bool) {
	ra, rb := numericRank(a), numericRank(b)
	if ra == 0 || rb == 0 {
		return KindString, false
	}
	if ra >= rb {
		return a, true
	}
	return b, true
}

// Common returns the type both operands convert to, if one exists.
// Numeric kinds promote; Date widens to DateTime. Nullability is the union.
func Common(a, b Type) (Type, bool) {
	nullable := a.Nullable || b.Nullable
	if a.SameKind(b) {
		return a.WithNullable(nullable), true
	}
	if k, ok := Promote(a.Kind, b.Kind); ok {
		return Type{Kind: k, Nullable: nullable}, true
	}
	if (a.Kind == KindDate && b.Kind == KindDateTime) || (a.Kind == KindDateTime && b.Kind == KindDate) {
		return Type{Kind: KindDateTime, Nullable: nullable}, true
	}
	return Type{}, false
}

// MapSQLType converts a store column type string to its semantic kind.
// The input is case-insensitive. Size specifiers like (10,2) or (255) are stripped before
// matching, except that TINYINT(1) is treated as boolean.
func MapSQLType(sqlType string) Kind {
	upper := strings.ToUpper(strings.TrimSpace(sqlType))
	if upper == "TINYINT(1)" {
		return KindBoolean
	}
	if idx := strings.Index(upper, "("); idx != -1 {
		upper = strings.TrimSpace(upper[:idx])
	}
	upper = strings.TrimSuffix(upper, " UNSIGNED")
	switch upper {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "INT2", "INT4", "SMALLSERIAL", "SERIAL":
		return KindInt32
	case "BIGINT", "INT8", "BIGSERIAL":
		return KindInt64
	case "FLOAT", "DOUBLE", "REAL", "DOUBLE PRECISION", "FLOAT4", "FLOAT8":
		return KindDouble
	case "DECIMAL", "NUMERIC":
		return KindDecimal
	case "BOOL", "BOOLEAN":
		return KindBoolean
	case "DATE":
		return KindDate
	case "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE":
		return KindDateTime
	case "TIME":
		return KindTimeOfDay
	case "UUID":
		return KindGuid
	case "ENUM":
		return KindEnum
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BYTEA":
		return KindBinary
	default:
		return KindString
	}
}
