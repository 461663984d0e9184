// Package planerr holds the typed failures raised while compiling a request.
// Every failure is fatal for the request; callers classify them with errors.Is.
package planerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedFunction       = errors.New("unsupported function")
	ErrUnsupportedTransformation = errors.New("unsupported transformation")
	ErrPropertyNotFound          = errors.New("property not found")
	ErrJoinPathNotFound          = errors.New("join path not found")
	ErrAmbiguousOrMissingField   = errors.New("ambiguous or missing field")
	ErrEmptyOrdering             = errors.New("keyset pagination requires a non-empty ordering")
	ErrCursorArity               = errors.New("skip token does not match ordering")
	ErrInvalidSkipToken          = errors.New("invalid skip token")
	ErrLimitExceeded             = errors.New("query limit exceeded")
)

// Error carries the context of a compile failure.
type Error struct {
	Kind error
	// Node is the AST node kind being translated, if any.
	Node string
	// Name is the property, function or alias involved.
	Name string
	// Path is the navigation path involved, "/"-separated.
	Path   string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	var parts []string
	if e.Name != "" {
		parts = append(parts, fmt.Sprintf("name=%q", e.Name))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%q", e.Path))
	}
	if e.Node != "" {
		parts = append(parts, "node="+e.Node)
	}
	if len(parts) > 0 {
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// UnsupportedFunction reports a function name or arity outside the fixed table.
func UnsupportedFunction(name, detail string) *Error {
	return &Error{Kind: ErrUnsupportedFunction, Node: "function-call", Name: name, Detail: detail}
}

// UnsupportedTransformation reports an AST node or transformation with no translation.
func UnsupportedTransformation(node, detail string) *Error {
	return &Error{Kind: ErrUnsupportedTransformation, Node: node, Detail: detail}
}

// PropertyNotFound reports a property or alias the current row cannot resolve.
func PropertyNotFound(name, path string) *Error {
	return &Error{Kind: ErrPropertyNotFound, Node: "property-access", Name: name, Path: path}
}

// JoinPathNotFound reports a navigation without a usable referential constraint.
func JoinPathNotFound(path, detail string) *Error {
	return &Error{Kind: ErrJoinPathNotFound, Path: path, Detail: detail}
}

// AmbiguousOrMissingField reports a Row Shape lookup matching zero or several fields.
func AmbiguousOrMissingField(name string, matches int) *Error {
	return &Error{Kind: ErrAmbiguousOrMissingField, Name: name, Detail: fmt.Sprintf("%d matching fields", matches)}
}

// CursorArity reports a skip token whose value count differs from the ordering.
func CursorArity(got, want int) *Error {
	return &Error{Kind: ErrCursorArity, Detail: fmt.Sprintf("got %d values, ordering has %d fields", got, want)}
}

// InvalidSkipToken wraps a decoding or validation failure of a skip token.
func InvalidSkipToken(err error) *Error {
	return &Error{Kind: ErrInvalidSkipToken, Detail: err.Error()}
}

// LimitExceeded reports a plan exceeding a configured limit.
func LimitExceeded(detail string) *Error {
	return &Error{Kind: ErrLimitExceeded, Detail: detail}
}

// EmptyOrdering reports a keyset request over an ordering with no fields.
func EmptyOrdering() *Error {
	return &Error{Kind: ErrEmptyOrdering}
}

var labels = []struct {
	kind  error
	label string
}{
	{ErrUnsupportedFunction, "unsupported_function"},
	{ErrUnsupportedTransformation, "unsupported_transformation"},
	{ErrPropertyNotFound, "property_not_found"},
	{ErrJoinPathNotFound, "join_path_not_found"},
	{ErrAmbiguousOrMissingField, "ambiguous_or_missing_field"},
	{ErrEmptyOrdering, "empty_ordering"},
	{ErrCursorArity, "cursor_arity"},
	{ErrInvalidSkipToken, "invalid_skip_token"},
	{ErrLimitExceeded, "limit_exceeded"},
}

// Label returns a stable metric label for err: "none" for nil, the failure kind, or
// "internal" for anything else.
func Label(err error) string {
	if err == nil {
		return "none"
	}
	for _, l := range labels {
		if errors.Is(err, l.kind) {
			return l.label
		}
	}
	return "internal"
}
