package schema

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// DefaultTableName derives a table name from an entity type name: snake_case, plural.
// "OrderLine" becomes "order_lines".
func DefaultTableName(typeName string) string {
	snake := ToSnakeCase(typeName)
	parts := strings.Split(snake, "_")
	parts[len(parts)-1] = inflection.Plural(parts[len(parts)-1])
	return strings.Join(parts, "_")
}

// DefaultEntitySetName derives an entity set name from an entity type name: "Person"
// becomes "People".
func DefaultEntitySetName(typeName string) string {
	return inflection.Plural(typeName)
}

// ToSnakeCase converts PascalCase or camelCase to snake_case. Acronyms stay together:
// "HTTPStatus" becomes "http_status".
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
