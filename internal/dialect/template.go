package dialect

import (
	"fmt"
	"strings"
)

// Fragment is a rendered SQL snippet with its bound arguments in placeholder order.
type Fragment struct {
	SQL  string
	Args []interface{}
}

// Template is a SQL pattern whose {0}, {1}, ... markers are replaced by argument
// fragments. A marker may appear more than once; its arguments are repeated each time.
type Template string

// Render substitutes fragments into the template.
func (t Template) Render(args ...Fragment) (Fragment, error) {
	src := string(t)
	var b strings.Builder
	var out []interface{}
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c != '{' {
			b.WriteByte(c)
			continue
		}
		end := strings.IndexByte(src[i:], '}')
		if end < 0 {
			return Fragment{}, fmt.Errorf("unterminated marker in template %q", src)
		}
		var idx int
		if _, err := fmt.Sscanf(src[i+1:i+end], "%d", &idx); err != nil {
			return Fragment{}, fmt.Errorf("invalid marker %q in template %q", src[i:i+end+1], src)
		}
		if idx < 0 || idx >= len(args) {
			return Fragment{}, fmt.Errorf("template %q references argument %d of %d", src, idx, len(args))
		}
		b.WriteString(args[idx].SQL)
		out = append(out, args[idx].Args...)
		i += end
	}
	return Fragment{SQL: b.String(), Args: out}, nil
}

// Arity returns one more than the highest marker index in the template.
func (t Template) Arity() int {
	max := -1
	src := string(t)
	for i := 0; i < len(src); i++ {
		if src[i] != '{' {
			continue
		}
		end := strings.IndexByte(src[i:], '}')
		if end < 0 {
			break
		}
		var idx int
		if _, err := fmt.Sscanf(src[i+1:i+end], "%d", &idx); err == nil && idx > max {
			max = idx
		}
		i += end
	}
	return max + 1
}
