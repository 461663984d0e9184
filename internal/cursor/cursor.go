// Package cursor encodes and decodes skip tokens.
// Tokens are opaque base64-encoded JSON objects carrying the ordering context and
// string-coerced values for keyset pagination. NULL ordering values are preserved.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"odata-sql/internal/sqltype"
)

const payloadVersion = 1

type payload struct {
	Version    int       `json:"v"`
	EntitySet  string    `json:"t"`
	OrderKey   string    `json:"k"`
	Directions []string  `json:"d"`
	Values     []*string `json:"vals"`
}

// Token is a decoded skip token.
type Token struct {
	EntitySet  string
	OrderKey   string
	Directions []string
	// Values holds one string-coerced value per ordering term; nil is NULL.
	Values []*string
}

// Encode builds an opaque skip token from the entity set, ordering key, directions and
// the ordering values of the last row on the page.
// Values are string-coerced for JSON safety (avoids float64→int64 precision loss).
func Encode(entitySet, orderKey string, directions []string, values ...interface{}) (string, error) {
	if len(values) != len(directions) {
		return "", fmt.Errorf("cursor value count mismatch: %d values for %d directions", len(values), len(directions))
	}
	normalized := make([]string, len(directions))
	for i, direction := range directions {
		normalized[i] = strings.ToUpper(direction)
	}
	stringValues := make([]*string, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		s := coerceToString(v)
		stringValues[i] = &s
	}
	data, err := json.Marshal(payload{
		Version:    payloadVersion,
		EntitySet:  entitySet,
		OrderKey:   orderKey,
		Directions: normalized,
		Values:     stringValues,
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a skip token.
func Decode(raw string) (Token, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return Token{}, fmt.Errorf("invalid cursor: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Token{}, fmt.Errorf("invalid cursor format")
	}
	if p.Version != payloadVersion {
		return Token{}, fmt.Errorf("invalid cursor format: unsupported version %d", p.Version)
	}
	if p.EntitySet == "" || p.OrderKey == "" {
		return Token{}, fmt.Errorf("invalid cursor: missing entity set or ordering key")
	}
	if len(p.Directions) == 0 {
		return Token{}, fmt.Errorf("invalid cursor: missing directions")
	}
	for i, direction := range p.Directions {
		direction = strings.ToUpper(direction)
		if direction != "ASC" && direction != "DESC" {
			return Token{}, fmt.Errorf("invalid cursor: direction %d must be ASC or DESC", i)
		}
		p.Directions[i] = direction
	}
	if len(p.Values) != len(p.Directions) {
		return Token{}, fmt.Errorf("invalid cursor: value count mismatch for ordering terms")
	}
	return Token{EntitySet: p.EntitySet, OrderKey: p.OrderKey, Directions: p.Directions, Values: p.Values}, nil
}

// Validate confirms the token was issued for the same query context.
func (t Token) Validate(entitySet, orderKey string, directions []string) error {
	if t.EntitySet != entitySet {
		return fmt.Errorf("cursor entity set mismatch: expected %s, got %s", entitySet, t.EntitySet)
	}
	if t.OrderKey != orderKey {
		return fmt.Errorf("cursor ordering mismatch: expected %s, got %s", orderKey, t.OrderKey)
	}
	if len(t.Directions) != len(directions) {
		return fmt.Errorf("cursor direction count mismatch: expected %d, got %d", len(directions), len(t.Directions))
	}
	for i := range directions {
		if want := strings.ToUpper(directions[i]); t.Directions[i] != want {
			return fmt.Errorf("cursor direction mismatch at position %d: expected %s, got %s", i, want, t.Directions[i])
		}
	}
	return nil
}

// ParseValues converts string-encoded values into the store representation of each
// ordering term's type. NULL stays nil.
func ParseValues(values []*string, types []sqltype.Type) ([]interface{}, error) {
	if len(values) != len(types) {
		return nil, fmt.Errorf("cursor value count mismatch: expected %d, got %d", len(types), len(values))
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		if v == nil {
			if !types[i].Nullable {
				return nil, fmt.Errorf("cursor value %d is null for a non-nullable term", i)
			}
			continue
		}
		parsed, err := sqltype.Convert(*v, types[i].NonNull())
		if err != nil {
			return nil, fmt.Errorf("invalid cursor value %d: %w", i, err)
		}
		out[i] = parsed
	}
	return out, nil
}

func coerceToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case *big.Rat:
		return val.RatString()
	case bool:
		return strconv.FormatBool(val)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
