package sqltype

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
)

// Convert coerces a constant to the store representation of t.
// Integers become int64, doubles float64, decimals canonical strings, dates and
// date-times time.Time (UTC), GUIDs lower-case strings and enum members either their
// name or their ordinal depending on EnumType.Ordinal.
func Convert(value any, t Type) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindString:
		return toString(value), nil
	case KindInt32, KindInt64:
		return toInt64(value)
	case KindDouble:
		return toFloat64(value)
	case KindDecimal:
		return toDecimal(value)
	case KindBoolean:
		return toBool(value)
	case KindDate:
		tm, err := toTime(value)
		if err != nil {
			return nil, err
		}
		return time.Date(tm.Year(), tm.Month(), tm.Day(), 0, 0, 0, 0, time.UTC), nil
	case KindDateTime:
		tm, err := toTime(value)
		if err != nil {
			return nil, err
		}
		return tm.UTC(), nil
	case KindTimeOfDay:
		return toString(value), nil
	case KindGuid:
		id, err := uuid.Parse(toString(value))
		if err != nil {
			return nil, fmt.Errorf("invalid guid %q: %w", toString(value), err)
		}
		return id.String(), nil
	case KindEnum:
		return toEnum(value, t.Enum)
	case KindBinary:
		if b, ok := value.([]byte); ok {
			return b, nil
		}
		return []byte(toString(value)), nil
	case KindNull:
		return nil, fmt.Errorf("cannot convert %v to null", value)
	}
	return nil, fmt.Errorf("unsupported conversion to %s", t)
}

// Normalize maps driver-scanned values onto the representations Convert produces, so
// values from rows and from constants compare consistently.
func Normalize(value any, t Type) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		if t.Kind == KindBinary {
			return v, nil
		}
		return Convert(string(v), t)
	}
	return Convert(value, t)
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d out of range", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("value %v is not integral", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", v)
		}
		return n, nil
	case []byte:
		return toInt64(string(v))
	}
	return 0, fmt.Errorf("cannot convert %T to integer", value)
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return f, nil
	case []byte:
		return toFloat64(string(v))
	}
	n, err := toInt64(value)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to double", value)
	}
	return float64(n), nil
}

func toDecimal(value any) (string, error) {
	var r *big.Rat
	switch v := value.(type) {
	case string:
		parsed, ok := new(big.Rat).SetString(strings.TrimSpace(v))
		if !ok {
			return "", fmt.Errorf("invalid decimal %q", v)
		}
		r = parsed
	case []byte:
		return toDecimal(string(v))
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	default:
		n, err := toInt64(value)
		if err != nil {
			return "", fmt.Errorf("cannot convert %T to decimal", value)
		}
		return strconv.FormatInt(n, 10), nil
	}
	if r.IsInt() {
		return r.Num().String(), nil
	}
	return trimDecimal(r.FloatString(18)), nil
}

func trimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("invalid boolean %q", v)
		}
		return b, nil
	case []byte:
		return toBool(string(v))
	}
	n, err := toInt64(value)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
	return n != 0, nil
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		if tm, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return tm, nil
		}
		tm, err := dateparse.ParseIn(v, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date/time %q: %w", v, err)
		}
		return tm, nil
	case []byte:
		return toTime(string(v))
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to date/time", value)
}

func toEnum(value any, enum *EnumType) (any, error) {
	if enum == nil {
		return toString(value), nil
	}
	idx := -1
	switch v := value.(type) {
	case string:
		idx = enum.Index(v)
		if idx < 0 {
			if n, err := strconv.Atoi(v); err == nil {
				idx = n
			}
		}
	case []byte:
		return toEnum(string(v), enum)
	default:
		n, err := toInt64(value)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to enum %s", value, enum.Name)
		}
		idx = int(n)
	}
	if idx < 0 || idx >= len(enum.Members) {
		return nil, fmt.Errorf("%v is not a member of enum %s", value, enum.Name)
	}
	if enum.Ordinal {
		return int64(idx), nil
	}
	return enum.Members[idx], nil
}

// Compare orders two converted values of the same kind. Strings compare ordinally.
// Null handling is the caller's concern.
func Compare(a, b any) (int, error) {
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(float64); ok {
			return compareFloat(float64(av), bv), nil
		}
		bv, err := toInt64(b)
		if err != nil {
			return 0, err
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case float64:
		bv, err := toFloat64(b)
		if err != nil {
			return 0, err
		}
		return compareFloat(av, bv), nil
	case string:
		bs, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare string with %T", b)
		}
		return strings.Compare(av, bs), nil
	case bool:
		bb, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare bool with %T", b)
		}
		switch {
		case av == bb:
			return 0, nil
		case !av:
			return -1, nil
		}
		return 1, nil
	case time.Time:
		bt, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare time with %T", b)
		}
		return av.Compare(bt), nil
	}
	return 0, fmt.Errorf("cannot compare %T", a)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
