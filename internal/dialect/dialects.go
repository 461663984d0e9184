package dialect

import (
	"odata-sql/internal/sqltype"

	sq "github.com/Masterminds/squirrel"
)

// shared function templates, keyed "name/arity"
var commonFunctions = map[string]Template{
	"tolower/1": "LOWER({0})",
	"toupper/1": "UPPER({0})",
	"trim/1":    "TRIM({0})",
	"floor/1":   "FLOOR({0})",
	"round/1":   "ROUND({0})",
}

// nullSafeCompare yields NULL when either side is NULL, like STRCMP.
const nullSafeCompare Template = "(CASE WHEN {0} IS NULL OR {1} IS NULL THEN NULL WHEN {0} = {1} THEN 0 WHEN {0} < {1} THEN -1 ELSE 1 END)"

func withCommon(specific map[string]Template) map[string]Template {
	out := make(map[string]Template, len(commonFunctions)+len(specific))
	for k, v := range commonFunctions {
		out[k] = v
	}
	for k, v := range specific {
		out[k] = v
	}
	return out
}

// MySQL returns the MySQL/TiDB dialect. NULL sorts first in ascending order.
func MySQL() *Dialect {
	return &Dialect{
		Name:            "mysql",
		DriverName:      "mysql",
		Placeholder:     sq.Question,
		NullsSortHigh:   false,
		IntDivision:     "DIV",
		nativeNullsHigh: false,
		quote:           "`",
		castNames: map[sqltype.Kind]string{
			sqltype.KindString:    "CHAR",
			sqltype.KindInt32:     "SIGNED",
			sqltype.KindInt64:     "SIGNED",
			sqltype.KindDecimal:   "DECIMAL(38,10)",
			sqltype.KindDouble:    "DOUBLE",
			sqltype.KindBoolean:   "SIGNED",
			sqltype.KindDate:      "DATE",
			sqltype.KindDateTime:  "DATETIME(6)",
			sqltype.KindTimeOfDay: "TIME(6)",
			sqltype.KindGuid:      "CHAR(36)",
			sqltype.KindBinary:    "BINARY",
		},
		functions: withCommon(map[string]Template{
			"contains/2":          "(LOCATE({1}, {0}) > 0)",
			"startswith/2":        "(LEFT({0}, CHAR_LENGTH({1})) = {1})",
			"endswith/2":          "(RIGHT({0}, CHAR_LENGTH({1})) = {1})",
			"indexof/2":           "(LOCATE({1}, {0}) - 1)",
			"length/1":            "CHAR_LENGTH({0})",
			"substring/2":         "SUBSTRING({0}, {1} + 1)",
			"substring/3":         "SUBSTRING({0}, {1} + 1, {2})",
			"concat/2":            "CONCAT({0}, {1})",
			"year/1":              "YEAR({0})",
			"month/1":             "MONTH({0})",
			"day/1":               "DAY({0})",
			"hour/1":              "HOUR({0})",
			"minute/1":            "MINUTE({0})",
			"second/1":            "SECOND({0})",
			"fractionalseconds/1": "(FLOOR(MICROSECOND({0}) / 1000) / 1000)",
			"date/1":              "DATE({0})",
			"now/0":               "UTC_TIMESTAMP(6)",
			"ceiling/1":           "CEILING({0})",
		}),
		strCompare: "STRCMP({0}, {1})",
	}
}

// Postgres returns the PostgreSQL dialect. NULL sorts last in ascending order.
func Postgres() *Dialect {
	return &Dialect{
		Name:            "postgres",
		DriverName:      "pgx",
		Placeholder:     sq.Dollar,
		NullsSortHigh:   true,
		IntDivision:     "/",
		nativeNullsHigh: true,
		quote:           `"`,
		typedArgs:       true,
		castNames: map[sqltype.Kind]string{
			sqltype.KindString:    "TEXT",
			sqltype.KindInt32:     "INTEGER",
			sqltype.KindInt64:     "BIGINT",
			sqltype.KindDecimal:   "NUMERIC",
			sqltype.KindDouble:    "DOUBLE PRECISION",
			sqltype.KindBoolean:   "BOOLEAN",
			sqltype.KindDate:      "DATE",
			sqltype.KindDateTime:  "TIMESTAMPTZ",
			sqltype.KindTimeOfDay: "TIME",
			sqltype.KindGuid:      "UUID",
			sqltype.KindBinary:    "BYTEA",
		},
		functions: withCommon(map[string]Template{
			"contains/2":          "(STRPOS({0}, {1}) > 0)",
			"startswith/2":        "(LEFT({0}, CHAR_LENGTH({1})) = {1})",
			"endswith/2":          "(RIGHT({0}, CHAR_LENGTH({1})) = {1})",
			"indexof/2":           "(STRPOS({0}, {1}) - 1)",
			"length/1":            "CHAR_LENGTH({0})",
			"substring/2":         "SUBSTRING({0} FROM {1} + 1)",
			"substring/3":         "SUBSTRING({0} FROM {1} + 1 FOR {2})",
			"concat/2":            "({0} || {1})",
			"year/1":              "CAST(EXTRACT(YEAR FROM {0}) AS INTEGER)",
			"month/1":             "CAST(EXTRACT(MONTH FROM {0}) AS INTEGER)",
			"day/1":               "CAST(EXTRACT(DAY FROM {0}) AS INTEGER)",
			"hour/1":              "CAST(EXTRACT(HOUR FROM {0}) AS INTEGER)",
			"minute/1":            "CAST(EXTRACT(MINUTE FROM {0}) AS INTEGER)",
			"second/1":            "CAST(FLOOR(EXTRACT(SECOND FROM {0})) AS INTEGER)",
			"fractionalseconds/1": "(MOD(CAST(FLOOR(EXTRACT(MILLISECONDS FROM {0})) AS NUMERIC), 1000) / 1000)",
			"date/1":              "CAST({0} AS DATE)",
			"now/0":               "NOW()",
			"ceiling/1":           "CEIL({0})",
		}),
		// default collation, matching ORDER BY
		strCompare: nullSafeCompare,
	}
}

// SQLite returns the SQLite dialect. NULL sorts first in ascending order.
func SQLite() *Dialect {
	return &Dialect{
		Name:            "sqlite",
		DriverName:      "sqlite",
		Placeholder:     sq.Question,
		NullsSortHigh:   false,
		IntDivision:     "/",
		nativeNullsHigh: false,
		quote:           `"`,
		// decimals travel as TEXT, which sorts above every number without column affinity
		castParams: map[sqltype.Kind]bool{sqltype.KindDecimal: true},
		castNames: map[sqltype.Kind]string{
			sqltype.KindString:    "TEXT",
			sqltype.KindInt32:     "INTEGER",
			sqltype.KindInt64:     "INTEGER",
			sqltype.KindDecimal:   "NUMERIC",
			sqltype.KindDouble:    "REAL",
			sqltype.KindBoolean:   "INTEGER",
			sqltype.KindDate:      "TEXT",
			sqltype.KindDateTime:  "TEXT",
			sqltype.KindTimeOfDay: "TEXT",
			sqltype.KindGuid:      "TEXT",
			sqltype.KindBinary:    "BLOB",
		},
		functions: withCommon(map[string]Template{
			"contains/2":          "(INSTR({0}, {1}) > 0)",
			"startswith/2":        "(SUBSTR({0}, 1, LENGTH({1})) = {1})",
			"endswith/2":          "(SUBSTR({0}, -LENGTH({1})) = {1})",
			"indexof/2":           "(INSTR({0}, {1}) - 1)",
			"length/1":            "LENGTH({0})",
			"substring/2":         "SUBSTR({0}, {1} + 1)",
			"substring/3":         "SUBSTR({0}, {1} + 1, {2})",
			"concat/2":            "({0} || {1})",
			"year/1":              "CAST(STRFTIME('%Y', {0}) AS INTEGER)",
			"month/1":             "CAST(STRFTIME('%m', {0}) AS INTEGER)",
			"day/1":               "CAST(STRFTIME('%d', {0}) AS INTEGER)",
			"hour/1":              "CAST(STRFTIME('%H', {0}) AS INTEGER)",
			"minute/1":            "CAST(STRFTIME('%M', {0}) AS INTEGER)",
			"second/1":            "CAST(STRFTIME('%S', {0}) AS INTEGER)",
			"fractionalseconds/1": "((CAST(ROUND(STRFTIME('%f', {0}) * 1000) AS INTEGER) % 1000) / 1000.0)",
			"date/1":              "DATE({0})",
			"now/0":               "STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now')",
			"ceiling/1":           "CEIL({0})",
		}),
		strCompare: nullSafeCompare,
	}
}
