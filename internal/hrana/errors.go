package hrana

import (
	"strings"

	"github.com/apprun/core/internal/apperrors"
)

// Error is the normalized {code, message} pair spec.md §4.4 requires every
// adapter error be mapped to before it crosses the pipeline boundary.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodedError is the interface an adapter error may optionally implement to
// carry a driver-native code through MapError's first two rules.
type CodedError interface {
	error
	Code() any // string or int, per spec.md §4.4 rule 1/2/3
}

// sqliteCodeTable is the fixed primary-SQLite-code mapping of spec.md
// §4.4 rule 3. Not exhaustive of every SQLite extended code — the table
// named in the spec as illustrative ("e.g.") — but covers the codes a
// reference adapter is likely to surface.
var sqliteCodeTable = map[int64]string{
	1:    "SQLITE_ERROR",
	5:    "SQLITE_BUSY",
	6:    "SQLITE_LOCKED",
	8:    "SQLITE_READONLY",
	11:   "SQLITE_CORRUPT",
	12:   "SQLITE_NOTFOUND",
	18:   "SQLITE_TOOBIG",
	19:   "SQLITE_CONSTRAINT",
	20:   "SQLITE_MISMATCH",
	23:   "SQLITE_AUTH",
	1299: "SQLITE_CONSTRAINT_NOTNULL",
	1555: "SQLITE_CONSTRAINT_PRIMARYKEY",
	2067: "SQLITE_CONSTRAINT_UNIQUE",
	787:  "SQLITE_CONSTRAINT_FOREIGNKEY",
	275:  "SQLITE_CONSTRAINT_CHECK",
}

// MapError normalizes any adapter error into the HRANA wire Error shape,
// following the ordered rules of spec.md §4.4:
//  1. a string code prefixed SQLITE_/LIBSQL_ passes through unchanged;
//  2. any other string code is uppercased and passed through;
//  3. a numeric primary SQLite code is looked up in the fixed table;
//  4. otherwise the message is pattern-matched for a handful of common
//     constraint/lock/syntax phrases, falling back to SQLITE_ERROR.
func MapError(err error) Error {
	if err == nil {
		return Error{Code: "SQLITE_ERROR", Message: "unknown error"}
	}
	msg := err.Error()

	// Errors raised by the core itself (unknown baton, missing session,
	// unknown sql_id) already carry their HRANA wire code; rule 2 passes
	// an arbitrary string code through uppercased.
	if ae, ok := err.(*apperrors.AppError); ok {
		return Error{Code: ae.Code, Message: ae.Message}
	}

	if coded, ok := err.(CodedError); ok {
		switch c := coded.Code().(type) {
		case string:
			upper := strings.ToUpper(c)
			if strings.HasPrefix(upper, "SQLITE_") || strings.HasPrefix(upper, "LIBSQL_") {
				return Error{Code: c, Message: msg}
			}
			return Error{Code: upper, Message: msg}
		case int:
			if code, ok := sqliteCodeTable[int64(c)]; ok {
				return Error{Code: code, Message: msg}
			}
		case int64:
			if code, ok := sqliteCodeTable[c]; ok {
				return Error{Code: code, Message: msg}
			}
		}
	}

	return Error{Code: inferCodeFromMessage(msg), Message: msg}
}

func inferCodeFromMessage(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unique constraint"), strings.Contains(lower, "duplicate"):
		return "SQLITE_CONSTRAINT_UNIQUE"
	case strings.Contains(lower, "foreign key constraint"):
		return "SQLITE_CONSTRAINT_FOREIGNKEY"
	case strings.Contains(lower, "not null constraint"):
		return "SQLITE_CONSTRAINT_NOTNULL"
	case strings.Contains(lower, "primary key constraint"):
		return "SQLITE_CONSTRAINT_PRIMARYKEY"
	case strings.Contains(lower, "check constraint"):
		return "SQLITE_CONSTRAINT_CHECK"
	case strings.Contains(lower, "constraint"):
		return "SQLITE_CONSTRAINT"
	case strings.Contains(lower, "busy"), strings.Contains(lower, "locked"):
		return "SQLITE_BUSY"
	case strings.Contains(lower, "readonly"), strings.Contains(lower, "read-only"):
		return "SQLITE_READONLY"
	case strings.Contains(lower, "syntax error"), strings.Contains(lower, "near \""),
		strings.Contains(lower, "no such table"), strings.Contains(lower, "no such column"):
		return "SQLITE_ERROR"
	case strings.Contains(lower, "authorization"), strings.Contains(lower, "permission"):
		return "SQLITE_AUTH"
	default:
		return "SQLITE_ERROR"
	}
}
