// Package arenaerrors defines the engine-wide error taxonomy and its mapping
// to PostgreSQL SQLSTATE codes. The shape mirrors jackc/pgx/v5/pgconn.PgError
// so the cluster package can copy fields directly into an ErrorResponse
// without a translation layer.
package arenaerrors

import "fmt"

// Kind enumerates the engine error taxonomy.
type Kind string

const (
	KindParserError               Kind = "ParserError"
	KindInvalidTransactionState   Kind = "InvalidTransactionState"
	KindUniqueConstraintViolated  Kind = "UniqueConstraintViolated"
	KindNullConstraintViolated    Kind = "NullConstraintViolated"
	KindUnsupportedOperation      Kind = "UnsupportedOperation"
	KindUnsupportedQuery          Kind = "UnsupportedQuery"
	KindUnsupportedDataType       Kind = "UnsupportedDataType"
	KindUnsupportedQueryFilter    Kind = "UnsupportedQueryFilter"
	KindInvalidDataType           Kind = "InvalidDataType"
	KindInvalidQuery              Kind = "InvalidQuery"
	KindRelationAlreadyExists     Kind = "RelationAlreadyExists"
	KindRelationDoesntExist       Kind = "RelationDoesntExist"
	KindSchemaDoesntExist         Kind = "SchemaDoesntExist"
	KindColumnDoesntExist         Kind = "ColumnDoesntExist"
	KindDatabaseClosed            Kind = "DatabaseClosed"
	KindIOError                   Kind = "IOError"
	KindSerdeError                Kind = "SerdeError"
	KindInternalError             Kind = "InternalError"
	KindInsufficientPrivilege     Kind = "InsufficientPrivilege"
	KindPlannerError              Kind = "PlannerError"
)

var sqlstate = map[Kind]string{
	KindParserError:              "42601",
	KindInvalidTransactionState:  "25000",
	KindUniqueConstraintViolated: "23505",
	KindNullConstraintViolated:   "XX000",
	KindUnsupportedOperation:     "XX000",
	KindUnsupportedQuery:         "XX000",
	KindUnsupportedDataType:      "XX000",
	KindUnsupportedQueryFilter:   "XX000",
	KindInvalidDataType:          "XX000",
	KindInvalidQuery:             "XX000",
	KindRelationAlreadyExists:    "XX000",
	KindRelationDoesntExist:      "XX000",
	KindSchemaDoesntExist:        "XX000",
	KindColumnDoesntExist:        "XX000",
	KindDatabaseClosed:           "XX000",
	KindIOError:                  "XX000",
	KindSerdeError:               "XX000",
	KindInternalError:            "XX000",
	KindInsufficientPrivilege:    "XX000",
	KindPlannerError:             "XX000",
}

// Error is the engine's error type. Severity is always "ERROR" today; the
// field exists because pgproto3.ErrorResponse requires it and a future
// NOTICE-carrying path will want it.
type Error struct {
	Kind     Kind
	Code     string
	Severity string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind, looking up its SQLSTATE.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		Code:     sqlstate[kind],
		Severity: "ERROR",
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a cause to a new Error of the given kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	err := New(kind, format, args...)
	err.Cause = cause
	return err
}

// FromPlanner collapses a wrapped query-planner error: a message
// containing "not yet supported" collapses to UnsupportedQuery, anything
// else is reported as PlannerError.
func FromPlanner(cause error) *Error {
	if cause == nil {
		return nil
	}
	msg := cause.Error()
	if containsFold(msg, "not yet supported") {
		return Wrap(KindUnsupportedQuery, cause, "%s", msg)
	}
	return Wrap(KindPlannerError, cause, "%s", msg)
}

func containsFold(s, substr string) bool {
	sl, subl := []rune(s), []rune(substr)
	if len(subl) == 0 {
		return true
	}
	lower := func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}
	for i := 0; i+len(subl) <= len(sl); i++ {
		match := true
		for j := range subl {
			if lower(sl[i+j]) != lower(subl[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
