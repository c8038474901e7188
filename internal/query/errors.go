package query

import (
	"errors"
	"fmt"
)

// UnsupportedOperatorError is returned when a clause names an operator the
// matcher does not know. Unknown operators fail fast rather than silently
// matching nothing, so a typo in a query surfaces immediately.
type UnsupportedOperatorError struct {
	Op string
}

// Error implements the error interface.
func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported query operator %q", e.Op)
}

// MalformedQueryError is returned when a clause is structurally invalid:
// a parameter of the wrong type for its operator, an unparseable regular
// expression, or an "or" clause missing its sub-clauses.
type MalformedQueryError struct {
	Reason string
}

// Error implements the error interface.
func (e *MalformedQueryError) Error() string {
	return "malformed query: " + e.Reason
}

func malformed(format string, args ...any) error {
	return &MalformedQueryError{Reason: fmt.Sprintf(format, args...)}
}

// IsUnsupportedOperator reports whether err is an UnsupportedOperatorError.
// Uses errors.As to handle wrapped errors.
func IsUnsupportedOperator(err error) bool {
	var ue *UnsupportedOperatorError
	return errors.As(err, &ue)
}

// IsMalformedQuery reports whether err is a MalformedQueryError.
func IsMalformedQuery(err error) bool {
	var me *MalformedQueryError
	return errors.As(err, &me)
}
