package vellum

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vellum-db/vellum/internal/schema"
)

// DocumentNotFoundError indicates an update or delete whose target id is not
// present in the current read scope.
type DocumentNotFoundError struct {
	ID string
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", e.ID)
}

// ValidationError aggregates every schema violation found in one call, so a
// batch with one bad document still reports its siblings' problems.
type ValidationError struct {
	Violations []*schema.ValidationError
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "validation failed: " + e.Violations[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d violations:", len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString("\n  " + v.Error())
	}
	return b.String()
}

// IsDocumentNotFound reports whether err is a DocumentNotFoundError.
func IsDocumentNotFound(err error) bool {
	var target *DocumentNotFoundError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
