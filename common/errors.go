package common

import (
	"errors"
	"strings"
)

// ErrNotFound covers rows that do not exist and rows owned by another
// user; callers cannot tell the two apart.
var ErrNotFound = errors.New("not found")

// ValidationError aggregates every field violation found in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, ", ")
}

func validationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}
