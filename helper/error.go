package helper

import (
	"fmt"
)

// Error wraps an underlying error with the operation that failed.
type Error struct {
	Operation string
	Original  error
}

// NewError creates a new error for the given operation.
// A nil err yields a nil error so call sites can wrap unconditionally.
func NewError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Operation: operation,
		Original:  err,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Original)
}

// Unwrap returns the original error
func (e *Error) Unwrap() error {
	return e.Original
}
