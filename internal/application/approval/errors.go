package approval

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidState is returned when a suggestion is no longer PENDING
	ErrInvalidState = errors.New("suggestion is not pending")

	// ErrNotFound is returned when a suggestion does not exist
	ErrNotFound = errors.New("suggestion not found")
)

// FieldError describes one rejected input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when an approval request breaks a business rule.
// Nothing is written when it is returned.
type ValidationError struct {
	Message string
	Fields  []FieldError

	cause error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// IsValidationError reports whether err is a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
