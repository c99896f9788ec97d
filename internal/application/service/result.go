package service

import (
	"errors"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/batch"
	"github.com/garyjia/cash-clearing/internal/application/workflow"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ErrorKind is the caller-facing class of a failed operation
type ErrorKind string

const (
	KindValidation   ErrorKind = "VALIDATION_ERROR"
	KindInvalidState ErrorKind = "INVALID_STATE"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindInternal     ErrorKind = "INTERNAL_ERROR"
)

// internalMessage replaces the text of every unexpected error
const internalMessage = "An internal error occurred"

// ErrorBody describes why an operation failed
type ErrorBody struct {
	Kind    ErrorKind             `json:"kind"`
	Message string                `json:"message"`
	Details []approval.FieldError `json:"details,omitempty"`
}

// Result is the envelope every facade operation returns
type Result struct {
	Success        bool        `json:"success"`
	Data           interface{} `json:"data,omitempty"`
	Error          *ErrorBody  `json:"error,omitempty"`
	Message        string      `json:"message"`
	PreviousStatus string      `json:"previous_status,omitempty"`
	NewStatus      string      `json:"new_status,omitempty"`
	NextSteps      []string    `json:"next_steps,omitempty"`
}

func succeeded(data interface{}, message string) *Result {
	return &Result{Success: true, Data: data, Message: message}
}

// ErrorResult converts err into a failed envelope. Errors that are not one of the
// known domain errors are reported as INTERNAL_ERROR without their text.
func ErrorResult(err error) *Result {
	body := classifyError(err)
	return &Result{
		Success: false,
		Error:   body,
		Message: body.Message,
	}
}

// KindOf returns the error kind ErrorResult would assign to err
func KindOf(err error) ErrorKind {
	return classifyError(err).Kind
}

func classifyError(err error) *ErrorBody {
	var ve *approval.ValidationError
	switch {
	case errors.As(err, &ve):
		return &ErrorBody{Kind: KindValidation, Message: ve.Message, Details: ve.Fields}
	case errors.Is(err, batch.ErrBatchTooLarge),
		errors.Is(err, domainwf.ErrGuardFailed),
		errors.Is(err, workflow.ErrInvalidStep),
		errors.Is(err, workflow.ErrInvalidConfig):
		return &ErrorBody{Kind: KindValidation, Message: err.Error()}
	case errors.Is(err, approval.ErrNotFound),
		errors.Is(err, workflow.ErrWorkflowNotFound):
		return &ErrorBody{Kind: KindNotFound, Message: err.Error()}
	case errors.Is(err, approval.ErrInvalidState),
		errors.Is(err, workflow.ErrInvalidState),
		errors.Is(err, workflow.ErrStepInFlight),
		errors.Is(err, workflow.ErrWorkflowExists):
		return &ErrorBody{Kind: KindInvalidState, Message: err.Error()}
	default:
		return &ErrorBody{Kind: KindInternal, Message: internalMessage}
	}
}
