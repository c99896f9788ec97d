package failure

import (
	"errors"
	"fmt"
)

// Error is a structured failure raised inside the workflow. The classifier
// reads its fields instead of parsing them back out of a message.
type Error struct {
	Code          string
	Message       string
	Step          int
	TransactionID string
	BatchID       string
	Err           error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches workflow location to err. An existing *Error keeps its fields
// and only fills the ones it is missing.
func Wrap(err error, code string, step int, batchID, transactionID string) error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		c := *fe
		if c.Code == "" {
			c.Code = code
		}
		if c.Step == 0 {
			c.Step = step
		}
		if c.BatchID == "" {
			c.BatchID = batchID
		}
		if c.TransactionID == "" {
			c.TransactionID = transactionID
		}
		return &c
	}

	return &Error{
		Code:          code,
		Step:          step,
		BatchID:       batchID,
		TransactionID: transactionID,
		Err:           err,
	}
}
