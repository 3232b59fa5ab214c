package logging

import (
	"errors"
	"fmt"
)

// OperationError annotates a pipeline error with the stage that produced it.
type OperationError struct {
	Operation string
	ScanID    string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.ScanID != "" {
		return fmt.Sprintf("%s (scan_id=%s): %v", e.Operation, e.ScanID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the operation and scan id. A nil err stays nil.
func NewOperationError(operation, scanID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, ScanID: scanID, Err: err}
}

// OperationOf returns the innermost operation name recorded on err, or "".
func OperationOf(err error) string {
	var op string
	for err != nil {
		var opErr *OperationError
		if !errors.As(err, &opErr) {
			break
		}
		op = opErr.Operation
		err = opErr.Err
	}
	return op
}
