package logging

import (
	"errors"
	"fmt"
)

// OperationError annotates an error with operation metadata.
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

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, scanID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, ScanID: scanID, Err: err}
}

// FailedOperation reports the innermost operation recorded in err's chain.
// Nested wrapping is common (usecase.analyze around apiclient.resolve_endpoint),
// and the innermost name locates the failure.
func FailedOperation(err error) (string, bool) {
	var (
		op    string
		found bool
	)
	for err != nil {
		var oe *OperationError
		if !errors.As(err, &oe) {
			break
		}
		op, found = oe.Operation, true
		err = oe.Err
	}
	return op, found
}
