// Package errors provides the structured error type shared across the sync
// service: every failure carries the operation it interrupted, the component
// it came from, and whether a retry can help.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failure for callers that branch on error class
// rather than on the wrapped cause.
type ErrorCode string

const (
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeFanoutFailure     ErrorCode = "FANOUT_FAILURE"
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
)

// Operation names the sync operation during which an error occurred.
type Operation string

const (
	OpPush      Operation = "push"
	OpPull      Operation = "pull"
	OpSubscribe Operation = "subscribe"
	OpPublish   Operation = "publish"
	OpStore     Operation = "store"
	OpLoad      Operation = "load"
	OpClose     Operation = "close"
)

// SyncError is the structured error for sync operations.
type SyncError struct {
	// Operation during which the error occurred.
	Op Operation

	// Component that generated the error (e.g. "store", "fanout").
	Component string

	// Underlying error.
	Err error

	// Whether the operation can be retried.
	Retryable bool

	// Error code for the error class.
	Code ErrorCode
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// New creates a new SyncError.
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information.
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewStorageError creates a storage-related SyncError. Storage failures are
// retryable: the batch transaction either committed or it did not, and
// replaying a committed batch is a no-op.
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a validation-related SyncError. Validation
// failures are client mistakes; retrying the same input cannot succeed.
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewFanoutError creates a fanout-related SyncError. Fanout is best-effort;
// these errors are logged by the publisher, never returned to clients.
func NewFanoutError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeFanoutFailure,
		Op:        op,
		Component: "fanout",
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError creates a network-related SyncError.
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// IsRetryable checks whether an error is a retryable SyncError.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsValidation checks whether an error is a validation SyncError, which
// transports surface as a client error rather than a server one.
func IsValidation(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == ErrCodeValidationFailure
	}
	return false
}
