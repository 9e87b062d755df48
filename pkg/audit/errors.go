package audit

import (
	"errors"
	"fmt"
)

// ErrChainClosed is returned by appends after Close.
var ErrChainClosed = errors.New("audit: chain closed")

// AppendError indicates a record could not be durably stored within
// the chain's retry window. For sensitive mutations this is escalated
// as fatal for the triggering operation: refusing the operation is
// preferred over losing audit coverage.
type AppendError struct {
	RecordID string
	Cause    error
}

// Error implements the error interface.
func (e *AppendError) Error() string {
	return fmt.Sprintf("audit append failed for record %s: %v", e.RecordID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *AppendError) Unwrap() error { return e.Cause }

// StorageError represents an error from the audit storage backend.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
