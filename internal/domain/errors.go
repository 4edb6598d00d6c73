package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnsupported     = errors.New("unsupported operation")
	ErrInternal        = errors.New("internal error")
	ErrUnavailable     = errors.New("service unavailable")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Specific errors.
var (
	ErrCollectionNotFound  = fmt.Errorf("collection: %w", ErrNotFound)
	ErrFeatureNotFound     = fmt.Errorf("feature: %w", ErrNotFound)
	ErrProcessNotFound     = fmt.Errorf("process: %w", ErrNotFound)
	ErrPackageNotFound     = fmt.Errorf("geopackage: %w", ErrNotFound)
	ErrLayerNotFound       = fmt.Errorf("layer: %w", ErrNotFound)
	ErrInvalidLimit        = fmt.Errorf("limit: %w", ErrInvalidInput)
	ErrInvalidBBox         = fmt.Errorf("bbox: %w", ErrInvalidInput)
	ErrInvalidSRID         = fmt.Errorf("srid: %w", ErrInvalidInput)
	ErrInvalidProcessGraph = fmt.Errorf("process graph: %w", ErrInvalidInput)
	ErrUnsupportedFormat   = fmt.Errorf("output format: %w", ErrUnsupported)
	ErrMissingToken        = fmt.Errorf("access token: %w", ErrUnauthenticated)
	ErrNotReady            = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrStorageUnavailable  = fmt.Errorf("storage: %w", ErrUnavailable)
	ErrRemoteUnavailable   = fmt.Errorf("geodb: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string // Field that failed validation
	Value      any    // The invalid value
	Constraint string // The constraint that was violated
	Message    string // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RemoteError represents a failed call against the remote store.
type RemoteError struct {
	Operation  string // Remote operation (rpc name or table read)
	Collection string // Collection identifier, if any
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("remote error during %s for collection %s: %v",
			e.Operation, e.Collection, e.Err)
	}
	return fmt.Sprintf("remote error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ProcessError represents a failure while executing an openEO process.
type ProcessError struct {
	ProcessID string // Process identifier
	NodeID    string // Process graph node, if any
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("process %s (node %s) failed: %v", e.ProcessID, e.NodeID, e.Err)
	}
	return fmt.Sprintf("process %s failed: %v", e.ProcessID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}

// RequestError is a malformed request whose message is shown to the
// client verbatim.
type RequestError struct {
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error type.
func (e *RequestError) Unwrap() error {
	return ErrInvalidProcessGraph
}
