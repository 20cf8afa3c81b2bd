package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrInvalidMonthName   = fmt.Errorf("month name: %w", ErrInvalidInput)
	ErrInvalidJob         = fmt.Errorf("job: %w", ErrInvalidInput)
	ErrIncompatibleTiles  = fmt.Errorf("tiles: %w", ErrInvalidInput)
	ErrUnsupportedRaster  = fmt.Errorf("raster: %w", ErrUnsupported)
	ErrObjectNotFound     = fmt.Errorf("object: %w", ErrNotFound)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
)

// InvalidMonthNameError is returned when a month name is not one of the
// twelve canonical English month names.
type InvalidMonthNameError struct {
	Name string
}

// Error implements the error interface.
func (e *InvalidMonthNameError) Error() string {
	return fmt.Sprintf("invalid month name %q", e.Name)
}

// Unwrap returns the underlying error type.
func (e *InvalidMonthNameError) Unwrap() error {
	return ErrInvalidMonthName
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidJob
}

// DiscoveryError represents a failure to list one object prefix.
type DiscoveryError struct {
	Prefix string // Listed prefix
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery error for prefix %s: %v", e.Prefix, e.Err)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// DownloadError represents a failed fetch of a single object.
type DownloadError struct {
	Key      string // Object key
	Path     string // Local target path
	Attempts int    // Number of attempts made
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download error for %s -> %s after %d attempt(s): %v",
		e.Key, e.Path, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *DownloadError) Unwrap() error {
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

// MergeError represents a failure to produce the mosaic of one group.
type MergeError struct {
	Dir string // Group directory
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *MergeError) Error() string {
	return fmt.Sprintf("merge error in %s: %v", e.Dir, e.Err)
}

// Unwrap returns the underlying error.
func (e *MergeError) Unwrap() error {
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

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
