// Package errors defines custom error types for gaze
package errors

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ResourceError indicates exhaustion of native watch handles
	ResourceError ErrorType = "resource"
	// TransientError indicates a path vanished or changed under a stat/listing
	TransientError ErrorType = "transient"
	// PatternError indicates a malformed glob pattern
	PatternError ErrorType = "pattern"
	// ProtocolError indicates a backend sent an event the engine cannot reason about
	ProtocolError ErrorType = "protocol"
	// FileSystemError indicates other file system related issues
	FileSystemError ErrorType = "filesystem"
	// ValidationError indicates input validation issues
	ValidationError ErrorType = "validation"
	// ConfigError indicates configuration issues
	ConfigError ErrorType = "config"
	// StateError indicates an operation on a watcher in the wrong state
	StateError ErrorType = "state"
)

// Sentinel errors, matched with errors.Is
var (
	ErrTooManyOpenFiles = New(ResourceError, "too many open files", nil)
	ErrProtocol         = New(ProtocolError, "unknown raw event", nil)
	ErrWatcherClosed    = New(StateError, "watcher is closed", nil)
	ErrNotWatched       = New(StateError, "path is not watched", nil)
)

// GazeError is the base error type for all gaze errors
type GazeError struct {
	Type      ErrorType
	Message   string
	Err       error
	Retryable bool
	Context   map[string]interface{}
}

// Error implements the error interface
func (e *GazeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *GazeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a GazeError of the same type and message.
// It lets wrapped sentinels match errors.Is(err, ErrTooManyOpenFiles).
func (e *GazeError) Is(target error) bool {
	t, ok := target.(*GazeError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// IsRetryable returns whether the error is retryable
func (e *GazeError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds context to the error
func (e *GazeError) WithContext(key string, value interface{}) *GazeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new GazeError
func New(errType ErrorType, message string, err error) *GazeError {
	return &GazeError{
		Type:      errType,
		Message:   message,
		Err:       err,
		Retryable: false,
	}
}

// NewRetryable creates a new retryable GazeError
func NewRetryable(errType ErrorType, message string, err error) *GazeError {
	return &GazeError{
		Type:      errType,
		Message:   message,
		Err:       err,
		Retryable: true,
	}
}

func isType(err error, t ErrorType) bool {
	var ge *GazeError
	if errors.As(err, &ge) {
		return ge.Type == t
	}
	return false
}

// IsResourceError checks if the error is a resource exhaustion error
func IsResourceError(err error) bool {
	return isType(err, ResourceError)
}

// IsPatternError checks if the error is a glob pattern error
func IsPatternError(err error) bool {
	return isType(err, PatternError)
}

// IsProtocolError checks if the error is a backend protocol violation
func IsProtocolError(err error) bool {
	return isType(err, ProtocolError)
}

// IsFileSystemError checks if the error is a file system error
func IsFileSystemError(err error) bool {
	return isType(err, FileSystemError)
}

// IsConfigError checks if the error is a configuration error
func IsConfigError(err error) bool {
	return isType(err, ConfigError)
}

// IsTooManyOpenFiles reports whether err means the process ran out of native
// watch handles (file descriptors or inotify watches).
func IsTooManyOpenFiles(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTooManyOpenFiles) {
		return true
	}
	return isExhausted(err)
}

// IsTransient reports whether err is a filesystem race that should simply skip
// the current reconciliation pass.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if isType(err, TransientError) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || isRace(err)
}

// Constructor functions for each error type

// NewResourceError wraps a native exhaustion error for path
func NewResourceError(path string, err error) *GazeError {
	e := NewRetryable(ResourceError, "too many open files", err)
	return e.WithContext("path", path)
}

// NewPatternError creates a new malformed pattern error
func NewPatternError(pattern string, err error) *GazeError {
	return New(PatternError, fmt.Sprintf("invalid pattern %q", pattern), err)
}

// NewProtocolError creates a new backend protocol violation error
func NewProtocolError(path string, err error) *GazeError {
	return New(ProtocolError, fmt.Sprintf("unknown raw event for path %q", path), err)
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, err error) *GazeError {
	return New(FileSystemError, message, err)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *GazeError {
	return New(ValidationError, message, err)
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *GazeError {
	return New(ConfigError, message, err)
}

// NewDatabaseError creates a new database error (using FileSystemError type)
func NewDatabaseError(message string, err error) *GazeError {
	return New(FileSystemError, message, err)
}
