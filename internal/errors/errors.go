// Package errors defines structured errors for the ingestion pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
	ErrMissingConfig    = errors.New("missing required configuration")
	ErrInternalError    = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConnection  ErrorType = "connection"
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeAPI         ErrorType = "api"
	ErrorTypeTimeout     ErrorType = "timeout"
)

// PipelineError is a structured error for ingestion and fan-out operations.
type PipelineError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "upsert_incidence", "run_backend")
	Backend    string // Backend identifier if the failure came from an integration
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *PipelineError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s failed on backend %s: %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *PipelineError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	case ErrMissingConfig:
		return e.Type == ErrorTypeConfig
	}

	return errors.Is(e.Err, target)
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(errorType ErrorType, op string, err error) *PipelineError {
	return &PipelineError{
		Type:      errorType,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType, err),
	}
}

// WithBackend adds the backend identifier to the error
func (e *PipelineError) WithBackend(backend string) *PipelineError {
	e.Backend = backend
	return e
}

// WithStatusCode adds HTTP status code to the error
func (e *PipelineError) WithStatusCode(code int) *PipelineError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

func isRetryable(errorType ErrorType, err error) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypePersistence:
		return true
	case ErrorTypeConfig, ErrorTypeValidation, ErrorTypeNotFound:
		return false
	default:
		if err != nil {
			return !errors.Is(err, ErrInvalidInput)
		}
		return true
	}
}

// WrapConnectionError wraps a connection error with context
func WrapConnectionError(op string, err error) error {
	return NewPipelineError(ErrorTypeConnection, op, err)
}

// WrapPersistenceError wraps a storage failure with context
func WrapPersistenceError(op string, err error) error {
	return NewPipelineError(ErrorTypePersistence, op, err)
}

// WrapAPIError wraps a third-party API error with context
func WrapAPIError(op, backend string, err error, statusCode int) error {
	return NewPipelineError(ErrorTypeAPI, op, err).WithBackend(backend).WithStatusCode(statusCode)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}
