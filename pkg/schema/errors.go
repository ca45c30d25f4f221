package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeExecution      = "EXECUTION_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeCycleDetected  = "CYCLE_DETECTED"
	ErrCodeNodeFailed     = "NODE_FAILED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	Cause   error  `json:"-"`
}

func (e *EngineError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *EngineError) WithNode(nodeID string) *EngineError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// ErrorCode extracts the code from an error chain. Errors that are not
// EngineErrors report as execution errors.
func ErrorCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrCodeExecution
}
