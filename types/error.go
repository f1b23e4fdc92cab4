package types

import "fmt"

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Workflow error codes
const (
	ErrWorkflowNotFound   ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrExecutionNotFound  ErrorCode = "EXECUTION_NOT_FOUND"
	ErrInvalidDefinition  ErrorCode = "INVALID_DEFINITION"
	ErrExecutionDeadlock  ErrorCode = "EXECUTION_DEADLOCK"
	ErrExecutionCancelled ErrorCode = "EXECUTION_CANCELLED"
	ErrStepFailed         ErrorCode = "STEP_FAILED"
)

// Dispatch error codes
const (
	ErrAgentUnknown   ErrorCode = "AGENT_UNKNOWN"
	ErrAgentTimeout   ErrorCode = "AGENT_TIMEOUT"
	ErrAgentUpstream  ErrorCode = "AGENT_UPSTREAM"
	ErrCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// Task error codes
const (
	ErrTaskNotFound     ErrorCode = "TASK_NOT_FOUND"
	ErrQueueUnavailable ErrorCode = "QUEUE_UNAVAILABLE"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Agent      string    `json:"agent,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent sets the agent the error originated from.
func (e *Error) WithAgent(agent string) *Error {
	e.Agent = agent
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
