// Package protocol provides error codes and types for transport failures
package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents standardized error codes across transport implementations
type ErrorCode int

const (
	// Connection errors (1000-1099)
	ErrorCodeConnectionRefused ErrorCode = 1001
	ErrorCodeTimeout           ErrorCode = 1002
	ErrorCodeConnectionClosed  ErrorCode = 1003
	ErrorCodeWriteFailed       ErrorCode = 1004
	ErrorCodeReadFailed        ErrorCode = 1005

	// Protocol errors (2000-2099)
	ErrorCodeProtocolError ErrorCode = 2001
)

// TransportError represents an error with structured error code
type TransportError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	IsRetryable bool                   `json:"isRetryable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("[%d] %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		detailsJSON, _ := json.Marshal(e.Details)
		msg = fmt.Sprintf("%s (details: %s)", msg, string(detailsJSON))
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying I/O error
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a new transport error
func NewTransportError(code ErrorCode, message string, details map[string]interface{}) *TransportError {
	return &TransportError{
		Code:        code,
		Message:     message,
		Details:     details,
		IsRetryable: isRetryable(code),
	}
}

// isRetryable determines if an error code represents a retryable error.
// Only failures that happened before any byte reached the server qualify.
func isRetryable(code ErrorCode) bool {
	switch code {
	case ErrorCodeConnectionRefused:
		return true
	default:
		return false
	}
}

// WithCause attaches the underlying error and returns e
func (e *TransportError) WithCause(err error) *TransportError {
	e.Cause = err
	return e
}

// ConnectionError creates a connection-related transport error
func ConnectionError(message string, details map[string]interface{}) *TransportError {
	return NewTransportError(ErrorCodeConnectionRefused, message, details)
}

// TimeoutError creates a timeout transport error
func TimeoutError(message string, details map[string]interface{}) *TransportError {
	return NewTransportError(ErrorCodeTimeout, message, details)
}

// ClosedError reports an operation on a closed transport
func ClosedError() *TransportError {
	return NewTransportError(ErrorCodeConnectionClosed, "transport is closed", nil)
}

// WriteError wraps a failed write
func WriteError(err error) *TransportError {
	return NewTransportError(ErrorCodeWriteFailed, "failed to write command", nil).WithCause(err)
}

// ReadError wraps a failed read
func ReadError(err error) *TransportError {
	return NewTransportError(ErrorCodeReadFailed, "failed to read reply", nil).WithCause(err)
}

// MalformedReplyError wraps a parse failure
func MalformedReplyError(err error) *TransportError {
	return NewTransportError(ErrorCodeProtocolError, "malformed reply", nil).WithCause(err)
}

// ToJSON serializes the error to JSON
func (e *TransportError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes a transport error from JSON
func FromJSON(data []byte) (*TransportError, error) {
	var err TransportError
	if unmarshalErr := json.Unmarshal(data, &err); unmarshalErr != nil {
		return nil, unmarshalErr
	}
	return &err, nil
}
