package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/dan-strohschein/qpipe/protocol"
)

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrUsage              = errors.New("usage error")
	ErrConnection         = errors.New("connection error")
	ErrProtocol           = errors.New("protocol error")
	ErrTransactionAborted = errors.New("transaction aborted")
	ErrInvalidBatch       = errors.New("batch is invalid")
)

// UsageError reports a caller mistake detected before any I/O.
// It never invalidates a batch.
type UsageError struct {
	Code    string                 `json:"code"`
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *UsageError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Is reports whether target is ErrUsage.
func (e *UsageError) Is(target error) bool {
	return target == ErrUsage
}

// ConnectionError represents transport failures while queuing or executing.
type ConnectionError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
// Returns JSON format. Use FormatError() for flexible formatting based on debug mode.
func (e *ConnectionError) Error() string {
	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		var terr *protocol.TransportError
		if errors.As(e.Cause, &terr) {
			errorData["cause"] = map[string]interface{}{
				"code":    int(terr.Code),
				"message": terr.Message,
			}
		} else {
			errorData["cause"] = map[string]interface{}{
				"message": e.Cause.Error(),
			}
		}
	}

	b, _ := json.Marshal(errorData)
	return string(b)
}

// FormatError formats the error based on debug mode setting.
// When debugMode=false: returns simple "CODE: message" format.
// When debugMode=true: returns full JSON with stack trace and timestamp.
func (e *ConnectionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying transport error.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// ProtocolError represents replies that do not have the expected shape.
type ProtocolError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{
			"message": e.Cause.Error(),
		}
	}

	b, _ := json.Marshal(errorData)
	return string(b)
}

// FormatError formats the error based on debug mode.
func (e *ProtocolError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// TransactionAbortedError is returned by Exec when the server refused to run
// a transaction: a watched key changed (nil EXEC reply) or a queued command
// was rejected (EXECABORT).
type TransactionAbortedError struct {
	Code      string    `json:"code"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	BatchID   string    `json:"batch_id,omitempty"`
	Reason    string    `json:"reason"`
	Server    string    `json:"server,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *TransactionAbortedError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *TransactionAbortedError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Server != "" {
			return fmt.Sprintf("%s: %s (batch: %s, server: %s)", e.Code, e.Message, e.BatchID, e.Server)
		}
		return fmt.Sprintf("%s: %s (batch: %s)", e.Code, e.Message, e.BatchID)
	}

	errorData := map[string]interface{}{
		"code":     e.Code,
		"type":     e.Type,
		"message":  e.Message,
		"batch_id": e.BatchID,
		"reason":   e.Reason,
	}

	if e.Server != "" {
		errorData["server"] = e.Server
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Is reports whether target is ErrTransactionAborted. An abort is also a
// protocol-level failure, so ErrProtocol matches too.
func (e *TransactionAbortedError) Is(target error) bool {
	return target == ErrTransactionAborted || target == ErrProtocol
}

// InvalidBatchError is returned by every operation on a batch that has been
// invalidated. Cause is the failure that invalidated it.
type InvalidBatchError struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	BatchID string `json:"batch_id,omitempty"`
	Op      string `json:"operation"`
	Cause   error  `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *InvalidBatchError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *InvalidBatchError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (operation: %s, invalidated by: %s)", e.Code, e.Message, e.Op, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s (operation: %s)", e.Code, e.Message, e.Op)
	}

	errorData := map[string]interface{}{
		"code":      e.Code,
		"type":      e.Type,
		"message":   e.Message,
		"batch_id":  e.BatchID,
		"operation": e.Op,
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": FormatError(e.Cause, false)}
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the error that invalidated the batch.
func (e *InvalidBatchError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrInvalidBatch.
func (e *InvalidBatchError) Is(target error) bool {
	return target == ErrInvalidBatch
}

// ErrEmptyCommand creates a UsageError for a command with no arguments.
func ErrEmptyCommand() *UsageError {
	return &UsageError{
		Code:    "E_EMPTY_COMMAND",
		Type:    "USAGE_ERROR",
		Message: "command must have at least one argument",
	}
}

// ErrIndexOutOfRange creates a UsageError for reply access past the end.
func ErrIndexOutOfRange(index, size int) *UsageError {
	return &UsageError{
		Code:    "E_INDEX_OUT_OF_RANGE",
		Type:    "USAGE_ERROR",
		Message: fmt.Sprintf("reply index %d out of range [0, %d)", index, size),
		Details: map[string]interface{}{
			"index": index,
			"size":  size,
		},
	}
}

// ErrWatchNotAllowed creates a UsageError for WATCH outside an empty transaction.
func ErrWatchNotAllowed(reason string) *UsageError {
	return &UsageError{
		Code:    "E_WATCH_NOT_ALLOWED",
		Type:    "USAGE_ERROR",
		Message: reason,
	}
}

// ErrBatchClosed creates a UsageError for operations on a closed batch.
func ErrBatchClosed(op string) *UsageError {
	return &UsageError{
		Code:    "E_BATCH_CLOSED",
		Type:    "USAGE_ERROR",
		Message: fmt.Sprintf("%s called on a closed batch", op),
		Details: map[string]interface{}{
			"operation": op,
		},
	}
}

// newConnectionError wraps a transport failure during op.
func newConnectionError(op, batchID string, cause error) *ConnectionError {
	return &ConnectionError{
		Code:    "E_CONNECTION",
		Type:    "CONNECTION_ERROR",
		Message: fmt.Sprintf("%s failed", op),
		Details: map[string]interface{}{
			"operation": op,
			"batch_id":  batchID,
		},
		Cause:      cause,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// errConnectionBroken reports an operation attempted on an unhealthy transport.
func errConnectionBroken(op, batchID string) *ConnectionError {
	err := newConnectionError(op, batchID, protocol.ClosedError())
	err.Code = "E_CONNECTION_BROKEN"
	err.Message = "connection is broken"
	return err
}

// newProtocolError reports a reply of unexpected shape.
func newProtocolError(message string, reply *protocol.Reply, cause error) *ProtocolError {
	details := map[string]interface{}{}
	if reply != nil {
		details["reply"] = reply.String()
	}
	return &ProtocolError{
		Code:       "E_PROTOCOL",
		Type:       "PROTOCOL_ERROR",
		Message:    message,
		Details:    details,
		Cause:      cause,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// newTransactionAbortedError builds the error for a refused EXEC.
func newTransactionAbortedError(batchID, reason, server string) *TransactionAbortedError {
	return &TransactionAbortedError{
		Code:      "E_TX_ABORTED",
		Type:      "TRANSACTION_ERROR",
		Message:   "transaction aborted by server",
		BatchID:   batchID,
		Reason:    reason,
		Server:    server,
		Timestamp: time.Now(),
	}
}

// newInvalidBatchError reports op attempted after invalidation.
func newInvalidBatchError(batchID, op string, cause error) *InvalidBatchError {
	return &InvalidBatchError{
		Code:    "E_INVALID_BATCH",
		Type:    "STATE_ERROR",
		Message: "batch was invalidated by an earlier failure",
		BatchID: batchID,
		Op:      op,
		Cause:   cause,
	}
}

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs) // Skip captureStackTrace, the error constructor, and runtime.Callers

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)",
			frame.Function,
			frame.File,
			frame.Line,
		))

		if !more {
			break
		}
	}

	return frames
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	var formatter debugFormatter
	if errors.As(err, &formatter) {
		return formatter.FormatError(debugMode)
	}

	return err.Error()
}
