// Package toolerrors provides a structured error type for tool invocation
// failures. ToolError preserves message and causal context while still
// implementing the standard error interface, so callers can use errors.Is/As
// across retries and specialist hops.
package toolerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ToolError represents a structured tool failure. Tool errors may be nested
// via Cause to retain diagnostics across retries.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying tool error, enabling chains via Unwrap.
	Cause *ToolError
}

// New constructs a ToolError with the given message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause constructs a ToolError that wraps an underlying error.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns the result as a ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error, supporting errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// ErrorCode is the closed set of heuristic error categories the Engine
// records on an ExecutionStep.
type ErrorCode string

const (
	// ErrToolNotFound indicates the registry has no definition for the tool.
	ErrToolNotFound ErrorCode = "TOOL_NOT_FOUND"
	// ErrPermissionDenied indicates the caller lacked access to the tool.
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	// ErrTimeout indicates the tool call exceeded its allotted time.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrNetwork indicates a transport-level failure reaching the tool host.
	ErrNetwork ErrorCode = "NETWORK_ERROR"
	// ErrExecutionFailed is the catch-all for any other tool failure.
	ErrExecutionFailed ErrorCode = "EXECUTION_FAILED"
)

// Classify maps an error to one of the closed ErrorCode values by substring
// inspection. This is intentionally a heuristic, not a typed-error dispatch:
// tool hosts are external and their error strings are not standardized.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrExecutionFailed
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "not found", "unknown tool", "no such tool"):
		return ErrToolNotFound
	case containsAny(msg, "permission", "denied", "forbidden", "not allowed", "unauthorized"):
		return ErrPermissionDenied
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout
	case containsAny(msg, "connection refused", "econnrefused", "network", "dial tcp", "no route to host"):
		return ErrNetwork
	default:
		return ErrExecutionFailed
	}
}

func containsAny(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
