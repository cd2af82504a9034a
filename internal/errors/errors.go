// Package errors provides structured error types for TestFlow.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for TestFlow operations.
const (
	// Config errors
	CodeConfigMissingField = "CONFIG_001" // Missing required field
	CodeConfigInvalidValue = "CONFIG_002" // Invalid value type

	// Script errors
	CodeStructuralParse      = "SCRIPT_001" // Window markers missing or malformed structure
	CodeUnresolvedReference  = "SCRIPT_002" // Jump target taken at run time does not exist
	CodeRangeFormat          = "RANGE_001"  // Malformed Range definition
	CodeRangeLength          = "RANGE_002"  // Range length differs from loop iterations
	CodeExpression           = "EXPR_001"   // Unsupported or malformed expression
	CodeMissingVariable      = "VAR_001"    // ${name} has no declaration
	CodeWorkflowNotFound     = "WORKFLOW_001"
	CodeWorkflowDepthReached = "WORKFLOW_002"

	// Execution errors
	CodeTransport = "TRANSPORT_001" // Instrument send/query/read failed

	// Result errors
	CodeWriteContention = "RESULT_001" // Output file stayed locked
	CodeUnknownColumn   = "RESULT_002" // Column name not in header

	// IO errors
	CodeIOFileNotFound = "IO_001" // File not found
	CodeIOPermission   = "IO_002" // Permission denied
	CodeIOReadError    = "IO_004" // Read error
	CodeIOWriteError   = "IO_005" // Write error
)

// FlowError is the structured error type for TestFlow operations.
type FlowError struct {
	Code    string         `json:"code"`              // Error code (e.g., "SCRIPT_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (line, node, column...)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *FlowError) WithDetail(key string, value any) *FlowError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *FlowError) MarshalJSON() ([]byte, error) {
	type alias FlowError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new FlowError.
func New(code, message string) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new FlowError with formatted message.
func Newf(code, format string, args ...any) *FlowError {
	return &FlowError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a FlowError.
func Wrap(code, message string, err error) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted FlowError.
func Wrapf(code string, err error, format string, args ...any) *FlowError {
	return &FlowError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- Config Errors ---

// ConfigMissingField creates an error for missing config field.
func ConfigMissingField(field string) *FlowError {
	return Newf(CodeConfigMissingField, "missing required config field: %s", field).
		WithDetail("field", field)
}

// ConfigInvalidValue creates an error for invalid config value.
func ConfigInvalidValue(field string, value any, reason string) *FlowError {
	return Newf(CodeConfigInvalidValue, "invalid config value for %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// --- Script Errors ---

// StructuralParse creates an error for a script whose window or block structure is broken.
func StructuralParse(line int, reason string) *FlowError {
	err := Newf(CodeStructuralParse, "structural parse error: %s", reason)
	if line > 0 {
		err.WithDetail("line", line)
	}
	return err
}

// UnresolvedReference creates an error for a jump whose target does not exist.
func UnresolvedReference(line int, target string) *FlowError {
	return Newf(CodeUnresolvedReference, "reference %s at line %d cannot be resolved", target, line).
		WithDetail("line", line).
		WithDetail("target", target)
}

// RangeFormat creates an error for a malformed Range line.
func RangeFormat(line int, text string, reason string) *FlowError {
	return Newf(CodeRangeFormat, "invalid Range format at line %d: %s", line, reason).
		WithDetail("line", line).
		WithDetail("text", text)
}

// RangeLength creates an error for a variable whose values do not cover its loop.
func RangeLength(variable string, got, want int) *FlowError {
	return Newf(CodeRangeLength, "variable %s has %d values, governing loop has %d iterations", variable, got, want).
		WithDetail("variable", variable).
		WithDetail("values", got).
		WithDetail("iterations", want)
}

// Expression creates an error for an expression outside the supported grammar.
func Expression(expr string, reason string) *FlowError {
	return Newf(CodeExpression, "cannot evaluate %q: %s", expr, reason).
		WithDetail("expression", expr)
}

// MissingVariable creates an error for a reference to an undeclared variable.
func MissingVariable(name string) *FlowError {
	return Newf(CodeMissingVariable, "variable not declared: %s", name).
		WithDetail("variable", name)
}

// WorkflowNotFound creates an error for a Work_flow call with no captured block.
func WorkflowNotFound(name string) *FlowError {
	return Newf(CodeWorkflowNotFound, "workflow not found: %s", name).
		WithDetail("workflow", name)
}

// WorkflowDepthReached creates an error for runaway workflow recursion.
func WorkflowDepthReached(name string, depth int) *FlowError {
	return Newf(CodeWorkflowDepthReached, "workflow %s exceeds maximum nesting depth %d", name, depth).
		WithDetail("workflow", name).
		WithDetail("depth", depth)
}

// --- Execution Errors ---

// Transport creates an error for a failed instrument call.
func Transport(address, operation string, err error) *FlowError {
	return Wrapf(CodeTransport, err, "%s on %s failed", operation, address).
		WithDetail("address", address).
		WithDetail("operation", operation)
}

// --- Result Errors ---

// WriteContention creates an error for an output file that stayed locked.
func WriteContention(path string, attempts int, err error) *FlowError {
	return Wrapf(CodeWriteContention, err, "could not write %s after %d attempts", path, attempts).
		WithDetail("path", path).
		WithDetail("attempts", attempts)
}

// UnknownColumn creates an error for a cell update naming a column absent from the header.
func UnknownColumn(column string) *FlowError {
	return Newf(CodeUnknownColumn, "column %q not found in header", column).
		WithDetail("column", column)
}

// --- IO Errors ---

// IOFileNotFound creates an error for missing file.
func IOFileNotFound(path string) *FlowError {
	return Newf(CodeIOFileNotFound, "file not found: %s", path).
		WithDetail("path", path)
}

// IOPermissionDenied creates an error for permission issues.
func IOPermissionDenied(path string, err error) *FlowError {
	return Wrap(CodeIOPermission, "permission denied", err).
		WithDetail("path", path)
}

// IOReadError creates an error for read failures.
func IOReadError(path string, err error) *FlowError {
	return Wrap(CodeIOReadError, "failed to read file", err).
		WithDetail("path", path)
}

// IOWriteError creates an error for write failures.
func IOWriteError(path string, err error) *FlowError {
	return Wrap(CodeIOWriteError, "failed to write file", err).
		WithDetail("path", path)
}

// HasCode checks if an error is a FlowError with the given code.
// It handles wrapped errors by unwrapping to find a FlowError.
func HasCode(err error, code string) bool {
	var ferr *FlowError
	if errors.As(err, &ferr) {
		return ferr.Code == code
	}
	return false
}

// Code returns the error code if err is a FlowError, empty string otherwise.
// It handles wrapped errors by unwrapping to find a FlowError.
func Code(err error) string {
	var ferr *FlowError
	if errors.As(err, &ferr) {
		return ferr.Code
	}
	return ""
}
