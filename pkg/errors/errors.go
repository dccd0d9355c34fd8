// Package errors defines the stable error taxonomy surfaced across the
// ingest, store, and merge boundaries of Flow Core.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"time"
)

// AppError is a standardized, structured application error.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   Severity               `json:"severity"`
}

// Severity classifies how serious an error is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Stable error codes surfaced to submitters (spec.md §7).
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeGraphNotFound   = "GRAPH_NOT_FOUND"
	CodeTraceNotFound   = "TRACE_NOT_FOUND"
	CodeQueueFull       = "QUEUE_FULL"
	CodeInvalidRef      = "INVALID_REFERENCE"
	CodeMergeConflict   = "MERGE_CONFLICT"
	CodeMergeInvalid    = "MERGE_INVALID"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// New creates a standardized error with medium severity.
func New(code, component, operation, message string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	return &AppError{
		Code:       code,
		Message:    message,
		Component:  component,
		Operation:  operation,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
		Severity:   SeverityMedium,
	}
}

// NewWithSeverity creates an error with an explicit severity.
func NewWithSeverity(severity Severity, code, component, operation, message string) *AppError {
	err := New(code, component, operation, message)
	err.Severity = severity
	return err
}

// Error implements the error interface. It never leaks the cause's type, only
// its message, so submitters never observe internal stack context.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Unwrap lets errors.Is / errors.As reach the underlying cause.
func (e *AppError) Unwrap() error { return e.Cause }

// Wrap attaches a cause to the error.
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithMetadata attaches structured context to the error.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Code-specific constructors used throughout the ingest/store/merge path.

func Validation(component, operation, message string) *AppError {
	return New(CodeValidation, component, operation, message)
}

func GraphNotFound(graphID string) *AppError {
	return New(CodeGraphNotFound, "graphstore", "get", "graph not found").
		WithMetadata("graph_id", graphID)
}

func TraceNotFound(traceID string) *AppError {
	return New(CodeTraceNotFound, "tracebuffer", "get", "trace not found").
		WithMetadata("trace_id", traceID)
}

func QueueFull(component string) *AppError {
	return NewWithSeverity(SeverityHigh, CodeQueueFull, component, "enqueue", "queue is full")
}

func InvalidReference(edgeID, missingNodeID string) *AppError {
	return New(CodeInvalidRef, "flowgraph", "add-edge", "edge endpoint not present").
		WithMetadata("edge_id", edgeID).
		WithMetadata("node_id", missingNodeID)
}

func MergeConflict(graphID string) *AppError {
	return NewWithSeverity(SeverityHigh, CodeMergeConflict, "merge", "update-merged", "optimistic retry budget exhausted").
		WithMetadata("graph_id", graphID)
}

func MergeInvalid(graphID, reason string) *AppError {
	return New(CodeMergeInvalid, "merge", "validate", reason).
		WithMetadata("graph_id", graphID)
}

func Unavailable(component, message string) *AppError {
	return NewWithSeverity(SeverityHigh, CodeUnavailable, component, "push", message)
}

func Internal(component, operation string, cause error) *AppError {
	return NewWithSeverity(SeverityCritical, CodeInternal, component, operation, "internal error").Wrap(cause)
}

// IsAppError reports whether err is (or wraps) an *AppError.
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError extracts an *AppError if present.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

// Code returns the stable code of err, or CodeInternal if err is not an
// *AppError.
func Code(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}
