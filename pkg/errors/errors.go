// Package errors provides the coded error taxonomy for transitflow.
// It implements structured errors with codes, context, and stack traces.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Resolution errors (1xx)
	CodeStationUnknown   Code = "E101"
	CodeStationAmbiguous Code = "E102"

	// Fetch errors (2xx)
	CodeFetchTransient Code = "E201"
	CodeFetchFatal     Code = "E202"

	// Normalization errors (3xx)
	CodeNormalizeExhausted Code = "E301"

	// Write errors (4xx)
	CodeStorageUnavailable Code = "E401"
	CodeKeyExists          Code = "E402"
	CodeEncodeFailed       Code = "E403"

	// System errors (5xx)
	CodeCanceled Code = "E501"
	CodeTimeout  Code = "E502"

	// Configuration errors (6xx)
	CodeInvalidConfig Code = "E601"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all transitflow errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// StationUnknown reports a station name with no upstream match.
func StationUnknown(name string) *Error {
	return New(CodeStationUnknown, "station not found").WithContext("station", name)
}

// StationAmbiguous reports a station name matching several upstream locations.
func StationAmbiguous(name string, candidates []string) *Error {
	return New(CodeStationAmbiguous, "station name is ambiguous").
		WithContext("station", name).
		WithContext("candidates", candidates)
}

// TransientFetch wraps a retryable upstream failure.
func TransientFetch(err error, url string) *Error {
	return Wrap(err, CodeFetchTransient, "upstream request failed").WithContext("url", url)
}

// FatalFetch wraps a non-retryable upstream failure.
func FatalFetch(err error, url string) *Error {
	return Wrap(err, CodeFetchFatal, "upstream rejected request").WithContext("url", url)
}

// KeyExists reports an attempt to overwrite a stored artifact.
func KeyExists(key string) *Error {
	return New(CodeKeyExists, "artifact already exists").WithContext("key", key)
}

// StorageUnavailable wraps a retryable storage backend failure.
func StorageUnavailable(err error, key string) *Error {
	return Wrap(err, CodeStorageUnavailable, "storage backend unavailable").WithContext("key", key)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *Error {
	return New(CodeCanceled, "operation canceled").
		WithContext("operation", operation)
}

// FromContext converts a context error into a coded error.
// It returns nil for errors that do not originate from a context.
func FromContext(err error, operation string) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, CodeTimeout, "deadline exceeded").WithContext("operation", operation)
	case errors.Is(err, context.Canceled):
		return Wrap(err, CodeCanceled, "operation canceled").WithContext("operation", operation)
	default:
		return nil
	}
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var tfErr *Error
	if errors.As(err, &tfErr) {
		return tfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var tfErr *Error
	if errors.As(err, &tfErr) {
		return tfErr.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeFetchTransient, CodeStorageUnavailable:
		return true
	default:
		return false
	}
}

// IsResolution returns true for station resolution failures.
func IsResolution(err error) bool {
	switch GetCode(err) {
	case CodeStationUnknown, CodeStationAmbiguous:
		return true
	default:
		return false
	}
}

// Reason returns a short machine-friendly label for an error.
func Reason(err error) string {
	switch GetCode(err) {
	case CodeStationUnknown:
		return "station_unknown"
	case CodeStationAmbiguous:
		return "station_ambiguous"
	case CodeFetchTransient:
		return "fetch_transient"
	case CodeFetchFatal:
		return "fetch_fatal"
	case CodeNormalizeExhausted:
		return "normalize_exhausted"
	case CodeStorageUnavailable:
		return "storage_unavailable"
	case CodeKeyExists:
		return "key_exists"
	case CodeEncodeFailed:
		return "encode_failed"
	case CodeCanceled:
		return "canceled"
	case CodeTimeout:
		return "timeout"
	case CodeInvalidConfig:
		return "invalid_config"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "unknown"
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
