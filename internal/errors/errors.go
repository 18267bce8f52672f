package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Validation errors - invalid input data
	ErrorTypeValidation
	// Database errors - store connection or query failures
	ErrorTypeDatabase
	// FileSystem errors - file I/O failures
	ErrorTypeFileSystem
	// Internal errors - unexpected internal state
	ErrorTypeInternal
	// Security errors - credential and keychain failures
	ErrorTypeSecurity

	// UnknownReference - a command names a provisional id that the batch never created
	ErrorTypeUnknownReference
	// EmptyBatch - commit requested with no pending commands
	ErrorTypeEmptyBatch
	// TransactionRejected - the store refused the atomic submission
	ErrorTypeTransactionRejected
	// StaleParent - the parent revision no longer owns the head link
	ErrorTypeStaleParent
	// Compile - the batch could not be turned into statements
	ErrorTypeCompile
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, caller must react
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Sentinels for errors.Is matching. Matching compares the Type only.
var (
	ErrUnknownReference    = &Error{Type: ErrorTypeUnknownReference}
	ErrEmptyBatch          = &Error{Type: ErrorTypeEmptyBatch}
	ErrTransactionRejected = &Error{Type: ErrorTypeTransactionRejected}
	ErrStaleParent         = &Error{Type: ErrorTypeStaleParent}
	ErrCompile             = &Error{Type: ErrorTypeCompile}
	ErrConfig              = &Error{Type: ErrorTypeConfig}
	ErrValidation          = &Error{Type: ErrorTypeValidation}
	ErrDatabase            = &Error{Type: ErrorTypeDatabase}
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
	Timestamp  string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n",
		severityString(e.Severity),
		e.Type.String(),
		e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeDatabase:
		return "DATABASE"
	case ErrorTypeFileSystem:
		return "FILESYSTEM"
	case ErrorTypeInternal:
		return "INTERNAL"
	case ErrorTypeSecurity:
		return "SECURITY"
	case ErrorTypeUnknownReference:
		return "UNKNOWN_REFERENCE"
	case ErrorTypeEmptyBatch:
		return "EMPTY_BATCH"
	case ErrorTypeTransactionRejected:
		return "TRANSACTION_REJECTED"
	case ErrorTypeStaleParent:
		return "STALE_PARENT"
	case ErrorTypeCompile:
		return "COMPILE"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(3),
		Timestamp:  now(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(3),
		Timestamp:  now(),
	}
}

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// ValidationErrorf creates a validation error with formatting
func ValidationErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, SeverityHigh, fmt.Sprintf(format, args...))
}

// DatabaseError wraps a store error
func DatabaseError(err error, message string) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, message)
}

// DatabaseErrorf wraps a store error with formatting
func DatabaseErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, fmt.Sprintf(format, args...))
}

// FileSystemError wraps a filesystem error
func FileSystemError(err error, message string) *Error {
	return Wrap(err, ErrorTypeFileSystem, SeverityHigh, message)
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// SecurityError wraps a credential storage failure
func SecurityError(err error, message string) *Error {
	return Wrap(err, ErrorTypeSecurity, SeverityHigh, message)
}

// UnknownReference reports a reference to an entity the batch cannot resolve.
// It is raised before the batch is touched.
func UnknownReference(ref string) *Error {
	return New(ErrorTypeUnknownReference, SeverityHigh,
		fmt.Sprintf("unknown entity reference %s", ref)).WithContext("ref", ref)
}

// EmptyBatch reports a commit with nothing to submit.
func EmptyBatch() *Error {
	return New(ErrorTypeEmptyBatch, SeverityMedium, "nothing to commit: batch is empty")
}

// TransactionRejected wraps the store's refusal of a commit.
func TransactionRejected(err error) *Error {
	return Wrap(err, ErrorTypeTransactionRejected, SeverityCritical, "transaction rejected by store")
}

// StaleParent reports that the parent revision could not be advanced.
func StaleParent(parent int64) *Error {
	return New(ErrorTypeStaleParent, SeverityCritical,
		fmt.Sprintf("parent revision %d is not the current head", parent)).WithContext("parent", parent)
}

// CompileErrorf reports an inconsistent batch found while compiling.
func CompileErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeCompile, SeverityCritical, fmt.Sprintf(format, args...))
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if e, ok := err.(*Error); ok {
		return e.IsFatal()
	}

	return false
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	if err == nil {
		return ErrorTypeInternal
	}

	if e, ok := err.(*Error); ok {
		return e.Type
	}

	return ErrorTypeInternal
}
