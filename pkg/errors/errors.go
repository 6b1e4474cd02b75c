package errors

import (
	"errors"
	"fmt"
)

// Machine-readable codes carried by Error. Callers branch on these via the
// Is* predicates instead of matching message text.
const (
	// CodeValidation marks a malformed inbound request, rejected before any
	// unit logic runs.
	CodeValidation = "validation"

	// CodeConfiguration marks a configuration document rejected during the
	// customization stage.
	CodeConfiguration = "configuration"

	// CodeDuplicatePath marks a registration attempt for a path that is
	// already taken. The colliding unit is rejected; the incumbent stays.
	CodeDuplicatePath = "duplicate_path"

	// CodeLifecycle marks a failed lifecycle transition (initialize or
	// activate). Stages already completed are not rolled back.
	CodeLifecycle = "lifecycle"

	// CodeIllegalState marks an operation attempted while the runtime is
	// not activated.
	CodeIllegalState = "illegal_state"
)

var (
	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrNoResponse indicates that no response was received for a request
	ErrNoResponse = errors.New("no response received")

	// ErrNotFound indicates that no unit answers the requested path
	ErrNotFound = errors.New("no unit registered for path")
)

// Error represents a structured runtime error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new runtime error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidation creates a validation error
func NewValidation(message string, err error) *Error {
	return NewError(CodeValidation, message, err)
}

// NewConfiguration creates a configuration error
func NewConfiguration(message string, err error) *Error {
	return NewError(CodeConfiguration, message, err)
}

// NewDuplicatePath creates a duplicate path error for the given path
func NewDuplicatePath(path string) *Error {
	return NewError(CodeDuplicatePath, fmt.Sprintf("path %q is already registered", path), nil)
}

// NewLifecycle creates a lifecycle error for the named stage
func NewLifecycle(stage string, err error) *Error {
	return NewError(CodeLifecycle, fmt.Sprintf("%s failed", stage), err)
}

// NewIllegalState creates an illegal state error
func NewIllegalState(message string) *Error {
	return NewError(CodeIllegalState, message, nil)
}

// CodeOf returns the code of err if it is (or wraps) an Error, else ""
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation checks if an error carries the validation code
func IsValidation(err error) bool {
	return CodeOf(err) == CodeValidation
}

// IsConfiguration checks if an error carries the configuration code
func IsConfiguration(err error) bool {
	return CodeOf(err) == CodeConfiguration
}

// IsDuplicatePath checks if an error carries the duplicate path code
func IsDuplicatePath(err error) bool {
	return CodeOf(err) == CodeDuplicatePath
}

// IsLifecycle checks if an error carries the lifecycle code
func IsLifecycle(err error) bool {
	return CodeOf(err) == CodeLifecycle
}

// IsIllegalState checks if an error carries the illegal state code
func IsIllegalState(err error) bool {
	return CodeOf(err) == CodeIllegalState
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsNotFound checks if an error is a resolution miss
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
