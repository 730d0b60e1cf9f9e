package engine

import (
	"errors"
	"fmt"
)

// ErrorClass groups error codes by the component that reports them.
type ErrorClass string

const (
	// ErrorClassDefinition covers malformed bundle definitions.
	ErrorClassDefinition ErrorClass = "definition"

	// ErrorClassBundle covers bundle lifecycle failures (upload, shape, versions).
	ErrorClassBundle ErrorClass = "bundle"

	// ErrorClassConflict indicates the catalog is in use or already holds the object.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassTask covers task and job state machine violations.
	ErrorClassTask ErrorClass = "task"

	// ErrorClassLock indicates a job lock could not be taken.
	ErrorClassLock ErrorClass = "lock"

	// ErrorClassNotFound indicates a referenced record does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInternal is for everything else.
	ErrorClassInternal ErrorClass = "internal"
)

// Error codes reported to operators. They are stable strings.
const (
	ErrCodeStackLoad                  = "STACK_LOAD_ERROR"
	ErrCodeInvalidObjectDefinition    = "INVALID_OBJECT_DEFINITION"
	ErrCodeInvalidActionDefinition    = "INVALID_ACTION_DEFINITION"
	ErrCodeInvalidConfigDefinition    = "INVALID_CONFIG_DEFINITION"
	ErrCodeInvalidComponentDefinition = "INVALID_COMPONENT_DEFINITION"
	ErrCodeInvalidUpgradeDefinition   = "INVALID_UPGRADE_DEFINITION"
	ErrCodeInvalidVersionDefinition   = "INVALID_VERSION_DEFINITION"
	ErrCodeComponentConstraint        = "COMPONENT_CONSTRAINT_ERROR"
	ErrCodeWrongName                  = "WRONG_NAME"
	ErrCodeConfigType                 = "CONFIG_TYPE_ERROR"
	ErrCodeConfigValue                = "CONFIG_VALUE_ERROR"
	ErrCodeBundle                     = "BUNDLE_ERROR"
	ErrCodeBundleConflict             = "BUNDLE_CONFLICT"
	ErrCodeBundleVersion              = "BUNDLE_VERSION_ERROR"
	ErrCodeBundlePolicy               = "BUNDLE_POLICY_VIOLATION"
	ErrCodeBundleNotFound             = "BUNDLE_NOT_FOUND"
	ErrCodeUpgrade                    = "UPGRADE_ERROR"
	ErrCodeTask                       = "TASK_ERROR"
	ErrCodeTaskNotFound               = "TASK_NOT_FOUND"
	ErrCodeJobNotFound                = "JOB_NOT_FOUND"
	ErrCodeActionNotFound             = "ACTION_NOT_FOUND"
	ErrCodeObjectNotFound             = "OBJECT_NOT_FOUND"
	ErrCodeLock                       = "LOCK_ERROR"
	ErrCodeInternal                   = "INTERNAL_ERROR"
)

var codeClasses = map[string]ErrorClass{
	ErrCodeStackLoad:                  ErrorClassDefinition,
	ErrCodeInvalidObjectDefinition:    ErrorClassDefinition,
	ErrCodeInvalidActionDefinition:    ErrorClassDefinition,
	ErrCodeInvalidConfigDefinition:    ErrorClassDefinition,
	ErrCodeInvalidComponentDefinition: ErrorClassDefinition,
	ErrCodeInvalidUpgradeDefinition:   ErrorClassDefinition,
	ErrCodeInvalidVersionDefinition:   ErrorClassDefinition,
	ErrCodeComponentConstraint:        ErrorClassDefinition,
	ErrCodeWrongName:                  ErrorClassDefinition,
	ErrCodeConfigType:                 ErrorClassDefinition,
	ErrCodeConfigValue:                ErrorClassDefinition,
	ErrCodeBundle:                     ErrorClassBundle,
	ErrCodeBundleVersion:              ErrorClassBundle,
	ErrCodeBundlePolicy:               ErrorClassBundle,
	ErrCodeUpgrade:                    ErrorClassBundle,
	ErrCodeBundleConflict:             ErrorClassConflict,
	ErrCodeBundleNotFound:             ErrorClassNotFound,
	ErrCodeTaskNotFound:               ErrorClassNotFound,
	ErrCodeJobNotFound:                ErrorClassNotFound,
	ErrCodeActionNotFound:             ErrorClassNotFound,
	ErrCodeObjectNotFound:             ErrorClassNotFound,
	ErrCodeTask:                       ErrorClassTask,
	ErrCodeLock:                       ErrorClassLock,
}

// EngineError is a coded error with optional detail lines.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is derived from Code.
	Class ErrorClass `json:"class"`

	// Code is the stable operator-facing error code.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Args holds additional detail lines, such as nested schema errors.
	Args []string `json:"args,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// NewError creates an error with the given code.
func NewError(code, message string) *EngineError {
	class, ok := codeClasses[code]
	if !ok {
		class = ErrorClassInternal
	}
	return &EngineError{Class: class, Code: code, Message: message}
}

// Errorf creates an error with the given code and a formatted message.
func Errorf(code, format string, args ...interface{}) *EngineError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches any *EngineError carrying the same code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Classify returns the class and code as plain strings.
func (e *EngineError) Classify() (class, code string) {
	return string(e.Class), e.Code
}

// WithArgs attaches detail lines to the error.
func (e *EngineError) WithArgs(args ...string) *EngineError {
	e.Args = append(e.Args, args...)
	return e
}

// Wrap sets the underlying cause.
func (e *EngineError) Wrap(err error) *EngineError {
	e.Err = err
	return e
}

// CodeOf returns the code of the first *EngineError in err's chain, or "".
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassNotFound
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}
