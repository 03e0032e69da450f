package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an operation failure.
// The class decides how a failure propagates; none of the classes are retried
// by the Retrier, which only retries "not yet ready" observations.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates bad static input.
	// Examples: unsupported configuration kind, empty image location, policy denial.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassPrecondition indicates unexpected device state discovered before polling.
	// Examples: the response table does not hold exactly one primary key.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassTransport indicates a failure talking to the device.
	// Whether it is fatal depends on the flow's IssuePolicy.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassTimeout indicates a phase exhausted its attempts or wall-clock budget.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCancelled indicates the operation context was cancelled.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Target is the device identifier the error relates to, if applicable.
	Target string `json:"target,omitempty"`

	// Phase is the phase being executed when the error occurred.
	Phase string `json:"phase,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Target != "" && e.Phase != "" {
		msg = fmt.Sprintf("%s (target=%s, phase=%s)", msg, e.Target, e.Phase)
	} else if e.Target != "" {
		msg = fmt.Sprintf("%s (target=%s)", msg, e.Target)
	} else if e.Phase != "" {
		msg = fmt.Sprintf("%s (phase=%s)", msg, e.Phase)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// Reason returns the human-readable reason reported to the notifier.
func (e *EngineError) Reason() string {
	if e.Err != nil && e.Class != ErrorClassTimeout && e.Class != ErrorClassCancelled {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return newError(ErrorClassConfiguration, message, err)
}

// NewPreconditionError creates a new precondition error.
func NewPreconditionError(message string, err error) *EngineError {
	return newError(ErrorClassPrecondition, message, err)
}

// NewTransportError creates a new transport error.
func NewTransportError(message string, err error) *EngineError {
	return newError(ErrorClassTransport, message, err)
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string) *EngineError {
	return newError(ErrorClassTimeout, message, nil).WithCode(ErrCodeTimeout)
}

// NewCancelledError creates a new cancelled error.
func NewCancelledError(err error) *EngineError {
	return newError(ErrorClassCancelled, "operation cancelled", err).WithCode(ErrCodeCancelled)
}

// WithTarget adds target context to an error.
func (e *EngineError) WithTarget(targetID string) *EngineError {
	e.Target = targetID
	return e
}

// WithPhase adds phase context to an error.
func (e *EngineError) WithPhase(phase string) *EngineError {
	e.Phase = phase
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or "" when err is not an EngineError.
// Context cancellation is reported as ErrorClassCancelled even when unwrapped.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassCancelled
	}
	return ""
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	return ClassOf(err) == ErrorClassConfiguration
}

// IsPrecondition returns true if the error is classified as a precondition error.
func IsPrecondition(err error) bool {
	return ClassOf(err) == ErrorClassPrecondition
}

// IsTransport returns true if the error is classified as a transport error.
func IsTransport(err error) bool {
	return ClassOf(err) == ErrorClassTransport
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	return ClassOf(err) == ErrorClassTimeout
}

// IsCancelled returns true if the error is classified as cancelled.
func IsCancelled(err error) bool {
	return ClassOf(err) == ErrorClassCancelled
}

// IsNotFound returns true if the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeNotFound
	}
	return false
}

// ReasonOf returns the notifier-facing reason for err.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e.Reason()
	}
	return err.Error()
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnsupportedKind = "UNSUPPORTED_KIND"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodePrimaryKeys     = "PRIMARY_KEYS"
	ErrCodeCommandFailed   = "COMMAND_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

func asEngineError(err error) (*EngineError, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
