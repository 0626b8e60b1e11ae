package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The retry manager is the only
// component that switches on it.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx-equivalent
	// responses from external calls. Retried with backoff.
	KindTransient Kind = iota
	// KindValidation covers business-rule preconditions the entity
	// fails for this stage. Never retried.
	KindValidation
	// KindFatal covers configuration errors: unknown event type,
	// malformed payload, missing credential. Surfaced immediately.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// AppError represents an application error
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors
func Transient(message string, err error) *AppError {
	return &AppError{Kind: KindTransient, Message: message, Err: err}
}

func Validation(message string, err error) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Err: err}
}

func Fatal(message string, err error) *AppError {
	return &AppError{Kind: KindFatal, Message: message, Err: err}
}

// KindOf reports the classification of err. Errors that carry no
// AppError in their chain are treated as transient: an ambiguous
// outcome must never be treated as success, only as retryable.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindTransient
}

func IsTransient(err error) bool  { return KindOf(err) == KindTransient }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsFatal(err error) bool      { return KindOf(err) == KindFatal }
