package domain

import (
	"errors"
	"fmt"
)

// Business rejections. Callers match them with errors.Is.
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrLimitExceeded            = errors.New("entitlement limit exceeded")
	ErrConcurrentUpdateConflict = errors.New("concurrent update conflict")
	ErrAlreadyMarked            = errors.New("attendance already marked")
	ErrNoEligibleEnrollment     = errors.New("no eligible enrollment")
	ErrInvalidState             = errors.New("invalid state")
	ErrValidation               = errors.New("validation failed")

	// ErrLockTimeout is transient: the row set was locked for longer than the
	// configured lock wait. Safe to retry once.
	ErrLockTimeout = errors.New("lock wait timeout")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsBusinessError reports whether err is an expected rejection rather than an
// infrastructure failure.
func IsBusinessError(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrLimitExceeded),
		errors.Is(err, ErrAlreadyMarked),
		errors.Is(err, ErrNoEligibleEnrollment),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrValidation):
		return true
	}
	return false
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdateConflict) || errors.Is(err, ErrLockTimeout)
}
