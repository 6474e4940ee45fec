package errors

import (
	"errors"
	"fmt"
)

var (
	// Payment state errors
	ErrStateNotFound           = errors.New("payment state not found")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrUnsupportedMethod       = errors.New("unsupported payment method")
	ErrPaymentAlreadyConfirmed = errors.New("payment already confirmed")
	ErrPaymentInProgress       = errors.New("payment already in progress")

	// Order errors
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")

	// Gateway errors
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment rejected by gateway")
	ErrGatewayTimeout     = errors.New("payment gateway request timeout")

	// Checkout errors
	ErrTermsNotAccepted   = errors.New("terms and conditions must be accepted")
	ErrCheckoutInProgress = errors.New("checkout already in progress for this order")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// Unwrap lets callers match any validation error with errors.Is(err, ErrValidationFailed).
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
