package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &DomainError{
				Code:    "gateway_error",
				Message: "transaction creation failed",
				Err:     errors.New("gateway timeout"),
			},
			expected: "transaction creation failed: gateway timeout",
		},
		{
			name: "without wrapped error",
			err: &DomainError{
				Code:    "invalid_state",
				Message: "cannot retry a confirmed payment",
				Err:     nil,
			},
			expected: "cannot retry a confirmed payment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	domainErr := &DomainError{
		Code:    "test",
		Message: "test message",
		Err:     originalErr,
	}

	assert.Equal(t, originalErr, domainErr.Unwrap())
}

func TestNewDomainError(t *testing.T) {
	originalErr := errors.New("underlying error")
	err := NewDomainError("test_code", "test message", originalErr)

	assert.NotNil(t, err)
	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "test message", err.Message)
	assert.Equal(t, originalErr, err.Err)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Field:   "phone_number",
		Message: "must be a 10 digit Colombian mobile number",
	}

	expected := "validation failed for field phone_number: must be a 10 digit Colombian mobile number"
	assert.Equal(t, expected, err.Error())
}

func TestValidationError_IsValidationFailed(t *testing.T) {
	err := NewValidationError("card_number", "failed luhn check")

	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, "card_number", err.Field)
}

func TestErrorUnwrapping(t *testing.T) {
	wrappedErr := NewDomainError("gateway_error", "gateway call failed", ErrGatewayTimeout)

	assert.True(t, errors.Is(wrappedErr, ErrGatewayTimeout))
	assert.ErrorIs(t, wrappedErr, ErrGatewayTimeout)
	assert.NotErrorIs(t, wrappedErr, ErrGatewayUnavailable)
}
