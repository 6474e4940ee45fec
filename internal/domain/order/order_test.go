package order

import (
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Cancellable(t *testing.T) {
	assert.True(t, StatusPending.Cancellable())
	assert.False(t, StatusAccepted.Cancellable())
	assert.False(t, StatusInProgress.Cancellable())
	assert.False(t, StatusCompleted.Cancellable())
	assert.False(t, StatusCancelled.Cancellable())
}

func TestPendingBooking_ToCreateRequest(t *testing.T) {
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	b := PendingBooking{
		EncargadoID: "enc-1",
		CategoryID:  "plumbing",
		ServiceName: "Leak repair",
		Address:     "Cra 7 # 12-30, Bogotá",
		ScheduledAt: at,
		Price:       85000,
	}

	req, err := b.ToCreateRequest("nequi")
	require.NoError(t, err)
	assert.Equal(t, "enc-1", req.EncargadoID)
	assert.Equal(t, "nequi", req.PaymentMethod)
	assert.Equal(t, at, req.ScheduledAt)
	assert.Equal(t, 85000.0, req.Price)
}

func TestPendingBooking_ToCreateRequest_Invalid(t *testing.T) {
	_, err := PendingBooking{Price: 100}.ToCreateRequest("cash")
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)

	_, err = PendingBooking{EncargadoID: "enc-1"}.ToCreateRequest("cash")
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
}
