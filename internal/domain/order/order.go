package order

import (
	"time"

	"github.com/cassiomorais/checkout/internal/domain/errors"
)

// Status is the order lifecycle status owned by the backend.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Cancellable reports whether the backend still accepts a cancellation.
func (s Status) Cancellable() bool {
	return s == StatusPending
}

// Order is a read-only snapshot of a backend order.
type Order struct {
	ID              string    `json:"id"`
	EncargadoID     string    `json:"encargadoId"`
	CategoryID      string    `json:"categoryId"`
	ServiceName     string    `json:"serviceName"`
	Description     string    `json:"description,omitempty"`
	Address         string    `json:"address"`
	ScheduledAt     time.Time `json:"scheduledAt"`
	Price           float64   `json:"price"`
	PaymentMethod   string    `json:"paymentMethod"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	PaymentStatus   string    `json:"paymentStatus,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CreateRequest holds the fields the backend needs to open an order.
type CreateRequest struct {
	EncargadoID   string    `json:"encargadoId"`
	CategoryID    string    `json:"categoryId"`
	ServiceName   string    `json:"serviceName"`
	Description   string    `json:"description,omitempty"`
	Address       string    `json:"address"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	Price         float64   `json:"price"`
	PaymentMethod string    `json:"paymentMethod"`
}

// UpdateRequest is a partial order update.
type UpdateRequest struct {
	PaymentIntentID *string `json:"paymentIntentId,omitempty"`
}

// PendingBooking is a booking the customer filled in before the order exists.
type PendingBooking struct {
	EncargadoID string    `json:"encargado_id" validate:"required"`
	CategoryID  string    `json:"category_id" validate:"required"`
	ServiceName string    `json:"service_name" validate:"required"`
	Description string    `json:"description"`
	Address     string    `json:"address" validate:"required"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Price       float64   `json:"price" validate:"gt=0"`
}

// ToCreateRequest turns the booking into an order creation request.
func (b PendingBooking) ToCreateRequest(paymentMethod string) (CreateRequest, error) {
	if b.EncargadoID == "" {
		return CreateRequest{}, errors.NewValidationError("encargado_id", "cannot be empty")
	}
	if b.Price <= 0 {
		return CreateRequest{}, errors.NewValidationError("price", "must be greater than 0")
	}
	return CreateRequest{
		EncargadoID:   b.EncargadoID,
		CategoryID:    b.CategoryID,
		ServiceName:   b.ServiceName,
		Description:   b.Description,
		Address:       b.Address,
		ScheduledAt:   b.ScheduledAt,
		Price:         b.Price,
		PaymentMethod: paymentMethod,
	}, nil
}
