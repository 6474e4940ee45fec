package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventRepository stores the history of state transitions.
type EventRepository interface {
	// AddEvent appends a transition event
	AddEvent(ctx context.Context, event *TransitionEvent) error

	// ListEvents returns the events of an order, oldest first
	ListEvents(ctx context.Context, orderID string, limit int) ([]*TransitionEvent, error)
}

// TransitionEvent represents an event in the payment lifecycle
type TransitionEvent struct {
	ID            uuid.UUID `json:"id"`
	OrderID       string    `json:"order_id"`
	Method        Method    `json:"method"`
	Status        Status    `json:"status"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewTransitionEvent snapshots a state as an event.
func NewTransitionEvent(s State) *TransitionEvent {
	return &TransitionEvent{
		ID:            uuid.New(),
		OrderID:       s.OrderID,
		Method:        s.Method,
		Status:        s.Status,
		TransactionID: s.TransactionID,
		Error:         s.Error,
		CreatedAt:     s.LastUpdated,
	}
}
