package testutil

import (
	"time"

	"github.com/cassiomorais/checkout/internal/domain/order"
	"github.com/cassiomorais/checkout/internal/domain/payment"
)

// TestPhone is the gateway sandbox phone number that always has a Nequi account.
const TestPhone = "3001234567"

// TestCardNumber passes the Luhn check.
const TestCardNumber = "4242424242424242"

func NewTestOrder(id string, price float64) *order.Order {
	now := time.Now()
	return &order.Order{
		ID:            id,
		EncargadoID:   "enc-1",
		CategoryID:    "plumbing",
		ServiceName:   "Leak repair",
		Address:       "Cra 7 # 12-30, Bogotá",
		ScheduledAt:   now.Add(48 * time.Hour),
		Price:         price,
		PaymentMethod: string(payment.MethodNequi),
		Status:        order.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func NewTestBooking(price float64) order.PendingBooking {
	return order.PendingBooking{
		EncargadoID: "enc-1",
		CategoryID:  "plumbing",
		ServiceName: "Leak repair",
		Description: "Kitchen sink",
		Address:     "Cra 7 # 12-30, Bogotá",
		ScheduledAt: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
		Price:       price,
	}
}
