package controller

import (
	"time"

	"github.com/cassiomorais/checkout/internal/application/checkout"
	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/payment"
)

// CheckoutResponse is returned by POST /checkout and POST .../retry.
type CheckoutResponse struct {
	OrderID          string        `json:"order_id"`
	Success          bool          `json:"success"`
	TransactionID    string        `json:"transaction_id,omitempty"`
	RequiresRedirect bool          `json:"requires_redirect"`
	RedirectURL      string        `json:"redirect_url,omitempty"`
	Error            string        `json:"error,omitempty"`
	View             checkout.View `json:"view"`
}

// EventResponse is one row of an order's payment history.
type EventResponse struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Method        string    `json:"method"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type EventsResponse struct {
	OrderID string           `json:"order_id"`
	Events  []*EventResponse `json:"events"`
}

type BanksResponse struct {
	Banks []gateway.Bank `json:"banks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func FromSubmitResult(res *checkout.SubmitResult) *CheckoutResponse {
	resp := &CheckoutResponse{OrderID: res.OrderID, View: res.View}
	if p := res.Payment; p != nil {
		resp.Success = p.Success
		resp.TransactionID = p.TransactionID
		resp.RequiresRedirect = p.RequiresRedirect
		resp.RedirectURL = p.RedirectURL
		resp.Error = p.Error
	}
	return resp
}

func FromEvent(e *payment.TransitionEvent) *EventResponse {
	return &EventResponse{
		ID:            e.ID.String(),
		Status:        string(e.Status),
		Method:        string(e.Method),
		TransactionID: e.TransactionID,
		Error:         e.Error,
		CreatedAt:     e.CreatedAt,
	}
}
