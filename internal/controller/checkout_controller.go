package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cassiomorais/checkout/internal/application/checkout"
	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/middleware"
	"github.com/go-chi/chi/v5"
)

const defaultEventsLimit = 100

// Checkout is the application surface behind the HTTP handlers.
type Checkout interface {
	Submit(ctx context.Context, req checkout.SubmitRequest) (*checkout.SubmitResult, error)
	Retry(ctx context.Context, req checkout.SubmitRequest) (*checkout.SubmitResult, error)
	View(orderID string) (checkout.View, error)
	CheckNow(ctx context.Context, orderID string) (checkout.View, error)
	Cancel(ctx context.Context, orderID string) (checkout.View, error)
	Banks(ctx context.Context) ([]gateway.Bank, error)
	AcceptanceToken(ctx context.Context) (*gateway.AcceptanceToken, error)
}

// CheckoutController handles checkout and payment status requests.
type CheckoutController struct {
	checkout Checkout
	events   payment.EventRepository
}

func NewCheckoutController(c Checkout, events payment.EventRepository) *CheckoutController {
	return &CheckoutController{checkout: c, events: events}
}

// Submit handles POST /api/v1/checkout
func (h *CheckoutController) Submit(w http.ResponseWriter, r *http.Request) {
	var req checkout.SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	withCustomerEmail(r, &req)

	res, err := h.checkout.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromSubmitResult(res))
}

// Status handles GET /api/v1/payments/{orderId}
func (h *CheckoutController) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.View(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Check handles POST /api/v1/payments/{orderId}/check
func (h *CheckoutController) Check(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.CheckNow(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Retry handles POST /api/v1/payments/{orderId}/retry
func (h *CheckoutController) Retry(w http.ResponseWriter, r *http.Request) {
	var req checkout.SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.OrderID = chi.URLParam(r, "orderId")
	req.Booking = nil
	withCustomerEmail(r, &req)

	res, err := h.checkout.Retry(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromSubmitResult(res))
}

// Cancel handles POST /api/v1/payments/{orderId}/cancel
func (h *CheckoutController) Cancel(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.Cancel(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Events handles GET /api/v1/payments/{orderId}/events
func (h *CheckoutController) Events(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > defaultEventsLimit {
		limit = defaultEventsLimit
	}

	events, err := h.events.ListEvents(r.Context(), orderID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := EventsResponse{OrderID: orderID, Events: make([]*EventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, FromEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Banks handles GET /api/v1/pse/banks
func (h *CheckoutController) Banks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.checkout.Banks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BanksResponse{Banks: banks})
}

// AcceptanceToken handles GET /api/v1/acceptance-token
func (h *CheckoutController) AcceptanceToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.checkout.AcceptanceToken(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// withCustomerEmail fills the customer email from the signed-in user when the body has none.
func withCustomerEmail(r *http.Request, req *checkout.SubmitRequest) {
	if req.CustomerEmail != "" {
		return
	}
	if email, ok := middleware.GetEmail(r.Context()); ok {
		req.CustomerEmail = email
	}
}
