package checkout

import (
	"errors"
	"fmt"
	"strings"

	paymentApp "github.com/cassiomorais/checkout/internal/application/payment"
	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/domain/order"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/go-playground/validator/v10"
)

// SubmitRequest is what a checkout page sends when the customer presses pay.
// Either OrderID or Booking must be present.
type SubmitRequest struct {
	OrderID         string                   `json:"order_id"`
	Booking         *order.PendingBooking    `json:"booking,omitempty"`
	Method          payment.Method           `json:"method" validate:"required"`
	CustomerEmail   string                   `json:"customer_email" validate:"omitempty,email"`
	AcceptedTerms   bool                     `json:"accepted_terms"`
	AcceptanceToken string                   `json:"acceptance_token"`
	ReturnURL       string                   `json:"return_url" validate:"omitempty,url"`
	Nequi           *paymentApp.NequiDetails `json:"nequi,omitempty"`
	PSE             *paymentApp.PSEDetails   `json:"pse,omitempty"`
	Card            *paymentApp.CardDetails  `json:"card,omitempty"`
}

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	OrderID string             `json:"order_id"`
	Payment *paymentApp.Result `json:"payment"`
	View    View               `json:"view"`
}

// validate checks what the controller owns. Method payloads are checked by the orchestrator,
// which records the failure on the payment state.
func (r SubmitRequest) validate(v *validator.Validate) error {
	if err := v.StructPartial(r, "Method", "CustomerEmail", "ReturnURL"); err != nil {
		return fieldError(err)
	}
	if !r.Method.Valid() {
		return fmt.Errorf("%w: %q", domainErrors.ErrUnsupportedMethod, r.Method)
	}
	if r.OrderID == "" {
		if r.Booking == nil {
			return domainErrors.NewValidationError("booking", "is required when no order id is given")
		}
		if err := v.Struct(r.Booking); err != nil {
			return fieldError(err)
		}
	}
	if r.Method.UsesGateway() && !r.AcceptedTerms {
		return domainErrors.ErrTermsNotAccepted
	}
	return nil
}

func fieldError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := "failed on " + fe.Tag()
		if fe.Tag() == "required" {
			msg = "is required"
		}
		return domainErrors.NewValidationError(strings.ToLower(fe.Field()), msg)
	}
	return domainErrors.NewValidationError("request", err.Error())
}

func (r SubmitRequest) paymentRequest(orderID string, amount payment.Amount) paymentApp.Request {
	return paymentApp.Request{
		OrderID:         orderID,
		Method:          r.Method,
		Amount:          amount,
		CustomerEmail:   r.CustomerEmail,
		ReturnURL:       r.ReturnURL,
		AcceptanceToken: r.AcceptanceToken,
		Nequi:           r.Nequi,
		PSE:             r.PSE,
		Card:            r.Card,
	}
}

// lockKey identifies one checkout so two submissions for it cannot overlap.
func (r SubmitRequest) lockKey() string {
	if r.OrderID != "" {
		return "checkout:order:" + r.OrderID
	}
	b := r.Booking
	return fmt.Sprintf("checkout:booking:%s:%s:%s:%d",
		strings.ToLower(r.CustomerEmail), b.EncargadoID, b.ServiceName, b.ScheduledAt.Unix())
}
