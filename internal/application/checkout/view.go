package checkout

import (
	"fmt"
	"time"

	"github.com/cassiomorais/checkout/internal/domain/payment"
)

// NextAction tells the checkout page what to do after a state change.
type NextAction string

const (
	ActionRedirect  NextAction = "redirect"
	ActionWait      NextAction = "wait"
	ActionConfirmed NextAction = "confirmed"
	ActionFailed    NextAction = "failed"
	ActionRetry     NextAction = "retry"
)

// View is the page-facing projection of a payment state.
type View struct {
	OrderID         string         `json:"order_id"`
	Status          payment.Status `json:"status"`
	Method          payment.Method `json:"method"`
	NextAction      NextAction     `json:"next_action"`
	Message         string         `json:"message,omitempty"`
	TransactionID   string         `json:"transaction_id,omitempty"`
	RedirectURL     string         `json:"redirect_url,omitempty"`
	ConfirmationURL string         `json:"confirmation_url,omitempty"`
	RecheckAfterMs  int64          `json:"recheck_after_ms,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (c *Controller) buildView(s payment.State) View {
	v := View{
		OrderID:       s.OrderID,
		Status:        s.Status,
		Method:        s.Method,
		TransactionID: s.TransactionID,
		UpdatedAt:     s.LastUpdated,
	}

	switch {
	case s.Status == payment.StatusConfirmed:
		v.NextAction = ActionConfirmed
		v.ConfirmationURL = fmt.Sprintf(c.cfg.ConfirmationURL, s.OrderID)
	case s.Status.IsFailure():
		v.NextAction = ActionRetry
		if c.cfg.AutoCancel && s.TransactionID != "" {
			v.NextAction = ActionFailed
		}
		v.Message = payment.UserMessage(s.Method, s.Error)
	case s.Status == payment.StatusPending && s.RedirectURL != "":
		v.NextAction = ActionRedirect
		v.RedirectURL = s.RedirectURL
		v.RecheckAfterMs = c.cfg.RecheckAfter.Milliseconds()
	default:
		v.NextAction = ActionWait
		v.RecheckAfterMs = c.cfg.RecheckAfter.Milliseconds()
	}
	return v
}
