package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/checkout/internal/domain/errors"
)

// Method is the payment method tag chosen at checkout.
type Method string

const (
	MethodNequi       Method = "nequi"
	MethodBancolombia Method = "bancolombia"
	MethodPSE         Method = "pse"
	MethodCard        Method = "card"
	MethodCash        Method = "cash"
)

// Methods lists every supported method.
var Methods = []Method{MethodNequi, MethodBancolombia, MethodPSE, MethodCard, MethodCash}

// ParseMethod converts a raw tag into a Method.
func ParseMethod(raw string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", errors.ErrUnsupportedMethod, raw)
	}
	return m, nil
}

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// UsesGateway is false only for cash, which settles outside the gateway.
func (m Method) UsesGateway() bool {
	return m.Valid() && m != MethodCash
}

// RequiresRedirect reports whether the method completes on a bank-hosted page.
func (m Method) RequiresRedirect() bool {
	return m == MethodBancolombia || m == MethodPSE
}

// Status is a node of the payment attempt state machine.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusCreating  Status = "CREATING"
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusConfirmed Status = "CONFIRMED"
	StatusDeclined  Status = "DECLINED"
	StatusError     Status = "ERROR"
)

var transitions = map[Status][]Status{
	StatusIdle: {
		StatusCreating,
		StatusConfirmed, // cash settles without the gateway
		StatusError,
	},
	StatusCreating: {
		StatusPending,
		StatusError,
	},
	StatusPending: {
		StatusApproved,
		StatusDeclined,
		StatusError,
	},
	StatusApproved: {
		StatusConfirmed,
		StatusDeclined,
		StatusError,
	},
	StatusConfirmed: {},
	StatusDeclined:  {},
	StatusError:     {},
}

// CanTransitionTo checks if a state in status s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	allowed, exists := transitions[s]
	if !exists {
		return false
	}
	for _, candidate := range allowed {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible for the current attempt.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusDeclined || s == StatusError
}

// IsFailure reports whether the attempt ended without payment.
func (s Status) IsFailure() bool {
	return s == StatusDeclined || s == StatusError
}

// InFlight reports whether a gateway attempt is underway and must not be duplicated.
func (s Status) InFlight() bool {
	return s == StatusCreating || s == StatusPending || s == StatusApproved
}

// State is the client-side record of one order's payment attempt.
type State struct {
	OrderID       string    `json:"orderId"`
	Method        Method    `json:"method"`
	Status        Status    `json:"status"`
	TransactionID string    `json:"transactionId,omitempty"`
	Error         string    `json:"error,omitempty"`
	RedirectURL   string    `json:"redirectUrl,omitempty"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// NewState creates a fresh IDLE attempt.
func NewState(orderID string, method Method, now time.Time) State {
	return State{
		OrderID:     orderID,
		Method:      method,
		Status:      StatusIdle,
		LastUpdated: now,
	}
}

// Patch is a partial update of a State. Nil fields are left untouched.
type Patch struct {
	Status        *Status
	TransactionID *string
	Error         *string
	RedirectURL   *string
}

// StatusPatch builds a patch that only moves the status.
func StatusPatch(status Status) Patch {
	return Patch{Status: &status}
}

// FailurePatch builds a patch that moves to a failure status with a message.
func FailurePatch(status Status, message string) Patch {
	return Patch{Status: &status, Error: &message}
}

// Apply merges p into s and returns the result. The receiver is not modified.
func (s State) Apply(p Patch, now time.Time) (State, error) {
	next := s

	if p.Status != nil && *p.Status != s.Status {
		if !s.Status.CanTransitionTo(*p.Status) {
			return s, errors.NewDomainError(
				"invalid_transition",
				"cannot transition from "+string(s.Status)+" to "+string(*p.Status),
				errors.ErrInvalidStateTransition,
			)
		}
		next.Status = *p.Status
	}

	if p.TransactionID != nil && *p.TransactionID != "" {
		if s.TransactionID != "" && s.TransactionID != *p.TransactionID {
			return s, errors.NewDomainError(
				"transaction_mismatch",
				"transaction id already set for order "+s.OrderID,
				errors.ErrInvalidStateTransition,
			)
		}
		next.TransactionID = *p.TransactionID
	}

	if p.RedirectURL != nil && *p.RedirectURL != "" && s.RedirectURL == "" {
		next.RedirectURL = *p.RedirectURL
	}

	if next.Status.IsFailure() {
		if p.Error != nil {
			next.Error = *p.Error
		}
		if next.Error == "" {
			next.Error = "payment failed"
		}
	} else {
		next.Error = ""
	}

	next.LastUpdated = now
	return next, nil
}
