package payment

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/go-playground/validator/v10"
)

var mobilePattern = regexp.MustCompile(`^3\d{9}$`)

// Request asks the orchestrator to start a payment for an order.
type Request struct {
	OrderID       string         `validate:"required"`
	Method        payment.Method `validate:"required"`
	Amount        payment.Amount
	CustomerEmail string `validate:"omitempty,email"`
	Description   string
	// ReturnURL is where bank-hosted flows send the customer back to.
	ReturnURL       string `validate:"omitempty,url"`
	AcceptanceToken string

	Nequi *NequiDetails
	PSE   *PSEDetails
	Card  *CardDetails
}

type NequiDetails struct {
	PhoneNumber string `json:"phone_number" validate:"required,co_mobile"`
}

type PSEDetails struct {
	BankCode    string `json:"bank_code" validate:"required"`
	UserType    int    `json:"user_type" validate:"oneof=0 1"`
	LegalIDType string `json:"legal_id_type" validate:"required,oneof=CC CE NIT PP TI DNI"`
	LegalID     string `json:"legal_id" validate:"required,numeric,min=5,max=15"`
}

type CardDetails struct {
	Number       string `json:"number" validate:"required,credit_card"`
	CVC          string `json:"cvc" validate:"required,numeric,min=3,max=4"`
	ExpMonth     string `json:"exp_month" validate:"required,numeric,len=2"`
	ExpYear      string `json:"exp_year" validate:"required,numeric,len=2"`
	Holder       string `json:"card_holder" validate:"required,min=3"`
	Installments int    `json:"installments" validate:"omitempty,min=1,max=36"`
}

// Result describes the outcome of ProcessPayment.
type Result struct {
	Success          bool          `json:"success"`
	TransactionID    string        `json:"transaction_id,omitempty"`
	RedirectURL      string        `json:"redirect_url,omitempty"`
	RequiresRedirect bool          `json:"requires_redirect"`
	Error            string        `json:"error,omitempty"`
	State            payment.State `json:"state"`
}

func resultFromState(s payment.State) *Result {
	return &Result{
		Success:          !s.Status.IsFailure(),
		TransactionID:    s.TransactionID,
		RedirectURL:      s.RedirectURL,
		RequiresRedirect: s.RedirectURL != "" && !s.Status.IsTerminal(),
		Error:            s.Error,
		State:            s,
	}
}

// NewValidator returns a validator with the checkout-specific rules registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("co_mobile", func(fl validator.FieldLevel) bool {
		return mobilePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the request and its method payload.
func Validate(v *validator.Validate, req Request) error {
	if err := v.Struct(req); err != nil {
		return toValidationError(err)
	}
	if !req.Method.Valid() {
		return fmt.Errorf("%w: %q", domainErrors.ErrUnsupportedMethod, req.Method)
	}
	if err := req.Amount.Validate(); err != nil {
		return err
	}

	if req.Method.UsesGateway() && req.CustomerEmail == "" {
		return domainErrors.NewValidationError("customer_email", "is required for gateway payments")
	}
	if req.Method.RequiresRedirect() && req.ReturnURL == "" {
		return domainErrors.NewValidationError("return_url", "is required for redirect payments")
	}

	var details any
	switch req.Method {
	case payment.MethodNequi:
		if req.Nequi == nil {
			return domainErrors.NewValidationError("nequi", "phone number is required")
		}
		details = req.Nequi
	case payment.MethodPSE:
		if req.PSE == nil {
			return domainErrors.NewValidationError("pse", "bank and document details are required")
		}
		details = req.PSE
	case payment.MethodCard:
		if req.Card == nil {
			return domainErrors.NewValidationError("card", "card details are required")
		}
		details = req.Card
	default:
		return nil
	}

	if err := v.Struct(details); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domainErrors.NewValidationError("request", err.Error())
	}
	fe := fieldErrs[0]
	return domainErrors.NewValidationError(strings.ToLower(fe.Field()), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "co_mobile":
		return "must be a Colombian mobile number (10 digits starting with 3)"
	case "credit_card":
		return "is not a valid card number"
	case "email":
		return "must be a valid email"
	case "numeric":
		return "must contain only digits"
	case "min", "max", "len":
		return fmt.Sprintf("has invalid length (%s %s)", fe.Tag(), fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}
