package payment

import "strings"

// remediation maps known gateway error fragments to copy a customer can act on.
var remediation = []struct {
	fragments []string
	message   string
}{
	{
		fragments: []string{"invalid card number", "card number is invalid", "número de tarjeta"},
		message:   "The card number is not valid. Check the digits and try again.",
	},
	{
		fragments: []string{"invalid expiration", "invalid expiry", "exp_month", "exp_year", "expired card"},
		message:   "The card expiry date is not valid. Check the month and year printed on the card.",
	},
	{
		fragments: []string{"invalid cvv", "invalid cvc", "cvc", "cvv"},
		message:   "The security code (CVV) is not valid. It is the 3 or 4 digits on the back of the card.",
	},
	{
		fragments: []string{"amount too low", "minimum amount", "monto mínimo", "amount_in_cents must be greater"},
		message:   "The amount is below the minimum accepted for this payment method. Choose another method.",
	},
}

var methodHints = map[Method]string{
	MethodNequi:       "Check that the phone number has a Nequi account (in sandbox use test phone 3001234567).",
	MethodPSE:         "Check the selected bank and the document number of the account holder.",
	MethodBancolombia: "Make sure you finish the payment on the Bancolombia page before it expires.",
	MethodCard:        "Check the card details or try a different card.",
	MethodCash:        "Try again or choose a different payment method.",
}

// UserMessage turns a raw failure into copy that can be shown at checkout.
func UserMessage(method Method, raw string) string {
	lower := strings.ToLower(raw)
	for _, r := range remediation {
		for _, fragment := range r.fragments {
			if strings.Contains(lower, fragment) {
				return r.message
			}
		}
	}

	base := strings.TrimRight(strings.TrimSpace(raw), ".")
	if base == "" {
		base = "The payment could not be completed"
	}
	if hint, ok := methodHints[method]; ok {
		return base + ". " + hint
	}
	return base
}
