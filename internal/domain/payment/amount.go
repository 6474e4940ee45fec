package payment

import (
	"github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the only currency the gateway accepts for home services.
const DefaultCurrency = "COP"

var hundred = decimal.NewFromInt(100)

// Amount is a decimal price in major units.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// NewAmount builds an Amount from a float price as sent by checkout clients.
func NewAmount(value float64, currency string) Amount {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

// MinorUnits converts the amount to integer cents, rounding half away from zero.
func (a Amount) MinorUnits() int64 {
	return a.Value.Mul(hundred).Round(0).IntPart()
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	return a.Value.StringFixed(2) + " " + a.Currency
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if !a.Value.IsPositive() {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
