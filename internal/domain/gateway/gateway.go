// Package gateway holds the shapes exchanged with the backend's payment-gateway proxy.
package gateway

// TransactionStatus is the status reported by the gateway.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusApproved TransactionStatus = "APPROVED"
	StatusDeclined TransactionStatus = "DECLINED"
	StatusVoided   TransactionStatus = "VOIDED"
	StatusError    TransactionStatus = "ERROR"
)

// Final reports whether the gateway will not change the status again.
func (s TransactionStatus) Final() bool {
	return s == StatusApproved || s == StatusDeclined || s == StatusVoided || s == StatusError
}

// Transaction is a gateway transaction descriptor.
type Transaction struct {
	ID                string            `json:"id"`
	Status            TransactionStatus `json:"status"`
	Reference         string            `json:"reference,omitempty"`
	RedirectURL       string            `json:"redirect_url,omitempty"`
	StatusMessage     string            `json:"status_message,omitempty"`
	AmountInCents     int64             `json:"amount_in_cents,omitempty"`
	PaymentMethodType string            `json:"payment_method_type,omitempty"`
}

// TransactionBase carries the fields every creation request shares.
type TransactionBase struct {
	AmountInCents   int64  `json:"amount_in_cents"`
	Currency        string `json:"currency"`
	CustomerEmail   string `json:"customerEmail"`
	Reference       string `json:"reference,omitempty"`
	AcceptanceToken string `json:"acceptanceToken,omitempty"`
}

type NequiRequest struct {
	TransactionBase
	PhoneNumber string `json:"phoneNumber"`
}

type PSERequest struct {
	TransactionBase
	UserType                 int    `json:"userType"`
	UserLegalIDType          string `json:"userLegalIdType"`
	UserLegalID              string `json:"userLegalId"`
	FinancialInstitutionCode string `json:"financialInstitutionCode"`
	PaymentDescription       string `json:"paymentDescription,omitempty"`
	RedirectURL              string `json:"redirectUrl"`
}

type BancolombiaRequest struct {
	TransactionBase
	PaymentDescription string `json:"paymentDescription,omitempty"`
	RedirectURL        string `json:"redirectUrl"`
}

// CardData is sent once to obtain a token; it never reaches the state store.
type CardData struct {
	Number     string `json:"number"`
	CVC        string `json:"cvc"`
	ExpMonth   string `json:"exp_month"`
	ExpYear    string `json:"exp_year"`
	CardHolder string `json:"card_holder"`
}

type CardToken struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type CardRequest struct {
	TransactionBase
	Token        string `json:"token"`
	Installments int    `json:"installments"`
}

// Bank is a financial institution available through PSE.
type Bank struct {
	Code string `json:"financial_institution_code"`
	Name string `json:"financial_institution_name"`
}

// AcceptanceToken must be presented to the gateway with the user's consent.
type AcceptanceToken struct {
	Token     string `json:"acceptance_token"`
	Permalink string `json:"permalink"`
	Type      string `json:"type,omitempty"`
}
