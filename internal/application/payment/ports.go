package payment

import (
	"context"

	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/order"
	"github.com/cassiomorais/checkout/internal/domain/payment"
)

// Gateway is the backend's payment-gateway proxy.
type Gateway interface {
	CreateNequiTransaction(ctx context.Context, req gateway.NequiRequest) (*gateway.Transaction, error)
	CreatePSETransaction(ctx context.Context, req gateway.PSERequest) (*gateway.Transaction, error)
	CreateBancolombiaTransaction(ctx context.Context, req gateway.BancolombiaRequest) (*gateway.Transaction, error)
	TokenizeCard(ctx context.Context, card gateway.CardData) (*gateway.CardToken, error)
	CreateCardTransaction(ctx context.Context, req gateway.CardRequest) (*gateway.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*gateway.Transaction, error)
	CancelTransaction(ctx context.Context, id string) error
	GetPSEBanks(ctx context.Context) ([]gateway.Bank, error)
	GetAcceptanceToken(ctx context.Context) (*gateway.AcceptanceToken, error)
}

// OrderService is the backend's order API.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status order.Status) (*order.Order, error)
	UpdateOrder(ctx context.Context, id string, req order.UpdateRequest) (*order.Order, error)
	ConfirmOrderPayment(ctx context.Context, id, transactionID string) (*order.Order, error)
	ConfirmCashPayment(ctx context.Context, id string) (*order.Order, error)
	CancelOrderAndPayment(ctx context.Context, id, transactionID string) (*order.Order, error)
}

// StateStore is the part of the payment state store the orchestrator drives.
type StateStore interface {
	Create(orderID string, method payment.Method) payment.State
	Update(orderID string, patch payment.Patch) (payment.State, error)
	Get(orderID string) (payment.State, bool)
	All() []payment.State
	GetTransactionID(ctx context.Context, orderID string) (string, error)
}
