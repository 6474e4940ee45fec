package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/domain/order"
	"github.com/cassiomorais/checkout/internal/infrastructure/config"
	"github.com/rs/zerolog"
)

// OrderClient talks to the backend's order endpoints.
type OrderClient struct {
	c *client
}

func NewOrderClient(cfg config.BackendConfig, logger zerolog.Logger, opts ...Option) *OrderClient {
	return &OrderClient{c: newClient("orders", cfg, orderStatusMapper, logger, opts...)}
}

func orderStatusMapper(status int) error {
	switch status {
	case http.StatusNotFound:
		return domainErrors.ErrOrderNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domainErrors.ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domainErrors.ErrInvalidInput
	}
	return nil
}

func ordersPath(id string, suffix ...string) string {
	p := "/orders/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

func (o *OrderClient) CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error) {
	return o.call(ctx, "create_order", http.MethodPost, "/orders", req)
}

func (o *OrderClient) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return o.call(ctx, "get_order", http.MethodGet, ordersPath(id), nil)
}

func (o *OrderClient) UpdateOrderStatus(ctx context.Context, id string, status order.Status) (*order.Order, error) {
	body := struct {
		Status order.Status `json:"status"`
	}{status}
	return o.call(ctx, "update_order_status", http.MethodPatch, ordersPath(id, "status"), body)
}

func (o *OrderClient) UpdateOrder(ctx context.Context, id string, req order.UpdateRequest) (*order.Order, error) {
	return o.call(ctx, "update_order", http.MethodPatch, ordersPath(id), req)
}

// ConfirmOrderPayment answers ErrPaymentAlreadyConfirmed when the backend reports a conflict.
func (o *OrderClient) ConfirmOrderPayment(ctx context.Context, id, transactionID string) (*order.Order, error) {
	body := struct {
		TransactionID string `json:"transactionId,omitempty"`
	}{transactionID}
	ord, err := o.call(ctx, "confirm_order_payment", http.MethodPost, ordersPath(id, "confirm-payment"), body)
	return ord, conflictAs(err, domainErrors.ErrPaymentAlreadyConfirmed)
}

func (o *OrderClient) ConfirmCashPayment(ctx context.Context, id string) (*order.Order, error) {
	ord, err := o.call(ctx, "confirm_cash_payment", http.MethodPost, ordersPath(id, "confirm-cash"), nil)
	return ord, conflictAs(err, domainErrors.ErrPaymentAlreadyConfirmed)
}

// CancelOrderAndPayment answers ErrOrderNotCancellable once the order has moved past PENDING.
func (o *OrderClient) CancelOrderAndPayment(ctx context.Context, id, transactionID string) (*order.Order, error) {
	body := struct {
		TransactionID string `json:"transactionId,omitempty"`
	}{transactionID}
	ord, err := o.call(ctx, "cancel_order", http.MethodPost, ordersPath(id, "cancel"), body)
	return ord, conflictAs(err, domainErrors.ErrOrderNotCancellable)
}

func (o *OrderClient) call(ctx context.Context, operation, method, path string, body any) (*order.Order, error) {
	var ord order.Order
	if err := o.c.do(ctx, operation, method, path, body, &ord); err != nil {
		return nil, err
	}
	return &ord, nil
}

func conflictAs(err error, sentinel error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		return err
	}
	apiErr.Err = sentinel
	return apiErr
}
