// Package checkout is the single checkout surface: it turns a customer's pay
// action into an order plus a payment attempt and reacts to how it ends.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paymentApp "github.com/cassiomorais/checkout/internal/application/payment"
	"github.com/cassiomorais/checkout/internal/application/paymentstate"
	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/order"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	"github.com/cassiomorais/checkout/pkg/saga"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Orchestrator runs payment attempts.
type Orchestrator interface {
	ProcessPayment(ctx context.Context, req paymentApp.Request) (*paymentApp.Result, error)
	CheckAndUpdatePaymentStatus(ctx context.Context, orderID string) (*payment.State, error)
	CancelPayment(ctx context.Context, orderID string) (*payment.State, error)
}

// StateSource is the read side of the payment state store.
type StateSource interface {
	Get(orderID string) (payment.State, bool)
	Subscribe(orderID string, l paymentstate.Listener) func()
}

// Locker serializes submissions of the same checkout across instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Orders is the part of the order service checkout needs directly.
type Orders interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	CancelOrderAndPayment(ctx context.Context, id, transactionID string) (*order.Order, error)
}

// Catalog serves the data a checkout page shows before paying.
type Catalog interface {
	GetPSEBanks(ctx context.Context) ([]gateway.Bank, error)
	GetAcceptanceToken(ctx context.Context) (*gateway.AcceptanceToken, error)
}

type Config struct {
	LockTTL time.Duration
	// ConfirmationURL is a format string taking the order id.
	ConfirmationURL string
	// AutoCancel cancels order and payment when the gateway reports a failure.
	AutoCancel   bool
	RecheckAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		LockTTL:         30 * time.Second,
		ConfirmationURL: "/orders/%s/confirmation",
		AutoCancel:      true,
		RecheckAfter:    paymentApp.DefaultPollInterval,
	}
}

type Controller struct {
	orch     Orchestrator
	states   StateSource
	orders   Orders
	catalog  Catalog
	locker   Locker
	validate *validator.Validate
	cfg      Config
	logger   zerolog.Logger

	mu       sync.Mutex
	watchers map[string]func()
	closed   bool
	wg       sync.WaitGroup
}

func NewController(
	orch Orchestrator,
	states StateSource,
	orders Orders,
	catalog Catalog,
	locker Locker,
	validate *validator.Validate,
	cfg Config,
	logger zerolog.Logger,
) *Controller {
	if validate == nil {
		validate = paymentApp.NewValidator()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	if cfg.ConfirmationURL == "" {
		cfg.ConfirmationURL = DefaultConfig().ConfirmationURL
	}
	if cfg.RecheckAfter <= 0 {
		cfg.RecheckAfter = paymentApp.DefaultPollInterval
	}
	return &Controller{
		orch:     orch,
		states:   states,
		orders:   orders,
		catalog:  catalog,
		locker:   locker,
		validate: validate,
		cfg:      cfg,
		logger:   observability.Component(logger, "checkout"),
		watchers: make(map[string]func()),
	}
}

// Submit validates the checkout, creates the order when needed and starts the payment.
// A declined or rejected payment is not an error: it is reported in the result.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := req.validate(c.validate); err != nil {
		return nil, err
	}

	release, err := c.locker.Acquire(ctx, req.lockKey(), c.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) {
			return nil, domainErrors.ErrCheckoutInProgress
		}
		return nil, fmt.Errorf("acquire checkout lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to release checkout lock")
		}
	}()

	var (
		ord    *order.Order
		result *paymentApp.Result
	)

	s := saga.New("checkout").WithLogger(c.logger).
		AddStep(saga.Step{
			Name: "create-order",
			Execute: func(ctx context.Context) error {
				if req.OrderID != "" {
					existing, err := c.orders.GetOrder(ctx, req.OrderID)
					if err != nil {
						return err
					}
					if existing.Status != order.StatusPending {
						return domainErrors.NewDomainError("order_not_payable",
							"order is "+strings.ToLower(string(existing.Status)), domainErrors.ErrInvalidInput)
					}
					ord = existing
					return nil
				}
				create, err := req.Booking.ToCreateRequest(string(req.Method))
				if err != nil {
					return err
				}
				created, err := c.orders.CreateOrder(ctx, create)
				if err != nil {
					return err
				}
				ord = created
				c.logger.Info().Str("order_id", created.ID).Msg("Order created for checkout")
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if req.OrderID != "" || ord == nil {
					return nil
				}
				_, err := c.orders.CancelOrderAndPayment(ctx, ord.ID, "")
				return err
			},
		}).
		AddStep(saga.Step{
			Name: "start-payment",
			Execute: func(ctx context.Context) error {
				amount := payment.NewAmount(ord.Price, "")
				res, err := c.orch.ProcessPayment(ctx, req.paymentRequest(ord.ID, amount))
				if err != nil {
					return err
				}
				result = res
				return nil
			},
		})

	if err := s.Execute(ctx); err != nil {
		c.logger.Warn().Err(err).Str("method", string(req.Method)).Msg("Checkout failed")
		return nil, err
	}

	c.watch(ord.ID)
	// A poll may have moved the order on before the watcher was registered.
	if current, ok := c.states.Get(ord.ID); ok {
		c.react(current)
	} else {
		c.react(result.State)
	}

	view := c.buildView(result.State)
	return &SubmitResult{OrderID: ord.ID, Payment: result, View: view}, nil
}

// Retry starts a new attempt for an order whose previous attempt failed.
func (c *Controller) Retry(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.OrderID == "" {
		return nil, domainErrors.NewValidationError("order_id", "is required")
	}
	state, ok := c.states.Get(req.OrderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrStateNotFound, req.OrderID)
	}
	switch {
	case state.Status == payment.StatusConfirmed:
		return nil, domainErrors.ErrPaymentAlreadyConfirmed
	case !state.Status.IsFailure():
		return nil, domainErrors.ErrPaymentInProgress
	}
	return c.Submit(ctx, req)
}

// View describes what the checkout page should show for the order.
func (c *Controller) View(orderID string) (View, error) {
	state, ok := c.states.Get(orderID)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", domainErrors.ErrStateNotFound, orderID)
	}
	return c.buildView(state), nil
}

// CheckNow reconciles the order with the gateway immediately.
func (c *Controller) CheckNow(ctx context.Context, orderID string) (View, error) {
	state, err := c.orch.CheckAndUpdatePaymentStatus(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	if state == nil {
		return View{}, fmt.Errorf("%w: %s", domainErrors.ErrStateNotFound, orderID)
	}
	return c.buildView(*state), nil
}

// Cancel cancels the order and its payment on the customer's request.
func (c *Controller) Cancel(ctx context.Context, orderID string) (View, error) {
	c.unwatch(orderID)
	state, err := c.orch.CancelPayment(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	if state == nil {
		return View{OrderID: orderID, NextAction: ActionFailed, Message: "The order was cancelled."}, nil
	}
	return c.buildView(*state), nil
}

// Banks lists the PSE banks, without the gateway's placeholder entry.
func (c *Controller) Banks(ctx context.Context) ([]gateway.Bank, error) {
	banks, err := c.catalog.GetPSEBanks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]gateway.Bank, 0, len(banks))
	for _, b := range banks {
		if b.Code == "" || b.Code == "0" {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *Controller) AcceptanceToken(ctx context.Context) (*gateway.AcceptanceToken, error) {
	return c.catalog.GetAcceptanceToken(ctx)
}

// Close drops every subscription and waits for pending cancellations.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	watchers := c.watchers
	c.watchers = make(map[string]func())
	c.mu.Unlock()

	for _, unsubscribe := range watchers {
		unsubscribe()
	}
	c.wg.Wait()
}

// watch follows the order's state until it settles.
func (c *Controller) watch(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.watchers[orderID]; ok {
		return
	}
	c.watchers[orderID] = c.states.Subscribe(orderID, c.react)
}

// unwatch reports whether a watcher was registered for the order.
func (c *Controller) unwatch(orderID string) bool {
	c.mu.Lock()
	unsubscribe, ok := c.watchers[orderID]
	delete(c.watchers, orderID)
	c.mu.Unlock()
	if ok {
		unsubscribe()
	}
	return ok
}

// react runs on every transition of a watched order. Creation failures have no
// gateway transaction and stay retryable; gateway-reported failures cancel the order.
// Only the call that removes the watcher acts on a terminal state.
func (c *Controller) react(state payment.State) {
	if !state.Status.IsTerminal() {
		return
	}
	if !c.unwatch(state.OrderID) {
		return
	}

	if !state.Status.IsFailure() || state.TransactionID == "" || !c.cfg.AutoCancel {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	log := observability.ForOrder(c.logger, state.OrderID, string(state.Method))
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := c.orch.CancelPayment(ctx, state.OrderID); err != nil {
			log.Warn().Err(err).Msg("Automatic cancellation after failed payment did not complete")
			return
		}
		log.Info().Str("reason", state.Error).Msg("Order cancelled after failed payment")
	}()
}
