package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/order"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	"github.com/cassiomorais/checkout/pkg/retry"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	cancelledMessage   = "payment cancelled"
	interruptedMessage = "payment interrupted"
)

// Config tunes polling and reference persistence.
type Config struct {
	PollInterval     time.Duration
	PollTimeout      time.Duration
	PersistAttempts  uint
	PersistBaseDelay time.Duration
	// ReturnURL is used for redirect flows when the request carries none.
	ReturnURL string
}

// DefaultConfig polls every 3s for at most 10m and persists with 3 linear attempts.
func DefaultConfig() Config {
	return Config{
		PollInterval:     DefaultPollInterval,
		PollTimeout:      DefaultPollTimeout,
		PersistAttempts:  3,
		PersistBaseDelay: time.Second,
	}
}

// Orchestrator drives a payment from request to a terminal state.
type Orchestrator struct {
	store      StateStore
	gateway    Gateway
	orders     OrderService
	strategies map[payment.Method]Strategy
	monitor    *Monitor
	locks      *keyLock
	validate   *validator.Validate
	clock      clock.Clock
	cfg        Config
	logger     zerolog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer

	startedMu sync.Mutex
	started   map[string]time.Time
}

func NewOrchestrator(
	store StateStore,
	gw Gateway,
	orders OrderService,
	clk clock.Clock,
	cfg Config,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if cfg.PersistAttempts == 0 {
		cfg.PersistAttempts = 1
	}
	o := &Orchestrator{
		store:      store,
		gateway:    gw,
		orders:     orders,
		strategies: defaultStrategies(),
		locks:      newKeyLock(),
		validate:   NewValidator(),
		clock:      clk,
		cfg:        cfg,
		logger:     observability.Component(logger, "orchestrator"),
		metrics:    metrics,
		tracer:     observability.Tracer("checkout/payment"),
		started:    make(map[string]time.Time),
	}
	o.monitor = NewMonitor(o.CheckAndUpdatePaymentStatus, clk, cfg.PollInterval, cfg.PollTimeout, logger, metrics)
	return o
}

// Monitor exposes the poller, mostly for lifecycle management.
func (o *Orchestrator) Monitor() *Monitor {
	return o.monitor
}

// Validator returns the validator with the payment rules registered.
func (o *Orchestrator) Validator() *validator.Validate {
	return o.validate
}

// ProcessPayment starts a payment attempt. Declines and validation failures are
// reported in the Result; an error means the request itself cannot be served.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "payment.ProcessPayment", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("payment.method", string(req.Method)),
	))
	defer span.End()

	var strategy Strategy
	if req.Method != payment.MethodCash {
		s, ok := o.strategies[req.Method]
		if !ok {
			err := fmt.Errorf("%w: %q", domainErrors.ErrUnsupportedMethod, req.Method)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		strategy = s
	}
	if req.OrderID == "" {
		return nil, domainErrors.NewValidationError("order_id", "is required")
	}

	unlock := o.locks.Lock(req.OrderID)
	defer unlock()

	log := observability.ForOrder(o.logger, req.OrderID, string(req.Method))

	if existing, ok := o.store.Get(req.OrderID); ok && (existing.Status.InFlight() || existing.Status == payment.StatusConfirmed) {
		log.Info().Str("status", string(existing.Status)).Msg("Payment already in progress, returning existing attempt")
		return resultFromState(existing), nil
	}

	if req.Method == payment.MethodCash {
		return o.processCash(ctx, req, log)
	}

	o.store.Create(req.OrderID, req.Method)
	o.markStarted(req.OrderID)

	if req.ReturnURL == "" {
		req.ReturnURL = o.cfg.ReturnURL
	}
	if err := Validate(o.validate, req); err != nil {
		log.Info().Err(err).Msg("Payment request rejected")
		return o.fail(req, err.Error())
	}

	if _, err := o.store.Update(req.OrderID, payment.StatusPatch(payment.StatusCreating)); err != nil {
		return nil, err
	}

	base := gateway.TransactionBase{
		AmountInCents:   req.Amount.MinorUnits(),
		Currency:        req.Amount.Currency,
		CustomerEmail:   req.CustomerEmail,
		Reference:       req.OrderID,
		AcceptanceToken: req.AcceptanceToken,
	}

	tx, err := strategy.Create(ctx, o.gateway, req, base)
	if err == nil && (tx == nil || tx.ID == "") {
		err = errors.New("gateway returned no transaction id")
	}
	if err != nil {
		log.Warn().Err(err).Msg("Gateway transaction creation failed")
		o.countGatewayError("create_transaction", err)
		span.RecordError(err)
		return o.fail(req, err.Error())
	}

	pending := payment.StatusPending
	state, err := o.store.Update(req.OrderID, payment.Patch{
		Status:        &pending,
		TransactionID: &tx.ID,
		RedirectURL:   &tx.RedirectURL,
	})
	if err != nil {
		return nil, err
	}
	o.countAttempt(req.Method, payment.StatusPending)
	span.SetAttributes(attribute.String("payment.transaction_id", tx.ID))
	log.Info().Str("transaction_id", tx.ID).Bool("redirect", tx.RedirectURL != "").Msg("Gateway transaction created")

	o.persistReference(ctx, req.OrderID, tx.ID, log)

	if tx.Status.Final() {
		state = o.reconcile(ctx, state, tx, log)
	}
	if !state.Status.IsTerminal() {
		o.monitor.Start(req.OrderID)
	}

	return resultFromState(state), nil
}

func (o *Orchestrator) processCash(ctx context.Context, req Request, log zerolog.Logger) (*Result, error) {
	o.store.Create(req.OrderID, payment.MethodCash)

	if _, err := o.orders.ConfirmCashPayment(ctx, req.OrderID); err != nil && !errors.Is(err, domainErrors.ErrPaymentAlreadyConfirmed) {
		log.Warn().Err(err).Msg("Cash confirmation failed")
		o.countGatewayError("confirm_cash", err)
		return o.fail(req, err.Error())
	}

	state, err := o.store.Update(req.OrderID, payment.StatusPatch(payment.StatusConfirmed))
	if err != nil {
		return nil, err
	}
	o.countAttempt(payment.MethodCash, payment.StatusConfirmed)
	log.Info().Msg("Cash payment confirmed")
	return resultFromState(state), nil
}

func (o *Orchestrator) fail(req Request, message string) (*Result, error) {
	state, err := o.store.Update(req.OrderID, payment.FailurePatch(payment.StatusError, message))
	if err != nil {
		return nil, err
	}
	o.countAttempt(req.Method, payment.StatusError)
	o.observeDuration(state)
	return &Result{Success: false, Error: state.Error, State: state}, nil
}

// persistReference attaches the transaction id to the order. Failure is logged only:
// the gateway transaction exists either way.
func (o *Orchestrator) persistReference(ctx context.Context, orderID, txID string, log zerolog.Logger) {
	cfg := retry.LinearConfig(o.cfg.PersistAttempts, o.cfg.PersistBaseDelay)
	cfg.OnRetry = func(n uint, err error) {
		if o.metrics != nil {
			o.metrics.PersistRetries.Inc()
		}
		log.Warn().Err(err).Uint("attempt", n+1).Msg("Persisting payment reference failed, retrying")
	}
	cfg.RetryIf = func(err error) bool {
		return !errors.Is(err, domainErrors.ErrOrderNotFound)
	}

	err := retry.Do(ctx, cfg, func() error {
		_, err := o.orders.UpdateOrder(ctx, orderID, order.UpdateRequest{PaymentIntentID: &txID})
		return err
	})
	if err != nil {
		o.countGatewayError("persist_reference", err)
		log.Error().Err(err).Str("transaction_id", txID).Msg("Could not persist payment reference on order")
	}
}

// CheckAndUpdatePaymentStatus pulls the gateway status into the store. It returns
// nil when the order has no payment state. Transient failures leave the state as is.
func (o *Orchestrator) CheckAndUpdatePaymentStatus(ctx context.Context, orderID string) (*payment.State, error) {
	ctx, span := o.tracer.Start(ctx, "payment.CheckAndUpdatePaymentStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	unlock := o.locks.Lock(orderID)
	defer unlock()

	state, ok := o.store.Get(orderID)
	if !ok {
		return nil, nil
	}
	log := observability.ForOrder(o.logger, orderID, string(state.Method))

	if state.Status == payment.StatusConfirmed || state.Status.IsFailure() {
		o.monitor.Stop(orderID)
		return &state, nil
	}

	txID := state.TransactionID
	if txID == "" {
		resolved, err := o.store.GetTransactionID(ctx, orderID)
		if err != nil {
			log.Warn().Err(err).Msg("Transaction id lookup failed")
		}
		if resolved == "" {
			return &state, nil
		}
		txID = resolved
		state, _ = o.store.Get(orderID)
	}

	tx, err := o.gateway.GetTransaction(ctx, txID)
	if err != nil {
		o.countGatewayError("get_transaction", err)
		span.RecordError(err)
		log.Warn().Err(err).Str("transaction_id", txID).Msg("Gateway status check failed")
		return &state, nil
	}
	o.countCheck(state.Method, tx.Status)

	state = o.reconcile(ctx, state, tx, log)
	return &state, nil
}

// reconcile applies a gateway status to the state. Callers hold the order lock.
func (o *Orchestrator) reconcile(ctx context.Context, state payment.State, tx *gateway.Transaction, log zerolog.Logger) payment.State {
	switch tx.Status {
	case gateway.StatusApproved:
		if state.Status != payment.StatusApproved {
			next, err := o.store.Update(state.OrderID, payment.StatusPatch(payment.StatusApproved))
			if err != nil {
				log.Error().Err(err).Msg("Could not record approval")
				return state
			}
			state = next
			o.countAttempt(state.Method, payment.StatusApproved)
		}
		return o.confirm(ctx, state, tx.ID, log)

	case gateway.StatusDeclined, gateway.StatusVoided, gateway.StatusError:
		status := payment.StatusDeclined
		if tx.Status == gateway.StatusError {
			status = payment.StatusError
		}
		message := tx.StatusMessage
		if message == "" {
			message = "transaction " + string(tx.Status)
		}
		next, err := o.store.Update(state.OrderID, payment.FailurePatch(status, message))
		if err != nil {
			log.Error().Err(err).Msg("Could not record payment failure")
			return state
		}
		o.monitor.Stop(state.OrderID)
		o.countAttempt(next.Method, next.Status)
		o.observeDuration(next)
		log.Info().Str("status", string(next.Status)).Str("reason", message).Msg("Payment failed at gateway")
		return next

	default:
		return state
	}
}

func (o *Orchestrator) confirm(ctx context.Context, state payment.State, txID string, log zerolog.Logger) payment.State {
	if state.Status == payment.StatusConfirmed {
		return state
	}

	_, err := o.orders.ConfirmOrderPayment(ctx, state.OrderID, txID)
	switch {
	case err == nil:
		o.countConfirmation("confirmed")
	case errors.Is(err, domainErrors.ErrPaymentAlreadyConfirmed):
		o.countConfirmation("duplicate")
		log.Info().Msg("Order payment was already confirmed")
	default:
		o.countConfirmation("failed")
		o.countGatewayError("confirm_payment", err)
		log.Warn().Err(err).Msg("Order confirmation failed, will retry on next check")
		return state
	}

	next, err := o.store.Update(state.OrderID, payment.StatusPatch(payment.StatusConfirmed))
	if err != nil {
		log.Error().Err(err).Msg("Could not record confirmation")
		return state
	}
	o.monitor.Stop(state.OrderID)
	o.countAttempt(next.Method, next.Status)
	o.observeDuration(next)
	log.Info().Str("transaction_id", txID).Msg("Payment confirmed")
	return next
}

// CancelPayment cancels the gateway transaction (best effort) and the order.
func (o *Orchestrator) CancelPayment(ctx context.Context, orderID string) (*payment.State, error) {
	ctx, span := o.tracer.Start(ctx, "payment.CancelPayment", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	unlock := o.locks.Lock(orderID)
	defer unlock()

	state, hasState := o.store.Get(orderID)
	log := observability.ForOrder(o.logger, orderID, string(state.Method))

	if hasState && state.Status == payment.StatusConfirmed {
		return &state, domainErrors.NewDomainError("not_cancellable", "payment already confirmed", domainErrors.ErrOrderNotCancellable)
	}

	txID, err := o.store.GetTransactionID(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Msg("Transaction id lookup failed")
	}

	if txID != "" {
		if err := o.gateway.CancelTransaction(ctx, txID); err != nil {
			o.countGatewayError("cancel_transaction", err)
			log.Warn().Err(err).Str("transaction_id", txID).Msg("Gateway cancellation failed, cancelling order anyway")
		}
	}

	if _, err := o.orders.CancelOrderAndPayment(ctx, orderID, txID); err != nil {
		span.RecordError(err)
		if errors.Is(err, domainErrors.ErrOrderNotCancellable) {
			return nil, domainErrors.NewDomainError("not_cancellable", "the order can no longer be cancelled", err)
		}
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	o.monitor.Stop(orderID)

	state, hasState = o.store.Get(orderID)
	if !hasState {
		return nil, nil
	}
	if !state.Status.IsTerminal() {
		next, err := o.store.Update(orderID, payment.FailurePatch(payment.StatusError, cancelledMessage))
		if err != nil {
			return nil, err
		}
		state = next
	}
	log.Info().Str("transaction_id", txID).Msg("Payment cancelled")
	return &state, nil
}

// ResumePending restarts polling for rehydrated attempts still waiting on the gateway.
// Attempts interrupted before the gateway returned a transaction id are failed so
// the order can be retried.
func (o *Orchestrator) ResumePending() int {
	resumed := 0
	for _, state := range o.store.All() {
		if state.TransactionID == "" && (state.Status == payment.StatusIdle || state.Status == payment.StatusCreating) {
			state = o.recoverInterrupted(state)
		}
		if state.TransactionID == "" {
			continue
		}
		if state.Status != payment.StatusPending && state.Status != payment.StatusApproved {
			continue
		}
		if o.monitor.Start(state.OrderID) {
			resumed++
		}
	}
	if resumed > 0 {
		o.logger.Info().Int("count", resumed).Msg("Resumed payment monitors")
	}
	return resumed
}

// recoverInterrupted adopts a legacy transaction id when one exists and otherwise
// moves the attempt to ERROR.
func (o *Orchestrator) recoverInterrupted(state payment.State) payment.State {
	unlock := o.locks.Lock(state.OrderID)
	defer unlock()

	log := observability.ForOrder(o.logger, state.OrderID, string(state.Method))
	txID, err := o.store.GetTransactionID(context.Background(), state.OrderID)
	if err != nil {
		log.Warn().Err(err).Msg("Transaction id lookup failed")
	}
	if txID != "" {
		if current, ok := o.store.Get(state.OrderID); ok {
			return current
		}
		return state
	}

	failed, err := o.store.Update(state.OrderID, payment.FailurePatch(payment.StatusError, interruptedMessage))
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark interrupted payment")
		return state
	}
	o.countAttempt(state.Method, payment.StatusError)
	log.Warn().Str("status", string(state.Status)).Msg("Payment interrupted before gateway acknowledgement")
	return failed
}

// Close stops every poller.
func (o *Orchestrator) Close() {
	o.monitor.Close()
}

func (o *Orchestrator) countAttempt(method payment.Method, status payment.Status) {
	if o.metrics != nil {
		o.metrics.PaymentAttemptsTotal.WithLabelValues(string(method), string(status)).Inc()
	}
}

func (o *Orchestrator) countCheck(method payment.Method, status gateway.TransactionStatus) {
	if o.metrics != nil {
		o.metrics.StatusChecksTotal.WithLabelValues(string(method), string(status)).Inc()
	}
}

func (o *Orchestrator) countConfirmation(result string) {
	if o.metrics != nil {
		o.metrics.ConfirmationsTotal.WithLabelValues(result).Inc()
	}
}

func (o *Orchestrator) countGatewayError(operation string, err error) {
	if o.metrics == nil {
		return
	}
	kind := "other"
	switch {
	case errors.Is(err, domainErrors.ErrGatewayUnavailable):
		kind = "unavailable"
	case errors.Is(err, domainErrors.ErrGatewayTimeout):
		kind = "timeout"
	case errors.Is(err, domainErrors.ErrGatewayRejected):
		kind = "rejected"
	case errors.Is(err, domainErrors.ErrOrderNotFound):
		kind = "not_found"
	}
	o.metrics.GatewayErrors.WithLabelValues(operation, kind).Inc()
}

func (o *Orchestrator) markStarted(orderID string) {
	o.startedMu.Lock()
	o.started[orderID] = o.clock.Now()
	o.startedMu.Unlock()
}

// observeDuration records attempts started by this process; resumed ones are skipped.
func (o *Orchestrator) observeDuration(s payment.State) {
	o.startedMu.Lock()
	start, ok := o.started[s.OrderID]
	delete(o.started, s.OrderID)
	o.startedMu.Unlock()

	if !ok || o.metrics == nil {
		return
	}
	o.metrics.PaymentDuration.WithLabelValues(string(s.Method), string(s.Status)).
		Observe(o.clock.Since(start).Seconds())
}
