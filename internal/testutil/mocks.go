package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/order"
	"github.com/cassiomorais/checkout/internal/domain/payment"
)

// --- Gateway Mock ---

// MockGateway is a mock of the payment-gateway proxy. Unset funcs return a PENDING transaction.
type MockGateway struct {
	mu    sync.Mutex
	calls map[string]int
	seq   int

	CreateNequiFunc       func(ctx context.Context, req gateway.NequiRequest) (*gateway.Transaction, error)
	CreatePSEFunc         func(ctx context.Context, req gateway.PSERequest) (*gateway.Transaction, error)
	CreateBancolombiaFunc func(ctx context.Context, req gateway.BancolombiaRequest) (*gateway.Transaction, error)
	TokenizeCardFunc      func(ctx context.Context, card gateway.CardData) (*gateway.CardToken, error)
	CreateCardFunc        func(ctx context.Context, req gateway.CardRequest) (*gateway.Transaction, error)
	GetTransactionFunc    func(ctx context.Context, id string) (*gateway.Transaction, error)
	CancelTransactionFunc func(ctx context.Context, id string) error
	GetPSEBanksFunc       func(ctx context.Context) ([]gateway.Bank, error)
	GetAcceptanceFunc     func(ctx context.Context) (*gateway.AcceptanceToken, error)
}

func NewMockGateway() *MockGateway {
	return &MockGateway{calls: make(map[string]int)}
}

func (m *MockGateway) record(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	m.seq++
	return m.seq
}

// Calls returns how many times the named method was called.
func (m *MockGateway) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// TotalCalls returns the number of calls across all methods.
func (m *MockGateway) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func pendingTx(seq int) *gateway.Transaction {
	return &gateway.Transaction{ID: fmt.Sprintf("tx-%d", seq), Status: gateway.StatusPending}
}

func (m *MockGateway) CreateNequiTransaction(ctx context.Context, req gateway.NequiRequest) (*gateway.Transaction, error) {
	seq := m.record("CreateNequiTransaction")
	if m.CreateNequiFunc != nil {
		return m.CreateNequiFunc(ctx, req)
	}
	return pendingTx(seq), nil
}

func (m *MockGateway) CreatePSETransaction(ctx context.Context, req gateway.PSERequest) (*gateway.Transaction, error) {
	seq := m.record("CreatePSETransaction")
	if m.CreatePSEFunc != nil {
		return m.CreatePSEFunc(ctx, req)
	}
	tx := pendingTx(seq)
	tx.RedirectURL = "https://pse.example/redirect/" + tx.ID
	return tx, nil
}

func (m *MockGateway) CreateBancolombiaTransaction(ctx context.Context, req gateway.BancolombiaRequest) (*gateway.Transaction, error) {
	seq := m.record("CreateBancolombiaTransaction")
	if m.CreateBancolombiaFunc != nil {
		return m.CreateBancolombiaFunc(ctx, req)
	}
	tx := pendingTx(seq)
	tx.RedirectURL = "https://bancolombia.example/redirect/" + tx.ID
	return tx, nil
}

func (m *MockGateway) TokenizeCard(ctx context.Context, card gateway.CardData) (*gateway.CardToken, error) {
	seq := m.record("TokenizeCard")
	if m.TokenizeCardFunc != nil {
		return m.TokenizeCardFunc(ctx, card)
	}
	return &gateway.CardToken{ID: fmt.Sprintf("tok-%d", seq), Status: "CREATED"}, nil
}

func (m *MockGateway) CreateCardTransaction(ctx context.Context, req gateway.CardRequest) (*gateway.Transaction, error) {
	seq := m.record("CreateCardTransaction")
	if m.CreateCardFunc != nil {
		return m.CreateCardFunc(ctx, req)
	}
	return pendingTx(seq), nil
}

func (m *MockGateway) GetTransaction(ctx context.Context, id string) (*gateway.Transaction, error) {
	m.record("GetTransaction")
	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, id)
	}
	return &gateway.Transaction{ID: id, Status: gateway.StatusPending}, nil
}

func (m *MockGateway) CancelTransaction(ctx context.Context, id string) error {
	m.record("CancelTransaction")
	if m.CancelTransactionFunc != nil {
		return m.CancelTransactionFunc(ctx, id)
	}
	return nil
}

func (m *MockGateway) GetPSEBanks(ctx context.Context) ([]gateway.Bank, error) {
	m.record("GetPSEBanks")
	if m.GetPSEBanksFunc != nil {
		return m.GetPSEBanksFunc(ctx)
	}
	return []gateway.Bank{
		{Code: "0", Name: "A continuación seleccione su banco"},
		{Code: "1022", Name: "BANCO UNION COLOMBIANO"},
	}, nil
}

func (m *MockGateway) GetAcceptanceToken(ctx context.Context) (*gateway.AcceptanceToken, error) {
	m.record("GetAcceptanceToken")
	if m.GetAcceptanceFunc != nil {
		return m.GetAcceptanceFunc(ctx)
	}
	return &gateway.AcceptanceToken{Token: "acceptance-token", Permalink: "https://gateway.example/terms.pdf"}, nil
}

// --- Order Service Mock ---

// MockOrderService is an in-memory order backend.
type MockOrderService struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	calls  map[string]int
	seq    int

	CreateOrderFunc       func(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	GetOrderFunc          func(ctx context.Context, id string) (*order.Order, error)
	UpdateOrderStatusFunc func(ctx context.Context, id string, status order.Status) (*order.Order, error)
	UpdateOrderFunc       func(ctx context.Context, id string, req order.UpdateRequest) (*order.Order, error)
	ConfirmPaymentFunc    func(ctx context.Context, id, transactionID string) (*order.Order, error)
	ConfirmCashFunc       func(ctx context.Context, id string) (*order.Order, error)
	CancelFunc            func(ctx context.Context, id, transactionID string) (*order.Order, error)
}

func NewMockOrderService() *MockOrderService {
	return &MockOrderService{
		orders: make(map[string]*order.Order),
		calls:  make(map[string]int),
	}
}

// AddOrder seeds an order.
func (m *MockOrderService) AddOrder(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// Order returns a copy of the stored order, or nil.
func (m *MockOrderService) Order(id string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// Calls returns how many times the named method was called.
func (m *MockOrderService) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockOrderService) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
}

func (m *MockOrderService) mutate(id string, fn func(o *order.Order) error) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (m *MockOrderService) CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error) {
	m.record("CreateOrder")
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := time.Now()
	o := &order.Order{
		ID:            fmt.Sprintf("order-%d", m.seq),
		EncargadoID:   req.EncargadoID,
		CategoryID:    req.CategoryID,
		ServiceName:   req.ServiceName,
		Description:   req.Description,
		Address:       req.Address,
		ScheduledAt:   req.ScheduledAt,
		Price:         req.Price,
		PaymentMethod: req.PaymentMethod,
		Status:        order.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (m *MockOrderService) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	m.record("GetOrder")
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, id)
	}
	if o := m.Order(id); o != nil {
		return o, nil
	}
	return nil, domainErrors.ErrOrderNotFound
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, id string, status order.Status) (*order.Order, error) {
	m.record("UpdateOrderStatus")
	if m.UpdateOrderStatusFunc != nil {
		return m.UpdateOrderStatusFunc(ctx, id, status)
	}
	return m.mutate(id, func(o *order.Order) error {
		o.Status = status
		return nil
	})
}

func (m *MockOrderService) UpdateOrder(ctx context.Context, id string, req order.UpdateRequest) (*order.Order, error) {
	m.record("UpdateOrder")
	if m.UpdateOrderFunc != nil {
		return m.UpdateOrderFunc(ctx, id, req)
	}
	return m.mutate(id, func(o *order.Order) error {
		if req.PaymentIntentID != nil {
			o.PaymentIntentID = *req.PaymentIntentID
		}
		return nil
	})
}

// ConfirmOrderPayment behaves like an idempotent backend: a second call for the
// same transaction answers ErrPaymentAlreadyConfirmed.
func (m *MockOrderService) ConfirmOrderPayment(ctx context.Context, id, transactionID string) (*order.Order, error) {
	m.record("ConfirmOrderPayment")
	if m.ConfirmPaymentFunc != nil {
		return m.ConfirmPaymentFunc(ctx, id, transactionID)
	}
	return m.mutate(id, func(o *order.Order) error {
		if o.PaymentStatus == "PAID" {
			return domainErrors.ErrPaymentAlreadyConfirmed
		}
		o.PaymentStatus = "PAID"
		if transactionID != "" {
			o.PaymentIntentID = transactionID
		}
		return nil
	})
}

func (m *MockOrderService) ConfirmCashPayment(ctx context.Context, id string) (*order.Order, error) {
	m.record("ConfirmCashPayment")
	if m.ConfirmCashFunc != nil {
		return m.ConfirmCashFunc(ctx, id)
	}
	return m.mutate(id, func(o *order.Order) error {
		o.PaymentStatus = "CASH_PENDING"
		o.PaymentMethod = string(payment.MethodCash)
		return nil
	})
}

func (m *MockOrderService) CancelOrderAndPayment(ctx context.Context, id, transactionID string) (*order.Order, error) {
	m.record("CancelOrderAndPayment")
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id, transactionID)
	}
	return m.mutate(id, func(o *order.Order) error {
		if !o.Status.Cancellable() {
			return domainErrors.ErrOrderNotCancellable
		}
		o.Status = order.StatusCancelled
		o.PaymentStatus = "CANCELLED"
		return nil
	})
}

// --- Event Repository Mock ---

// MockEventRepository is a mock implementation of payment.EventRepository.
type MockEventRepository struct {
	mu     sync.Mutex
	events map[string][]*payment.TransitionEvent

	AddEventFunc   func(ctx context.Context, event *payment.TransitionEvent) error
	ListEventsFunc func(ctx context.Context, orderID string, limit int) ([]*payment.TransitionEvent, error)
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{events: make(map[string][]*payment.TransitionEvent)}
}

func (m *MockEventRepository) AddEvent(ctx context.Context, event *payment.TransitionEvent) error {
	if m.AddEventFunc != nil {
		return m.AddEventFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.OrderID] = append(m.events[event.OrderID], event)
	return nil
}

func (m *MockEventRepository) ListEvents(ctx context.Context, orderID string, limit int) ([]*payment.TransitionEvent, error) {
	if m.ListEventsFunc != nil {
		return m.ListEventsFunc(ctx, orderID, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[orderID]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	out := make([]*payment.TransitionEvent, len(events))
	copy(out, events)
	return out, nil
}

// --- Locker Mock ---

// MockLocker is an in-process stand-in for the distributed lock.
type MockLocker struct {
	mu   sync.Mutex
	held map[string]bool

	AcquireFunc func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]bool)}
}

func (m *MockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domainErrors.ErrLockAcquisitionFailed
	}
	m.held[key] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
		return nil
	}, nil
}

// Held reports whether key is currently locked.
func (m *MockLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[key]
}
