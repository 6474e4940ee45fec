package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	paymentApp "github.com/cassiomorais/checkout/internal/application/payment"
	"github.com/cassiomorais/checkout/internal/application/paymentstate"
	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/order"
	domainPayment "github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	"github.com/cassiomorais/checkout/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderID = "order-1"

type fixture struct {
	orch    *paymentApp.Orchestrator
	store   *paymentstate.Store
	storage *paymentstate.MemoryStorage
	gw      *testutil.MockGateway
	orders  *testutil.MockOrderService
	clock   *clock.Mock
}

func newFixture(t *testing.T, opts ...func(*paymentApp.Config)) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))

	storage := paymentstate.NewMemoryStorage()
	store := paymentstate.NewStore(storage, mock, zerolog.Nop())
	gw := testutil.NewMockGateway()
	orders := testutil.NewMockOrderService()
	orders.AddOrder(testutil.NewTestOrder(orderID, 50000))

	cfg := paymentApp.Config{
		PollInterval:     3 * time.Second,
		PollTimeout:      10 * time.Minute,
		PersistAttempts:  3,
		PersistBaseDelay: time.Millisecond,
		ReturnURL:        "https://shop.example/checkout/result",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	orch := paymentApp.NewOrchestrator(store, gw, orders, mock, cfg, zerolog.Nop(), observability.NewTestMetrics())
	t.Cleanup(orch.Close)

	return &fixture{orch: orch, store: store, storage: storage, gw: gw, orders: orders, clock: mock}
}

func nequiRequest() paymentApp.Request {
	return paymentApp.Request{
		OrderID:       orderID,
		Method:        domainPayment.MethodNequi,
		Amount:        domainPayment.NewAmount(50000, "COP"),
		CustomerEmail: "ana@example.com",
		Nequi:         &paymentApp.NequiDetails{PhoneNumber: testutil.TestPhone},
	}
}

func pseRequest() paymentApp.Request {
	return paymentApp.Request{
		OrderID:       orderID,
		Method:        domainPayment.MethodPSE,
		Amount:        domainPayment.NewAmount(85000, "COP"),
		CustomerEmail: "ana@example.com",
		PSE: &paymentApp.PSEDetails{
			BankCode:    "1022",
			UserType:    0,
			LegalIDType: "CC",
			LegalID:     "1020304050",
		},
	}
}

func (f *fixture) state(t *testing.T) domainPayment.State {
	t.Helper()
	s, ok := f.store.Get(orderID)
	require.True(t, ok)
	return s
}

func TestProcessPayment_Nequi(t *testing.T) {
	f := newFixture(t)
	var sent gateway.NequiRequest
	f.gw.CreateNequiFunc = func(_ context.Context, req gateway.NequiRequest) (*gateway.Transaction, error) {
		sent = req
		return &gateway.Transaction{ID: "tx1", Status: gateway.StatusPending}, nil
	}

	result, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.RequiresRedirect)
	assert.Equal(t, "tx1", result.TransactionID)

	state := f.state(t)
	assert.Equal(t, domainPayment.StatusPending, state.Status)
	assert.Equal(t, "tx1", state.TransactionID)

	assert.Equal(t, int64(5000000), sent.AmountInCents)
	assert.Equal(t, "COP", sent.Currency)
	assert.Equal(t, testutil.TestPhone, sent.PhoneNumber)
	assert.Equal(t, orderID, sent.Reference)

	assert.Equal(t, "tx1", f.orders.Order(orderID).PaymentIntentID)
	assert.True(t, f.orch.Monitor().Running(orderID))
}

func TestProcessPayment_PSERedirect(t *testing.T) {
	f := newFixture(t)
	var sent gateway.PSERequest
	f.gw.CreatePSEFunc = func(_ context.Context, req gateway.PSERequest) (*gateway.Transaction, error) {
		sent = req
		return &gateway.Transaction{ID: "tx-pse", Status: gateway.StatusPending, RedirectURL: "https://bank.example/pse/tx-pse"}, nil
	}

	result, err := f.orch.ProcessPayment(context.Background(), pseRequest())
	require.NoError(t, err)

	assert.True(t, result.RequiresRedirect)
	assert.Equal(t, "https://bank.example/pse/tx-pse", result.RedirectURL)
	assert.Equal(t, "https://bank.example/pse/tx-pse", f.state(t).RedirectURL)

	assert.Equal(t, "1022", sent.FinancialInstitutionCode)
	assert.Equal(t, "CC", sent.UserLegalIDType)
	assert.Equal(t, "https://shop.example/checkout/result", sent.RedirectURL)
}

func TestProcessPayment_PSEDeclinedOnCreateNeedsNoRedirect(t *testing.T) {
	f := newFixture(t)
	f.gw.CreatePSEFunc = func(context.Context, gateway.PSERequest) (*gateway.Transaction, error) {
		return &gateway.Transaction{
			ID:            "tx-pse",
			Status:        gateway.StatusDeclined,
			StatusMessage: "Banco no disponible",
			RedirectURL:   "https://bank.example/pse/tx-pse",
		}, nil
	}

	result, err := f.orch.ProcessPayment(context.Background(), pseRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.RequiresRedirect)
	assert.Equal(t, domainPayment.StatusDeclined, result.State.Status)
}

func TestProcessPayment_RedirectMethodWithoutReturnURL(t *testing.T) {
	f := newFixture(t, func(cfg *paymentApp.Config) { cfg.ReturnURL = "" })

	result, err := f.orch.ProcessPayment(context.Background(), pseRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "return_url")
	assert.Equal(t, domainPayment.StatusError, f.state(t).Status)
	assert.Equal(t, 0, f.gw.TotalCalls())
}

func TestProcessPayment_RequestReturnURLOverridesConfig(t *testing.T) {
	f := newFixture(t, func(cfg *paymentApp.Config) { cfg.ReturnURL = "" })
	var sent gateway.BancolombiaRequest
	f.gw.CreateBancolombiaFunc = func(_ context.Context, req gateway.BancolombiaRequest) (*gateway.Transaction, error) {
		sent = req
		return &gateway.Transaction{ID: "tx-bc", Status: gateway.StatusPending, RedirectURL: "https://bank.example/bc/tx-bc"}, nil
	}

	result, err := f.orch.ProcessPayment(context.Background(), paymentApp.Request{
		OrderID:       orderID,
		Method:        domainPayment.MethodBancolombia,
		Amount:        domainPayment.NewAmount(50000, "COP"),
		CustomerEmail: "ana@example.com",
		ReturnURL:     "https://shop.example/back",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.RequiresRedirect)
	assert.Equal(t, "https://shop.example/back", sent.RedirectURL)
}

func TestProcessPayment_PollApprovedThenConfirmed(t *testing.T) {
	f := newFixture(t)
	f.gw.GetTransactionFunc = func(_ context.Context, id string) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: id, Status: gateway.StatusApproved}, nil
	}

	var statuses []domainPayment.Status
	done := make(chan struct{})
	f.store.Subscribe(orderID, func(s domainPayment.State) {
		statuses = append(statuses, s.Status)
		if s.Status == domainPayment.StatusConfirmed {
			close(done)
		}
	})

	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	f.clock.Add(3 * time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("payment was not confirmed")
	}
	assert.Eventually(t, func() bool { return !f.orch.Monitor().Running(orderID) }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []domainPayment.Status{
		domainPayment.StatusIdle,
		domainPayment.StatusCreating,
		domainPayment.StatusPending,
		domainPayment.StatusApproved,
		domainPayment.StatusConfirmed,
	}, statuses)
	assert.Equal(t, 1, f.orders.Calls("ConfirmOrderPayment"))

	queries := f.gw.Calls("GetTransaction")
	f.clock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, queries, f.gw.Calls("GetTransaction"))
}

func TestCheckAndUpdate_Declined(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	f.gw.GetTransactionFunc = func(_ context.Context, id string) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: id, Status: gateway.StatusDeclined, StatusMessage: "Fondos insuficientes"}, nil
	}

	state, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, domainPayment.StatusDeclined, state.Status)
	assert.Equal(t, "Fondos insuficientes", state.Error)
	assert.False(t, f.orch.Monitor().Running(orderID))
	assert.Equal(t, 0, f.orders.Calls("ConfirmOrderPayment"))
}

func TestCheckAndUpdate_GatewayErrorStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	f.gw.GetTransactionFunc = func(_ context.Context, id string) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: id, Status: gateway.StatusError}, nil
	}

	state, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domainPayment.StatusError, state.Status)
	assert.NotEmpty(t, state.Error)
}

func TestCheckAndUpdate_IdempotentAfterConfirmed(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)
	f.gw.GetTransactionFunc = func(_ context.Context, id string) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: id, Status: gateway.StatusApproved}, nil
	}

	state, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, domainPayment.StatusConfirmed, state.Status)
	queries := f.gw.Calls("GetTransaction")

	for i := 0; i < 3; i++ {
		again, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
		require.NoError(t, err)
		assert.Equal(t, domainPayment.StatusConfirmed, again.Status)
	}

	assert.Equal(t, 1, f.orders.Calls("ConfirmOrderPayment"))
	assert.Equal(t, queries, f.gw.Calls("GetTransaction"))
}

func TestCheckAndUpdate_DuplicateConfirmationTolerated(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	// The backend already recorded this payment, e.g. from another device.
	_, err = f.orders.ConfirmOrderPayment(context.Background(), orderID, "tx-1")
	require.NoError(t, err)

	f.gw.GetTransactionFunc = func(_ context.Context, id string) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: id, Status: gateway.StatusApproved}, nil
	}

	state, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domainPayment.StatusConfirmed, state.Status)
	assert.Equal(t, "PAID", f.orders.Order(orderID).PaymentStatus)
}

func TestCheckAndUpdate_ConfirmFailureStaysApproved(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	f.gw.GetTransactionFunc = func(_ context.Context, id string) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: id, Status: gateway.StatusApproved}, nil
	}
	f.orders.ConfirmPaymentFunc = func(context.Context, string, string) (*order.Order, error) {
		return nil, domainErrors.ErrGatewayUnavailable
	}

	state, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domainPayment.StatusApproved, state.Status)
	assert.True(t, f.orch.Monitor().Running(orderID))

	f.orders.ConfirmPaymentFunc = nil
	state, err = f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domainPayment.StatusConfirmed, state.Status)
	assert.False(t, f.orch.Monitor().Running(orderID))
}

func TestCheckAndUpdate_TransientGatewayFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	f.gw.GetTransactionFunc = func(context.Context, string) (*gateway.Transaction, error) {
		return nil, domainErrors.ErrGatewayTimeout
	}

	state, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domainPayment.StatusPending, state.Status)
	assert.True(t, f.orch.Monitor().Running(orderID))
}

func TestCheckAndUpdate_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	state, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Equal(t, 0, f.gw.TotalCalls())
}

func TestCheckAndUpdate_LegacyTransactionIDConfirms(t *testing.T) {
	f := newFixture(t)
	f.store.Create(orderID, domainPayment.MethodBancolombia)
	f.storage.SetLegacyTransactionID(orderID, "legacy-tx")
	f.gw.GetTransactionFunc = func(_ context.Context, id string) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: id, Status: gateway.StatusApproved}, nil
	}

	state, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, domainPayment.StatusConfirmed, state.Status)
	assert.Equal(t, "legacy-tx", state.TransactionID)
	assert.Equal(t, 1, f.orders.Calls("ConfirmOrderPayment"))

	again, err := f.orch.CheckAndUpdatePaymentStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domainPayment.StatusConfirmed, again.Status)
	assert.Equal(t, 1, f.orders.Calls("ConfirmOrderPayment"))
}

func TestProcessPayment_Cash(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.ProcessPayment(context.Background(), paymentApp.Request{
		OrderID: orderID,
		Method:  domainPayment.MethodCash,
		Amount:  domainPayment.NewAmount(50000, "COP"),
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domainPayment.StatusConfirmed, result.State.Status)
	assert.Equal(t, 0, f.gw.TotalCalls())
	assert.Equal(t, 1, f.orders.Calls("ConfirmCashPayment"))
	assert.Equal(t, "CASH_PENDING", f.orders.Order(orderID).PaymentStatus)
	assert.False(t, f.orch.Monitor().Running(orderID))
}

func TestProcessPayment_ValidationFailureSkipsGateway(t *testing.T) {
	f := newFixture(t)
	req := nequiRequest()
	req.Nequi.PhoneNumber = "12345"

	result, err := f.orch.ProcessPayment(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "phonenumber")
	assert.Equal(t, domainPayment.StatusError, f.state(t).Status)
	assert.Equal(t, 0, f.gw.TotalCalls())
	assert.False(t, f.orch.Monitor().Running(orderID))
}

func TestProcessPayment_MissingPayload(t *testing.T) {
	f := newFixture(t)
	req := nequiRequest()
	req.Nequi = nil

	result, err := f.orch.ProcessPayment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "phone number is required")
}

func TestProcessPayment_GatewayCreationFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.CreateNequiFunc = func(context.Context, gateway.NequiRequest) (*gateway.Transaction, error) {
		return nil, errors.New("phone not registered in Nequi")
	}

	result, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	state := f.state(t)
	assert.Equal(t, domainPayment.StatusError, state.Status)
	assert.Equal(t, "phone not registered in Nequi", state.Error)
	assert.Empty(t, state.TransactionID)
	assert.False(t, f.orch.Monitor().Running(orderID))
	assert.Equal(t, 0, f.orders.Calls("UpdateOrder"))
}

func TestProcessPayment_UnsupportedMethod(t *testing.T) {
	f := newFixture(t)
	req := nequiRequest()
	req.Method = domainPayment.Method("bitcoin")

	_, err := f.orch.ProcessPayment(context.Background(), req)
	assert.ErrorIs(t, err, domainErrors.ErrUnsupportedMethod)
	_, ok := f.store.Get(orderID)
	assert.False(t, ok)
}

func TestProcessPayment_ReturnsExistingAttemptWhileInFlight(t *testing.T) {
	f := newFixture(t)

	first, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)
	second, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 1, f.gw.Calls("CreateNequiTransaction"))
}

func TestProcessPayment_RetryAfterFailureStartsNewAttempt(t *testing.T) {
	f := newFixture(t)
	f.gw.CreateNequiFunc = func(context.Context, gateway.NequiRequest) (*gateway.Transaction, error) {
		return nil, errors.New("rate limited")
	}
	result, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)
	require.False(t, result.Success)

	f.gw.CreateNequiFunc = nil
	result, err = f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	state := f.state(t)
	assert.Equal(t, domainPayment.StatusPending, state.Status)
	assert.Empty(t, state.Error)
}

func TestProcessPayment_CardApprovedSynchronously(t *testing.T) {
	f := newFixture(t)
	var token string
	f.gw.CreateCardFunc = func(_ context.Context, req gateway.CardRequest) (*gateway.Transaction, error) {
		token = req.Token
		return &gateway.Transaction{ID: "tx-card", Status: gateway.StatusApproved}, nil
	}

	result, err := f.orch.ProcessPayment(context.Background(), paymentApp.Request{
		OrderID:       orderID,
		Method:        domainPayment.MethodCard,
		Amount:        domainPayment.NewAmount(120000, "COP"),
		CustomerEmail: "ana@example.com",
		Card: &paymentApp.CardDetails{
			Number:   testutil.TestCardNumber,
			CVC:      "123",
			ExpMonth: "08",
			ExpYear:  "29",
			Holder:   "Ana Gomez",
		},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domainPayment.StatusConfirmed, result.State.Status)
	assert.NotEmpty(t, token)
	assert.Equal(t, 1, f.gw.Calls("TokenizeCard"))
	assert.Equal(t, 1, f.orders.Calls("ConfirmOrderPayment"))
	assert.False(t, f.orch.Monitor().Running(orderID))
}

func TestProcessPayment_CardDeclinedSynchronously(t *testing.T) {
	f := newFixture(t)
	f.gw.CreateCardFunc = func(context.Context, gateway.CardRequest) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: "tx-card", Status: gateway.StatusDeclined, StatusMessage: "Invalid CVC"}, nil
	}

	result, err := f.orch.ProcessPayment(context.Background(), paymentApp.Request{
		OrderID:       orderID,
		Method:        domainPayment.MethodCard,
		Amount:        domainPayment.NewAmount(120000, "COP"),
		CustomerEmail: "ana@example.com",
		Card: &paymentApp.CardDetails{
			Number: testutil.TestCardNumber, CVC: "123", ExpMonth: "08", ExpYear: "29", Holder: "Ana Gomez",
		},
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, domainPayment.StatusDeclined, result.State.Status)
	assert.Equal(t, "tx-card", result.TransactionID)
	assert.False(t, f.orch.Monitor().Running(orderID))
}

func TestProcessPayment_CardFailsLuhn(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.ProcessPayment(context.Background(), paymentApp.Request{
		OrderID:       orderID,
		Method:        domainPayment.MethodCard,
		Amount:        domainPayment.NewAmount(120000, "COP"),
		CustomerEmail: "ana@example.com",
		Card: &paymentApp.CardDetails{
			Number: "4242424242424241", CVC: "123", ExpMonth: "08", ExpYear: "29", Holder: "Ana Gomez",
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 0, f.gw.TotalCalls())
}

func TestProcessPayment_PersistReferenceRetries(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	f.orders.UpdateOrderFunc = func(_ context.Context, _ string, req order.UpdateRequest) (*order.Order, error) {
		attempts++
		if attempts < 3 {
			return nil, domainErrors.ErrGatewayUnavailable
		}
		return &order.Order{ID: orderID, PaymentIntentID: *req.PaymentIntentID}, nil
	}

	result, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, attempts)
}

func TestProcessPayment_PersistReferenceFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.orders.UpdateOrderFunc = func(context.Context, string, order.UpdateRequest) (*order.Order, error) {
		return nil, domainErrors.ErrGatewayUnavailable
	}

	result, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, f.orders.Calls("UpdateOrder"))
	assert.Equal(t, domainPayment.StatusPending, f.state(t).Status)
	assert.True(t, f.orch.Monitor().Running(orderID))
}

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)

	state, err := f.orch.CancelPayment(context.Background(), orderID)
	require.NoError(t, err)

	assert.Equal(t, domainPayment.StatusError, state.Status)
	assert.Equal(t, "payment cancelled", state.Error)
	assert.Equal(t, 1, f.gw.Calls("CancelTransaction"))
	assert.Equal(t, order.StatusCancelled, f.orders.Order(orderID).Status)
	assert.False(t, f.orch.Monitor().Running(orderID))
}

func TestCancelPayment_GatewayFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)
	f.gw.CancelTransactionFunc = func(context.Context, string) error {
		return domainErrors.ErrGatewayUnavailable
	}

	_, err = f.orch.CancelPayment(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, f.orders.Order(orderID).Status)
}

func TestCancelPayment_NotCancellable(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)
	_, err = f.orders.UpdateOrderStatus(context.Background(), orderID, order.StatusAccepted)
	require.NoError(t, err)

	_, err = f.orch.CancelPayment(context.Background(), orderID)
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotCancellable)
	assert.Equal(t, domainPayment.StatusPending, f.state(t).Status)
}

func TestCancelPayment_ConfirmedIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), paymentApp.Request{
		OrderID: orderID, Method: domainPayment.MethodCash, Amount: domainPayment.NewAmount(1000, ""),
	})
	require.NoError(t, err)

	_, err = f.orch.CancelPayment(context.Background(), orderID)
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotCancellable)
	assert.Equal(t, 0, f.orders.Calls("CancelOrderAndPayment"))
}

func TestMonitor_TimesOut(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)
	require.True(t, f.orch.Monitor().Running(orderID))

	f.clock.Add(10 * time.Minute)

	assert.Eventually(t, func() bool { return !f.orch.Monitor().Running(orderID) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domainPayment.StatusPending, f.state(t).Status)
}

func TestResumePending(t *testing.T) {
	f := newFixture(t)
	f.store.Create("resumed", domainPayment.MethodNequi)
	_, err := f.store.Update("resumed", domainPayment.StatusPatch(domainPayment.StatusCreating))
	require.NoError(t, err)
	status, tx := domainPayment.StatusPending, "tx-old"
	_, err = f.store.Update("resumed", domainPayment.Patch{Status: &status, TransactionID: &tx})
	require.NoError(t, err)
	f.store.Create("idle", domainPayment.MethodNequi)

	assert.Equal(t, 1, f.orch.ResumePending())
	assert.True(t, f.orch.Monitor().Running("resumed"))
	assert.False(t, f.orch.Monitor().Running("idle"))
	assert.Equal(t, 0, f.orch.ResumePending())

	idle, ok := f.store.Get("idle")
	require.True(t, ok)
	assert.Equal(t, domainPayment.StatusError, idle.Status)
}

func TestResumePending_InterruptedAttemptIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.store.Create(orderID, domainPayment.MethodNequi)
	_, err := f.store.Update(orderID, domainPayment.StatusPatch(domainPayment.StatusCreating))
	require.NoError(t, err)

	assert.Equal(t, 0, f.orch.ResumePending())
	interrupted := f.state(t)
	assert.Equal(t, domainPayment.StatusError, interrupted.Status)
	assert.Equal(t, "payment interrupted", interrupted.Error)
	assert.False(t, f.orch.Monitor().Running(orderID))

	result, err := f.orch.ProcessPayment(context.Background(), nequiRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, domainPayment.StatusPending, result.State.Status)
	assert.Equal(t, 1, f.gw.Calls("CreateNequiTransaction"))
}

func TestResumePending_InterruptedAttemptAdoptsLegacyTransaction(t *testing.T) {
	f := newFixture(t)
	f.store.Create(orderID, domainPayment.MethodNequi)
	_, err := f.store.Update(orderID, domainPayment.StatusPatch(domainPayment.StatusCreating))
	require.NoError(t, err)
	f.storage.SetLegacyTransactionID(orderID, "legacy-tx")

	assert.Equal(t, 1, f.orch.ResumePending())
	state := f.state(t)
	assert.Equal(t, domainPayment.StatusPending, state.Status)
	assert.Equal(t, "legacy-tx", state.TransactionID)
	assert.True(t, f.orch.Monitor().Running(orderID))
}
