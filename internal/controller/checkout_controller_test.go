package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cassiomorais/checkout/internal/application/checkout"
	paymentApp "github.com/cassiomorais/checkout/internal/application/payment"
	"github.com/cassiomorais/checkout/internal/application/paymentstate"
	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/infrastructure/config"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	"github.com/cassiomorais/checkout/internal/middleware"
	"github.com/cassiomorais/checkout/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOrderID = "order-42"
	jwtSecret   = "0123456789abcdef0123456789abcdef"
)

type apiFixture struct {
	router *chi.Mux
	gw     *testutil.MockGateway
	orders *testutil.MockOrderService
	events *testutil.MockEventRepository
	ready  map[string]Check
}

func newAPIFixture(t *testing.T, secret string) *apiFixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))

	store := paymentstate.NewStore(paymentstate.NewMemoryStorage(), mock, zerolog.Nop())
	gw := testutil.NewMockGateway()
	orders := testutil.NewMockOrderService()
	orders.AddOrder(testutil.NewTestOrder(testOrderID, 85000))
	events := testutil.NewMockEventRepository()

	cfg := paymentApp.DefaultConfig()
	cfg.PersistBaseDelay = time.Millisecond
	orch := paymentApp.NewOrchestrator(store, gw, orders, mock, cfg, zerolog.Nop(), observability.NewTestMetrics())
	t.Cleanup(orch.Close)

	ctrl := checkout.NewController(orch, store, orders, gw, testutil.NewMockLocker(), orch.Validator(), checkout.DefaultConfig(), zerolog.Nop())
	t.Cleanup(ctrl.Close)

	f := &apiFixture{gw: gw, orders: orders, events: events, ready: map[string]Check{}}
	f.router = NewRouter(RouterDeps{
		Checkout:  ctrl,
		Events:    events,
		Checks:    f.ready,
		Metrics:   observability.NewTestMetrics(),
		Server:    config.ServerConfig{RateLimit: 100},
		JWTSecret: secret,
		Logger:    zerolog.Nop(),
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

const nequiBody = `{"order_id":"order-42","method":"nequi","customer_email":"ana@example.com",` +
	`"accepted_terms":true,"nequi":{"phone_number":"3001234567"}}`

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCheckout_Submit(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/v1/checkout", nequiBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[CheckoutResponse](t, w)
	assert.Equal(t, testOrderID, resp.OrderID)
	assert.True(t, resp.Success)
	assert.Equal(t, "tx-1", resp.TransactionID)
	assert.Equal(t, payment.StatusPending, resp.View.Status)
	assert.Equal(t, checkout.ActionWait, resp.View.NextAction)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestCheckout_SubmitFromBooking(t *testing.T) {
	f := newAPIFixture(t, "")
	body := `{"method":"cash","booking":{"encargado_id":"enc-1","category_id":"plumbing",` +
		`"service_name":"Leak repair","address":"Cra 7 # 12-30","scheduled_at":"2026-05-02T09:00:00Z","price":50000}}`

	w := f.do(t, http.MethodPost, "/api/v1/checkout", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[CheckoutResponse](t, w)
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, checkout.ActionConfirmed, resp.View.NextAction)
	assert.Equal(t, "/orders/order-1/confirmation", resp.View.ConfirmationURL)
}

func TestCheckout_SubmitErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"invalid json", `{"method":`, http.StatusBadRequest, "validation_error"},
		{"unknown field", `{"order_id":"order-42","method":"nequi","amount":1}`, http.StatusBadRequest, "validation_error"},
		{"unsupported method", `{"order_id":"order-42","method":"bitcoin","accepted_terms":true}`, http.StatusBadRequest, "unsupported_method"},
		{"terms", `{"order_id":"order-42","method":"nequi","nequi":{"phone_number":"3001234567"}}`, http.StatusBadRequest, "terms_not_accepted"},
		{"unknown order", `{"order_id":"nope","method":"cash"}`, http.StatusNotFound, "order_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, "")
			w := f.do(t, http.MethodPost, "/api/v1/checkout", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestCheckout_GatewayValidationFailureIsAResult(t *testing.T) {
	f := newAPIFixture(t, "")
	body := `{"order_id":"order-42","method":"nequi","customer_email":"ana@example.com",` +
		`"accepted_terms":true,"nequi":{"phone_number":"12"}}`

	w := f.do(t, http.MethodPost, "/api/v1/checkout", body)
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[CheckoutResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, checkout.ActionRetry, resp.View.NextAction)
	assert.Equal(t, 0, f.gw.TotalCalls())
}

func TestPayments_StatusCheckRetryCancel(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/payments/"+testOrderID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/checkout", nequiBody).Code)

	w = f.do(t, http.MethodGet, "/api/v1/payments/"+testOrderID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payment.StatusPending, decode[checkout.View](t, w).Status)

	w = f.do(t, http.MethodPost, "/api/v1/payments/"+testOrderID+"/retry", `{"method":"nequi","accepted_terms":true,"nequi":{"phone_number":"3001234567"}}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "payment_in_progress", decode[ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, "/api/v1/payments/"+testOrderID+"/check", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, checkout.ActionWait, decode[checkout.View](t, w).NextAction)

	w = f.do(t, http.MethodPost, "/api/v1/payments/"+testOrderID+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[checkout.View](t, w)
	assert.Equal(t, payment.StatusError, view.Status)
	assert.Equal(t, checkout.ActionFailed, view.NextAction)

	w = f.do(t, http.MethodPost, "/api/v1/payments/"+testOrderID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPayments_CheckConfirms(t *testing.T) {
	f := newAPIFixture(t, "")
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/checkout", nequiBody).Code)
	f.gw.GetTransactionFunc = func(_ context.Context, id string) (*gateway.Transaction, error) {
		return &gateway.Transaction{ID: id, Status: gateway.StatusApproved}, nil
	}

	w := f.do(t, http.MethodPost, "/api/v1/payments/"+testOrderID+"/check", "")
	require.Equal(t, http.StatusOK, w.Code)

	view := decode[checkout.View](t, w)
	assert.Equal(t, checkout.ActionConfirmed, view.NextAction)
	assert.Equal(t, "/orders/order-42/confirmation", view.ConfirmationURL)
}

func TestPayments_Events(t *testing.T) {
	f := newAPIFixture(t, "")
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for _, s := range []payment.Status{payment.StatusIdle, payment.StatusCreating, payment.StatusPending} {
		require.NoError(t, f.events.AddEvent(context.Background(), payment.NewTransitionEvent(payment.State{
			OrderID: testOrderID, Method: payment.MethodNequi, Status: s, LastUpdated: base,
		})))
	}

	w := f.do(t, http.MethodGet, "/api/v1/payments/"+testOrderID+"/events?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[EventsResponse](t, w)
	assert.Equal(t, testOrderID, resp.OrderID)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "IDLE", resp.Events[0].Status)

	f.events.ListEventsFunc = func(context.Context, string, int) ([]*payment.TransitionEvent, error) {
		return nil, errors.New("connection reset")
	}
	w = f.do(t, http.MethodGet, "/api/v1/payments/"+testOrderID+"/events", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCatalogRoutes(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/pse/banks", "")
	require.Equal(t, http.StatusOK, w.Code)
	banks := decode[BanksResponse](t, w)
	require.Len(t, banks.Banks, 1)
	assert.Equal(t, "1022", banks.Banks[0].Code)

	w = f.do(t, http.MethodGet, "/api/v1/acceptance-token", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acceptance-token", decode[gateway.AcceptanceToken](t, w).Token)

	f.gw.GetPSEBanksFunc = func(context.Context) ([]gateway.Bank, error) {
		return nil, errors.New("breaker open: payment gateway unavailable")
	}
	w = f.do(t, http.MethodGet, "/api/v1/pse/banks", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, "")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready", "").Code)

	f.ready["redis"] = func(context.Context) error { return errors.New("dial tcp: refused") }
	w := f.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis unavailable")
}

func TestAuth_EmailClaimFillsCustomerEmail(t *testing.T) {
	f := newAPIFixture(t, jwtSecret)
	var email string
	f.gw.CreateNequiFunc = func(_ context.Context, req gateway.NequiRequest) (*gateway.Transaction, error) {
		email = req.CustomerEmail
		return &gateway.Transaction{ID: "tx-auth", Status: gateway.StatusPending}, nil
	}
	body := `{"order_id":"order-42","method":"nequi","accepted_terms":true,"nequi":{"phone_number":"3001234567"}}`

	w := f.do(t, http.MethodPost, "/api/v1/checkout", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID: "user-1",
		Email:  "ana@example.com",
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)

	w = f.do(t, http.MethodPost, "/api/v1/checkout", body, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "ana@example.com", email)
}
