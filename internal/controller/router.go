package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/infrastructure/config"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/checkout/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Checkout    Checkout
	Events      payment.EventRepository
	Idempotency customMW.IdempotencyStore
	Checks      map[string]Check
	Metrics     *observability.Metrics
	Server      config.ServerConfig
	JWTSecret   string
	Logger      zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing("checkout-api"))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.Checks)
	checkoutH := NewCheckoutController(deps.Checkout, deps.Events)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if deps.JWTSecret != "" {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
		}

		r.Get("/pse/banks", checkoutH.Banks)
		r.Get("/acceptance-token", checkoutH.AcceptanceToken)

		var submit []func(http.Handler) http.Handler
		if deps.Server.RateLimit > 0 {
			submit = append(submit, customMW.RateLimit(deps.Server.RateLimit))
		}
		if deps.Idempotency != nil {
			submit = append(submit, customMW.Idempotency(deps.Idempotency, customMW.DefaultIdempotencyTTL, deps.Logger))
		}

		r.With(submit...).Post("/checkout", checkoutH.Submit)

		r.Route("/payments/{orderId}", func(r chi.Router) {
			r.Get("/", checkoutH.Status)
			r.Post("/check", checkoutH.Check)
			r.With(submit...).Post("/retry", checkoutH.Retry)
			r.Post("/cancel", checkoutH.Cancel)
			r.Get("/events", checkoutH.Events)
		})
	})

	return r
}
