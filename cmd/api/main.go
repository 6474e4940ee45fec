package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/cassiomorais/checkout/internal/application/checkout"
	paymentApp "github.com/cassiomorais/checkout/internal/application/payment"
	"github.com/cassiomorais/checkout/internal/application/paymentstate"
	"github.com/cassiomorais/checkout/internal/bootstrap"
	"github.com/cassiomorais/checkout/internal/controller"
	"github.com/cassiomorais/checkout/internal/infrastructure/backend"
	"github.com/cassiomorais/checkout/internal/infrastructure/postgres"
	infraRedis "github.com/cassiomorais/checkout/internal/infrastructure/redis"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "checkout-api", "checkout")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config
	clk := clock.New()

	// --- Payment state ---
	store := paymentstate.NewStore(
		infraRedis.NewStateStorage(app.Redis, ""),
		clk,
		app.Logger,
		paymentstate.WithTTL(cfg.Payment.StateTTL),
		paymentstate.WithAutosaveInterval(cfg.Payment.AutosaveInterval),
		paymentstate.WithCleanupInterval(cfg.Payment.CleanupInterval),
		paymentstate.WithMetrics(app.Metrics),
	)
	if err := store.Load(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to load payment states, starting empty")
	}
	publisher := infraRedis.NewTransitionPublisher(infraRedis.NewStreamProducer(app.Redis), 0, app.Logger)
	store.Observe(publisher.Notify)

	// --- Backends ---
	gatewayClient := backend.NewGatewayClient(cfg.Gateway, app.Logger, backend.WithMetrics(app.Metrics))
	orderClient := backend.NewOrderClient(cfg.Orders, app.Logger, backend.WithMetrics(app.Metrics))

	// --- Application services ---
	orch := paymentApp.NewOrchestrator(store, gatewayClient, orderClient, clk, paymentApp.Config{
		PollInterval:     cfg.Payment.PollInterval,
		PollTimeout:      cfg.Payment.PollTimeout,
		PersistAttempts:  cfg.Payment.PersistAttempts,
		PersistBaseDelay: cfg.Payment.PersistBaseDelay,
		ReturnURL:        cfg.Payment.ReturnURL,
	}, app.Logger, app.Metrics)

	checkoutCfg := checkout.DefaultConfig()
	checkoutCfg.LockTTL = cfg.Payment.LockTTL
	checkoutCfg.ConfirmationURL = cfg.Payment.ConfirmationURL
	checkoutCfg.AutoCancel = cfg.Payment.AutoCancel
	checkoutCfg.RecheckAfter = cfg.Payment.PollInterval
	checkoutCtrl := checkout.NewController(
		orch, store, orderClient, gatewayClient, infraRedis.NewLocker(app.Redis), orch.Validator(), checkoutCfg, app.Logger,
	)

	orch.ResumePending()

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Checkout:    checkoutCtrl,
		Events:      postgres.NewEventRepository(app.Pool),
		Idempotency: postgres.NewIdempotencyRepository(app.Pool),
		Checks:      app.ReadinessChecks(),
		Metrics:     app.Metrics,
		Server:      cfg.Server,
		JWTSecret:   cfg.Auth.JWTSecret,
		Logger:      app.Logger,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return publisher.Run(gCtx)
	})

	g.Go(func() error {
		store.Start(gCtx)
		return nil
	})

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		checkoutCtrl.Close()
		orch.Close()
		if err := store.Close(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("Final payment state flush failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("API error")
	}
	app.Logger.Info().Msg("Server exited")
}
