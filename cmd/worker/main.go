package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/checkout/internal/bootstrap"
	"github.com/cassiomorais/checkout/internal/infrastructure/postgres"
	infraRedis "github.com/cassiomorais/checkout/internal/infrastructure/redis"
	"github.com/cassiomorais/checkout/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "checkout-worker", "checkout_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	workerCfg := app.Config.Worker

	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.TransitionStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
		os.Exit(1)
	}

	recorder := worker.NewHistoryRecorder(
		consumer,
		infraRedis.NewStreamProducer(app.Redis),
		postgres.NewEventRepository(app.Pool),
		postgres.NewTxManager(app.Pool),
		worker.HistoryConfig{
			ClaimMinIdle:  workerCfg.ClaimMinIdle,
			MaxDeliveries: workerCfg.MaxDeliveries,
		},
		app.Metrics,
		app.Logger,
	)
	idempotency := postgres.NewIdempotencyRepository(app.Pool)

	app.Logger.Info().
		Str("stream", infraRedis.TransitionStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for transitions...")

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Transition history (reads from Redis Streams, writes to Postgres).
	g.Go(func() error {
		return recorder.Run(gCtx)
	})

	// 2. Expired idempotency keys.
	g.Go(func() error {
		return worker.RunIdempotencyCleanup(gCtx, idempotency, workerCfg.IdempotencyCleanup, app.Logger)
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
