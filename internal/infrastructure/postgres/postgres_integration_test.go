//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("checkout"),
		tcpostgres.WithPassword("checkout"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, MigrateUp(dsn))
	require.NoError(t, MigrateUp(dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestEventRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := NewEventRepository(pool)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	first := payment.NewTransitionEvent(payment.State{OrderID: "order-1", Method: payment.MethodNequi, Status: payment.StatusIdle, LastUpdated: base})
	second := payment.NewTransitionEvent(payment.State{OrderID: "order-1", Method: payment.MethodNequi, Status: payment.StatusPending, TransactionID: "tx1", LastUpdated: base.Add(time.Second)})
	other := payment.NewTransitionEvent(payment.State{OrderID: "order-2", Method: payment.MethodCash, Status: payment.StatusConfirmed, LastUpdated: base})

	require.NoError(t, repo.AddEvent(ctx, second))
	require.NoError(t, repo.AddEvent(ctx, first))
	require.NoError(t, repo.AddEvent(ctx, other))
	require.NoError(t, repo.AddEvent(ctx, second))

	events, err := repo.ListEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, payment.StatusPending, events[1].Status)
	assert.Equal(t, "tx1", events[1].TransactionID)

	limited, err := repo.ListEvents(ctx, "order-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEventRepository_TransactionRollback(t *testing.T) {
	pool := startPostgres(t)
	repo := NewEventRepository(pool)
	txm := NewTxManager(pool)
	ctx := context.Background()

	boom := errors.New("boom")
	err := txm.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, repo.AddEvent(txCtx, payment.NewTransitionEvent(payment.State{OrderID: "order-1", Status: payment.StatusIdle})))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	events, err := repo.ListEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestIdempotencyRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := NewIdempotencyRepository(pool)
	ctx := context.Background()

	got, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now()
	require.NoError(t, repo.Set(ctx, &IdempotencyEntry{Key: "k1", ResponseBody: `{"ok":true}`, ResponseStatus: 201, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, repo.Set(ctx, &IdempotencyEntry{Key: "old", ResponseBody: `{}`, ResponseStatus: 200, CreatedAt: now, ExpiresAt: now.Add(-time.Hour)}))

	got, err = repo.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.ResponseStatus)

	expired, err := repo.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, expired)

	removed, err := repo.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
