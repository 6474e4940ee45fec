package postgres

import (
	"context"
	"fmt"

	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultEventLimit = 100

// EventRepository stores the payment state transition history.
type EventRepository struct {
	pool *pgxpool.Pool
}

var _ payment.EventRepository = (*EventRepository)(nil)

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// AddEvent is idempotent on the event id, so redelivered stream messages are harmless.
func (r *EventRepository) AddEvent(ctx context.Context, e *payment.TransitionEvent) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_state_events (id, order_id, method, status, transaction_id, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.OrderID, string(e.Method), string(e.Status), e.TransactionID, e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment state event: %w", err)
	}
	return nil
}

func (r *EventRepository) ListEvents(ctx context.Context, orderID string, limit int) ([]*payment.TransitionEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, order_id, method, status, transaction_id, error, created_at
		 FROM payment_state_events
		 WHERE order_id = $1
		 ORDER BY created_at ASC, recorded_at ASC
		 LIMIT $2`, orderID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list payment state events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*payment.TransitionEvent, error) {
		var (
			e              payment.TransitionEvent
			method, status string
		)
		if err := row.Scan(&e.ID, &e.OrderID, &method, &status, &e.TransactionID, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Method = payment.Method(method)
		e.Status = payment.Status(status)
		return &e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan payment state events: %w", err)
	}
	return events, nil
}
