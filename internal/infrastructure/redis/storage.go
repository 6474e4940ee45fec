package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/checkout/internal/application/paymentstate"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/redis/go-redis/v9"
)

const (
	StatesKey         = "payment_states"
	legacyKeyTemplate = "transaction_%s"
)

// StateStorage persists payment state snapshots in Redis.
type StateStorage struct {
	client redis.Cmdable
	prefix string
}

var _ paymentstate.Storage = (*StateStorage)(nil)

// NewStateStorage stores under prefix+key; an empty prefix keeps the historical key names.
func NewStateStorage(client redis.Cmdable, prefix string) *StateStorage {
	return &StateStorage{client: client, prefix: prefix}
}

func (s *StateStorage) Save(ctx context.Context, states []payment.State) error {
	data, err := paymentstate.MarshalSnapshot(states)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+StatesKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save payment states: %w", err)
	}
	return nil
}

func (s *StateStorage) Load(ctx context.Context) ([]payment.State, error) {
	data, err := s.client.Get(ctx, s.prefix+StatesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment states: %w", err)
	}
	return paymentstate.UnmarshalSnapshot(data)
}

func (s *StateStorage) LegacyTransactionID(ctx context.Context, orderID string) (string, bool, error) {
	txID, err := s.client.Get(ctx, s.legacyKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read legacy transaction id: %w", err)
	}
	return txID, txID != "", nil
}

// SetLegacyTransactionID writes the single-key layout older clients used.
func (s *StateStorage) SetLegacyTransactionID(ctx context.Context, orderID, txID string) error {
	return s.client.Set(ctx, s.legacyKey(orderID), txID, 0).Err()
}

func (s *StateStorage) legacyKey(orderID string) string {
	return s.prefix + fmt.Sprintf(legacyKeyTemplate, orderID)
}
