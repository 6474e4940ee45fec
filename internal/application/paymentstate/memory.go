package paymentstate

import (
	"context"
	"sync"

	"github.com/cassiomorais/checkout/internal/domain/payment"
)

// MemoryStorage keeps the encoded snapshot in memory.
type MemoryStorage struct {
	mu     sync.Mutex
	data   []byte
	legacy map[string]string
	saves  int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{legacy: make(map[string]string)}
}

func (m *MemoryStorage) Save(_ context.Context, states []payment.State) error {
	data, err := MarshalSnapshot(states)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

func (m *MemoryStorage) Load(_ context.Context) ([]payment.State, error) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()
	return UnmarshalSnapshot(data)
}

func (m *MemoryStorage) LegacyTransactionID(_ context.Context, orderID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txID, ok := m.legacy[orderID]
	return txID, ok, nil
}

// SetLegacyTransactionID writes a value under the legacy per-order key.
func (m *MemoryStorage) SetLegacyTransactionID(orderID, txID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacy[orderID] = txID
}

// Saves reports how many times Save was called.
func (m *MemoryStorage) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
