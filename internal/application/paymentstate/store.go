// Package paymentstate keeps the process-local record of in-flight payment
// attempts, one per order, and persists it so an attempt survives a restart.
package paymentstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL              = 24 * time.Hour
	DefaultAutosaveInterval = 2 * time.Second
	DefaultCleanupInterval  = time.Hour
)

// Listener is notified with the new state after every mutation.
type Listener func(payment.State)

// Storage is the durable side of the store.
type Storage interface {
	Save(ctx context.Context, states []payment.State) error
	Load(ctx context.Context) ([]payment.State, error)
	// LegacyTransactionID reads a transaction id written under the per-order legacy key.
	LegacyTransactionID(ctx context.Context, orderID string) (string, bool, error)
}

// Option configures a Store.
type Option func(*Store)

func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

func WithAutosaveInterval(d time.Duration) Option {
	return func(s *Store) { s.autosaveInterval = d }
}

func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = d }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store maps order ids to their current payment state.
type Store struct {
	mu        sync.RWMutex
	states    map[string]payment.State
	listeners map[string]map[uint64]Listener
	observers []Listener
	nextID    uint64
	dirty     bool

	flushMu sync.Mutex
	storage Storage
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *observability.Metrics

	ttl              time.Duration
	autosaveInterval time.Duration
	cleanupInterval  time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStore(storage Storage, clk clock.Clock, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		states:           make(map[string]payment.State),
		listeners:        make(map[string]map[uint64]Listener),
		storage:          storage,
		clock:            clk,
		logger:           logger.With().Str("component", "payment_state_store").Logger(),
		ttl:              DefaultTTL,
		autosaveInterval: DefaultAutosaveInterval,
		cleanupInterval:  DefaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// Create starts a fresh IDLE attempt for the order, replacing any previous one.
func (s *Store) Create(orderID string, method payment.Method) payment.State {
	state := payment.NewState(orderID, method, s.now())

	s.mu.Lock()
	s.states[orderID] = state
	s.dirty = true
	listeners := s.listenersLocked(orderID)
	size := len(s.states)
	s.mu.Unlock()

	s.setEntries(size)
	s.logger.Info().Str("order_id", orderID).Str("method", string(method)).Msg("Payment state created")
	s.notify(listeners, state)
	return state
}

// Update merges the patch into the order's state and notifies listeners.
func (s *Store) Update(orderID string, patch payment.Patch) (payment.State, error) {
	s.mu.Lock()
	current, ok := s.states[orderID]
	if !ok {
		s.mu.Unlock()
		return payment.State{}, fmt.Errorf("update %s: %w", orderID, errors.ErrStateNotFound)
	}

	next, err := current.Apply(patch, s.now())
	if err != nil {
		s.mu.Unlock()
		return current, err
	}
	s.states[orderID] = next
	s.dirty = true
	listeners := s.listenersLocked(orderID)
	s.mu.Unlock()

	if next.Status != current.Status {
		s.logger.Info().
			Str("order_id", orderID).
			Str("from", string(current.Status)).
			Str("to", string(next.Status)).
			Str("transaction_id", next.TransactionID).
			Msg("Payment state transition")
	}
	s.notify(listeners, next)
	return next, nil
}

// Get returns the order's state, if any.
func (s *Store) Get(orderID string) (payment.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[orderID]
	return state, ok
}

// All returns a snapshot of every state.
func (s *Store) All() []payment.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]payment.State, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state)
	}
	return out
}

// Subscribe registers a listener for one order. The returned func removes it.
func (s *Store) Subscribe(orderID string, l Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[orderID] == nil {
		s.listeners[orderID] = make(map[uint64]Listener)
	}
	s.listeners[orderID][id] = l
	s.mu.Unlock()
	s.addListeners(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners[orderID], id)
			if len(s.listeners[orderID]) == 0 {
				delete(s.listeners, orderID)
			}
			s.mu.Unlock()
			s.addListeners(-1)
		})
	}
}

// Observe registers a listener notified for every order. It cannot be removed.
func (s *Store) Observe(l Listener) {
	s.mu.Lock()
	s.observers = append(s.observers, l)
	s.mu.Unlock()
}

// GetTransactionID resolves the order's transaction id, falling back to the
// legacy per-order key and migrating what it finds there into the store.
func (s *Store) GetTransactionID(ctx context.Context, orderID string) (string, error) {
	state, ok := s.Get(orderID)
	if ok && state.TransactionID != "" {
		return state.TransactionID, nil
	}

	txID, found, err := s.storage.LegacyTransactionID(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("read legacy transaction id: %w", err)
	}
	if !found || txID == "" {
		return "", nil
	}

	// A legacy id means the gateway already acknowledged the transaction.
	if ok {
		for _, patch := range legacyPatches(state.Status, txID) {
			if _, err := s.Update(orderID, patch); err != nil {
				return "", err
			}
		}
	} else {
		migrated := payment.State{
			OrderID:       orderID,
			Status:        payment.StatusPending,
			TransactionID: txID,
			LastUpdated:   s.now(),
		}
		s.mu.Lock()
		s.states[orderID] = migrated
		s.dirty = true
		size := len(s.states)
		s.mu.Unlock()
		s.setEntries(size)
	}

	s.logger.Info().Str("order_id", orderID).Str("transaction_id", txID).Msg("Migrated legacy transaction id")
	return txID, nil
}

// legacyPatches walks a state that never reached PENDING up to PENDING so the
// adopted transaction id can be reconciled like any other.
func legacyPatches(status payment.Status, txID string) []payment.Patch {
	switch status {
	case payment.StatusIdle, payment.StatusCreating:
		pending := payment.StatusPending
		adopt := payment.Patch{Status: &pending, TransactionID: &txID}
		if status == payment.StatusIdle {
			return []payment.Patch{payment.StatusPatch(payment.StatusCreating), adopt}
		}
		return []payment.Patch{adopt}
	default:
		return []payment.Patch{{TransactionID: &txID}}
	}
}

// Sweep drops states not updated within the TTL and returns how many were removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	removed := 0
	for id, state := range s.states {
		if state.LastUpdated.Before(cutoff) {
			delete(s.states, id)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	size := len(s.states)
	s.mu.Unlock()

	s.setEntries(size)
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept stale payment states")
	}
	return removed
}

// Load replaces the in-memory map with what storage holds.
func (s *Store) Load(ctx context.Context) error {
	states, err := s.storage.Load(ctx)
	if err != nil {
		return fmt.Errorf("load payment states: %w", err)
	}

	s.mu.Lock()
	s.states = make(map[string]payment.State, len(states))
	for _, state := range states {
		s.states[state.OrderID] = state
	}
	s.dirty = false
	s.mu.Unlock()

	s.setEntries(len(states))
	s.logger.Info().Int("count", len(states)).Msg("Payment states loaded")
	return nil
}

// Flush writes the current snapshot to storage if anything changed.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make([]payment.State, 0, len(s.states))
	for _, state := range s.states {
		snapshot = append(snapshot, state)
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.storage.Save(ctx, snapshot); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		s.countFlush("error")
		return fmt.Errorf("save payment states: %w", err)
	}
	s.countFlush("ok")
	return nil
}

// Start launches the autosave and cleanup loops. They run until ctx is done or Close is called.
func (s *Store) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	autosave := s.clock.Ticker(s.autosaveInterval)
	cleanup := s.clock.Ticker(s.cleanupInterval)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		defer autosave.Stop()
		defer cleanup.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-autosave.C:
				if err := s.Flush(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Autosave failed")
				}
			case <-cleanup.C:
				s.Sweep()
			}
		}
	}()
}

// Close stops the background loops and performs a final flush.
func (s *Store) Close(ctx context.Context) error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return s.Flush(ctx)
}

func (s *Store) listenersLocked(orderID string) []Listener {
	out := make([]Listener, 0, len(s.listeners[orderID])+len(s.observers))
	for _, l := range s.listeners[orderID] {
		out = append(out, l)
	}
	return append(out, s.observers...)
}

func (s *Store) notify(listeners []Listener, state payment.State) {
	for _, l := range listeners {
		s.safeCall(l, state)
	}
}

func (s *Store) safeCall(l Listener, state payment.State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("order_id", state.OrderID).
				Interface("panic", r).
				Msg("Payment state listener panicked")
		}
	}()
	l(state)
}

func (s *Store) setEntries(n int) {
	if s.metrics != nil {
		s.metrics.StateEntries.Set(float64(n))
	}
}

func (s *Store) addListeners(delta float64) {
	if s.metrics != nil {
		s.metrics.StateListeners.Add(delta)
	}
}

func (s *Store) countFlush(status string) {
	if s.metrics != nil {
		s.metrics.StateFlushes.WithLabelValues(status).Inc()
	}
}
