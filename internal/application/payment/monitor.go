package payment

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 10 * time.Minute
)

// CheckFunc reconciles one order and returns its state, nil when unknown.
type CheckFunc func(ctx context.Context, orderID string) (*payment.State, error)

// Monitor polls in-flight payments, one goroutine per order.
type Monitor struct {
	check    CheckFunc
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	running map[string]*monitorRun
	nextGen uint64
	closed  bool
	wg      sync.WaitGroup
}

type monitorRun struct {
	gen    uint64
	cancel context.CancelFunc
}

func NewMonitor(check CheckFunc, clk clock.Clock, interval, timeout time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Monitor{
		check:    check,
		clock:    clk,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With().Str("component", "payment_monitor").Logger(),
		metrics:  metrics,
		running:  make(map[string]*monitorRun),
	}
}

// Start begins polling the order. It returns false if the order is already polled.
func (m *Monitor) Start(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if _, ok := m.running[orderID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.nextGen++
	run := &monitorRun{gen: m.nextGen, cancel: cancel}
	m.running[orderID] = run

	ticker := m.clock.Ticker(m.interval)
	deadline := m.clock.Now().Add(m.timeout)

	m.wg.Add(1)
	m.gauge(1)
	go m.poll(ctx, orderID, run.gen, ticker, deadline)
	return true
}

func (m *Monitor) poll(ctx context.Context, orderID string, gen uint64, ticker *clock.Ticker, deadline time.Time) {
	defer m.wg.Done()
	defer ticker.Stop()
	defer m.remove(orderID, gen)

	log := m.logger.With().Str("order_id", orderID).Logger()
	log.Debug().Msg("Payment monitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.clock.Now().Before(deadline) {
				log.Warn().Dur("timeout", m.timeout).Msg("Payment monitor timed out")
				return
			}

			state, err := m.check(ctx, orderID)
			if err != nil {
				log.Warn().Err(err).Msg("Payment status check failed")
				continue
			}
			if state == nil || state.Status.IsTerminal() {
				return
			}
		}
	}
}

// Stop ends polling for the order. It does not wait for an in-flight check.
func (m *Monitor) Stop(orderID string) {
	m.mu.Lock()
	run, ok := m.running[orderID]
	if ok {
		delete(m.running, orderID)
	}
	m.mu.Unlock()

	if ok {
		run.cancel()
		m.gauge(-1)
	}
}

// Running reports whether the order is being polled.
func (m *Monitor) Running(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[orderID]
	return ok
}

// Close stops every poller and waits for them to exit.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	runs := m.running
	m.running = make(map[string]*monitorRun)
	m.mu.Unlock()

	for range runs {
		m.gauge(-1)
	}
	for _, run := range runs {
		run.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) remove(orderID string, gen uint64) {
	m.mu.Lock()
	run, ok := m.running[orderID]
	owned := ok && run.gen == gen
	if owned {
		delete(m.running, orderID)
	}
	m.mu.Unlock()

	if owned {
		run.cancel()
		m.gauge(-1)
	}
}

func (m *Monitor) gauge(delta float64) {
	if m.metrics != nil {
		m.metrics.ActiveMonitors.Add(delta)
	}
}
