package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/checkout/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stream is the consumer-group view of the transition stream.
type Stream interface {
	Stream() string
	Read(ctx context.Context) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
	Stale(ctx context.Context, minIdle time.Duration) ([]redis.XPendingExt, error)
	Claim(ctx context.Context, minIdle time.Duration, messageIDs []string) ([]redis.XMessage, error)
}

type DeadLetters interface {
	PublishToDLQ(ctx context.Context, msg redis.XMessage, reason string) error
}

type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type HistoryConfig struct {
	// ClaimMinIdle is how long a delivered message may stay unacked before it is reclaimed.
	ClaimMinIdle  time.Duration
	MaxDeliveries int64
	ReadBackoff   time.Duration
}

// HistoryRecorder copies payment state transitions from the stream into the event table.
type HistoryRecorder struct {
	stream  Stream
	dlq     DeadLetters
	events  payment.EventRepository
	tx      Transactor
	cfg     HistoryConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewHistoryRecorder(
	stream Stream,
	dlq DeadLetters,
	events payment.EventRepository,
	tx Transactor,
	cfg HistoryConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *HistoryRecorder {
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = time.Second
	}
	return &HistoryRecorder{
		stream:  stream,
		dlq:     dlq,
		events:  events,
		tx:      tx,
		cfg:     cfg,
		metrics: metrics,
		logger:  observability.Component(logger, "history_recorder"),
	}
}

// Run reads new messages until ctx is done and periodically reclaims stalled ones.
func (h *HistoryRecorder) Run(ctx context.Context) error {
	reclaim := time.NewTicker(h.cfg.ClaimMinIdle)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reclaim.C:
			if err := h.Reclaim(ctx); err != nil {
				h.logger.Error().Err(err).Msg("Failed to reclaim stalled messages")
			}
		default:
		}

		msgs, err := h.stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(h.cfg.ReadBackoff):
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		if err := h.Handle(ctx, msgs); err != nil {
			h.logger.Error().Err(err).Int("messages", len(msgs)).Msg("Failed to record transitions, leaving them pending")
		}
	}
}

// Handle records a batch in one transaction and acks it. Undecodable messages go to the DLQ.
// On a write failure nothing is acked, so the batch is redelivered through Reclaim.
func (h *HistoryRecorder) Handle(ctx context.Context, msgs []redis.XMessage) error {
	start := time.Now()
	defer func() {
		h.metrics.WorkerProcessingDuration.WithLabelValues(h.stream.Stream()).Observe(time.Since(start).Seconds())
	}()

	events := make([]*payment.TransitionEvent, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		event, err := infraRedis.DecodeTransition(msg)
		if err != nil {
			h.deadLetter(ctx, msg, err.Error())
			continue
		}
		events = append(events, event)
		ids = append(ids, msg.ID)
	}
	if len(events) == 0 {
		return nil
	}

	err := h.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, e := range events {
			if err := h.events.AddEvent(txCtx, e); err != nil {
				return fmt.Errorf("record %s -> %s: %w", e.OrderID, e.Status, err)
			}
		}
		return nil
	})
	if err != nil {
		h.count("error", len(events))
		return err
	}

	for _, id := range ids {
		if err := h.stream.Ack(ctx, id); err != nil {
			h.logger.Warn().Err(err).Str("message_id", id).Msg("Ack failed")
		}
	}
	h.count("success", len(events))
	h.logger.Debug().Int("events", len(events)).Msg("Recorded transitions")
	return nil
}

// Reclaim takes over messages another consumer left pending. Messages delivered
// MaxDeliveries times are moved to the DLQ instead of being retried again.
func (h *HistoryRecorder) Reclaim(ctx context.Context) error {
	stale, err := h.stream.Stale(ctx, h.cfg.ClaimMinIdle)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	exhausted := make(map[string]bool)
	ids := make([]string, 0, len(stale))
	for _, p := range stale {
		ids = append(ids, p.ID)
		if h.cfg.MaxDeliveries > 0 && p.RetryCount >= h.cfg.MaxDeliveries {
			exhausted[p.ID] = true
		}
	}

	msgs, err := h.stream.Claim(ctx, h.cfg.ClaimMinIdle, ids)
	if err != nil {
		return err
	}

	retry := make([]redis.XMessage, 0, len(msgs))
	for _, msg := range msgs {
		if exhausted[msg.ID] {
			h.deadLetter(ctx, msg, fmt.Sprintf("exceeded %d deliveries", h.cfg.MaxDeliveries))
			continue
		}
		retry = append(retry, msg)
	}
	h.logger.Info().Int("claimed", len(msgs)).Int("dead_lettered", len(msgs)-len(retry)).Msg("Reclaimed stalled messages")

	if len(retry) == 0 {
		return nil
	}
	return h.Handle(ctx, retry)
}

func (h *HistoryRecorder) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	log := h.logger.With().Str("message_id", msg.ID).Str("reason", reason).Logger()
	if err := h.dlq.PublishToDLQ(ctx, msg, reason); err != nil {
		log.Error().Err(err).Msg("Failed to dead-letter message, leaving it pending")
		return
	}
	if err := h.stream.Ack(ctx, msg.ID); err != nil {
		log.Warn().Err(err).Msg("Ack after dead-lettering failed")
	}
	h.count("dead_letter", 1)
	log.Warn().Msg("Message moved to DLQ")
}

func (h *HistoryRecorder) count(status string, n int) {
	h.metrics.WorkerMessagesProcessed.WithLabelValues(h.stream.Stream(), status).Add(float64(n))
}
