package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/checkout/internal/domain/payment"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TransitionStream = "payments:transitions"
	DLQStream        = "payments:transitions:dlq"
)

type StreamProducer struct {
	client redis.Cmdable
}

func NewStreamProducer(client redis.Cmdable) *StreamProducer {
	return &StreamProducer{client: client}
}

// PublishTransition appends a state change to the transition stream.
func (p *StreamProducer) PublishTransition(ctx context.Context, event *payment.TransitionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: TransitionStream,
		MaxLen: 100000,
		Approx: true,
		Values: map[string]any{
			"order_id":  event.OrderID,
			"status":    string(event.Status),
			"payload":   string(payload),
			"timestamp": event.CreatedAt.Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish transition event: %w", err)
	}
	return nil
}

func (p *StreamProducer) PublishToDLQ(ctx context.Context, msg redis.XMessage, reason string) error {
	values := map[string]any{
		"original_id": msg.ID,
		"reason":      reason,
		"timestamp":   time.Now().Unix(),
	}
	for k, v := range msg.Values {
		values[k] = v
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: DLQStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

// DecodeTransition reads the event carried by a stream message.
func DecodeTransition(msg redis.XMessage) (*payment.TransitionEvent, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, errors.New("message has no payload")
	}
	var event payment.TransitionEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("invalid transition payload: %w", err)
	}
	return &event, nil
}

// TransitionPublisher forwards store transitions to the stream without blocking the store.
type TransitionPublisher struct {
	producer *StreamProducer
	queue    chan *payment.TransitionEvent
	logger   zerolog.Logger
}

func NewTransitionPublisher(producer *StreamProducer, buffer int, logger zerolog.Logger) *TransitionPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &TransitionPublisher{
		producer: producer,
		queue:    make(chan *payment.TransitionEvent, buffer),
		logger:   logger.With().Str("component", "transition_publisher").Logger(),
	}
}

// Notify has the paymentstate.Listener signature. Events are dropped when the buffer is full.
func (p *TransitionPublisher) Notify(s payment.State) {
	select {
	case p.queue <- payment.NewTransitionEvent(s):
	default:
		p.logger.Warn().Str("order_id", s.OrderID).Str("status", string(s.Status)).Msg("Transition queue full, dropping event")
	}
}

// Run publishes queued events until ctx is done, then drains what is left.
func (p *TransitionPublisher) Run(ctx context.Context) error {
	for {
		select {
		case event := <-p.queue:
			p.publish(ctx, event)
		case <-ctx.Done():
			for {
				select {
				case event := <-p.queue:
					p.publish(ctx, event)
				default:
					return nil
				}
			}
		}
	}
}

func (p *TransitionPublisher) publish(ctx context.Context, event *payment.TransitionEvent) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := p.producer.PublishTransition(pubCtx, event); err != nil {
		p.logger.Error().Err(err).Str("order_id", event.OrderID).Msg("Failed to publish transition")
	}
}

type StreamConsumer struct {
	client        redis.Cmdable
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client redis.Cmdable,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string {
	return c.stream
}

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Stale lists pending messages idle for at least minIdle, with their delivery counts.
func (c *StreamConsumer) Stale(ctx context.Context, minIdle time.Duration) ([]redis.XPendingExt, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	return pending, nil
}

func (c *StreamConsumer) Claim(ctx context.Context, minIdleTime time.Duration, messageIDs []string) ([]redis.XMessage, error) {
	messages, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdleTime,
		Messages: messageIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return messages, nil
}
