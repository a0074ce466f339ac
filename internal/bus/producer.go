package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Producer serializes values as UTF-8 JSON and publishes them with an
// optional partition key so all events sharing a key are routed in
// order. Settings mirror the spec: acks from all replicas, gzip
// compression, and a short batching delay; kafka-go has no literal
// "idempotent producer" toggle the way the confluent client does, so
// ordering-after-retry is obtained the same way the teacher's
// orchestrator writer does it — RequireAll acks plus a single logical
// writer per process, never more than one in-flight publish per key.
// messageWriter is the slice of *kafka.Writer that Producer depends on,
// narrowed so tests can inject a fake instead of dialing a broker.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer        messageWriter
	sourceService string
	maxRetries    int
	retryDelay    time.Duration
	now           func() time.Time
}

func NewProducer(brokers []string, sourceService string, maxRetries int, retryDelay time.Duration) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Gzip,
			BatchTimeout: 10 * time.Millisecond,
			Async:        false,
		},
		sourceService: sourceService,
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		now:           time.Now,
	}
}

// SendEvent publishes value (any JSON-marshalable payload) to topic,
// keyed by key for ordering, retrying up to maxRetries times with
// retryDelay*attempt_number between attempts. No error leaks across the
// call — failures are logged and reported via the bool return.
func (p *Producer) SendEvent(ctx context.Context, topic string, value any, key string) bool {
	payload, err := json.Marshal(value)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("bus_marshal_failed")
		return false
	}

	msg := kafka.Message{Topic: topic, Value: payload}
	if key != "" {
		msg.Key = []byte(key)
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			lastErr = err
			log.Warn().Err(err).Str("topic", topic).Int("attempt", attempt).Msg("bus_send_event_retry")
			if attempt < p.maxRetries {
				select {
				case <-time.After(p.retryDelay * time.Duration(attempt)):
				case <-ctx.Done():
					return false
				}
			}
			continue
		}
		return true
	}
	log.Error().Err(lastErr).Str("topic", topic).Msg("bus_send_event_failed")
	return false
}

// SendBatch invokes SendEvent sequentially and returns per-event outcomes.
func (p *Producer) SendBatch(ctx context.Context, events []BatchEvent) []bool {
	out := make([]bool, len(events))
	for i, e := range events {
		out[i] = p.SendEvent(ctx, e.Topic, e.Value, e.Key)
	}
	return out
}

// BatchEvent is one SendBatch item.
type BatchEvent struct {
	Topic string
	Value any
	Key   string
}

// NewHeader is exposed so callers building event payloads get consistent
// event_id/timestamp/source_service stamping.
func (p *Producer) NewHeader(eventType, correlationID string) Header {
	return newHeader(eventType, p.sourceService, correlationID, p.now())
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
