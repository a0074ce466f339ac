package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Handler processes one message's value for a topic. Returning an error
// routes the message to the topic's DLQ; the original offset is committed
// only once that DLQ publish succeeds.
type Handler func(ctx context.Context, msg kafka.Message) error

// messageReader is the slice of *kafka.Reader Consumer depends on,
// narrowed so tests can inject a fake instead of dialing a broker.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer joins a single consumer group and dispatches each fetched
// message to its registered handler via a worker pool, committing
// offsets manually only after the handler (or DLQ publish) succeeds.
type Consumer struct {
	reader      messageReader
	producer    *Producer
	workerCount int

	mu       sync.RWMutex
	handlers map[string]Handler
}

type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	Topic           string
	AutoOffsetReset string
	WorkerCount     int
}

func NewConsumer(cfg ConsumerConfig, producer *Producer) *Consumer {
	startOffset := kafka.LastOffset
	if cfg.AutoOffsetReset == "earliest" {
		startOffset = kafka.FirstOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		reader:      reader,
		producer:    producer,
		workerCount: workers,
		handlers:    make(map[string]Handler),
	}
}

// RegisterHandler maps a topic to its handler. The consumer itself is
// constructed against a single Topic (kafka-go readers are single-topic);
// RegisterHandler lets callers reuse one Consumer type across topics
// that share a reader-per-topic deployment.
func (c *Consumer) RegisterHandler(topic string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = h
}

func (c *Consumer) handlerFor(topic string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[topic]
	return h, ok
}

// Run fetches messages and dispatches them across the worker pool until
// ctx is canceled. Each message's offset is committed after its handler
// returns — on success directly, on failure only once the DLQ publish
// succeeds (at-least-once delivery with poison-message isolation).
func (c *Consumer) Run(ctx context.Context) error {
	jobs := make(chan kafka.Message, c.workerCount*4)

	var wg sync.WaitGroup
	wg.Add(c.workerCount)
	for i := 0; i < c.workerCount; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				c.process(ctx, msg)
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			break
		}
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			log.Warn().Err(err).Msg("bus_fetch_error")
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
			continue
		}
		select {
		case jobs <- msg:
		case <-ctx.Done():
		}
	}

	close(jobs)
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	handler, ok := c.handlerFor(msg.Topic)
	var handleErr error
	if !ok {
		handleErr = errors.New("bus: no handler registered for topic " + msg.Topic)
	} else {
		handleErr = handler(ctx, msg)
	}

	if handleErr != nil {
		dlq := DeadLetter{
			OriginalTopic:   msg.Topic,
			OriginalMessage: msg.Value,
			Error:           handleErr.Error(),
			Timestamp:       time.Now(),
		}
		if !c.producer.SendEvent(ctx, dlqTopicFor(msg.Topic), dlq, string(msg.Key)) {
			log.Error().Str("topic", msg.Topic).Msg("bus_dlq_publish_failed_offset_not_committed")
			return
		}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("bus_commit_failed")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
