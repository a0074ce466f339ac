package bus

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// CheckBrokers dials the given brokers until one answers or timeout elapses.
func CheckBrokers(ctx context.Context, brokers []string, timeout time.Duration) error {
	if len(brokers) == 0 {
		return fmt.Errorf("bus: no brokers configured")
	}

	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			lastErr = err
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("bus: failed to reach any broker within %s: %w", timeout, lastErr)
}

// EnsureTopics creates any of the given topics that don't already exist,
// including each topic's DLQ counterpart.
func EnsureTopics(ctx context.Context, brokers []string, topics []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("bus: no brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("bus: dial broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("bus: get controller: %w", err)
	}
	controllerAddr := net.JoinHostPort(controller.Host, fmt.Sprint(controller.Port))

	ctrlConn, err := kafka.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("bus: dial controller %s: %w", controllerAddr, err)
	}
	defer ctrlConn.Close()

	all := make([]string, 0, len(topics)*2)
	for _, t := range topics {
		all = append(all, t, dlqTopicFor(t))
	}

	var configs []kafka.TopicConfig
	for _, topic := range all {
		parts, err := ctrlConn.ReadPartitions(topic)
		if err == nil && len(parts) > 0 {
			continue
		}
		configs = append(configs, kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	}
	if len(configs) == 0 {
		return nil
	}

	if err := ctrlConn.CreateTopics(configs...); err != nil {
		return fmt.Errorf("bus: create topics: %w", err)
	}
	for _, c := range configs {
		log.Info().Str("topic", c.Topic).Msg("bus_topic_created")
	}
	return nil
}
