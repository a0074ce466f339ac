package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"duologue/internal/bus"
	"duologue/internal/config"
	"duologue/internal/convo"
	"duologue/internal/convostore"
	"duologue/internal/llmclient"
	"duologue/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("orchestrator")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	baseCtx := context.Background()

	shutdown, err := observability.InitTelemetry(baseCtx, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without telemetry")
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("redis_addr", cfg.Redis.Addr()).
		Int("max_turns", cfg.Conversation.MaxTurns).
		Int("min_turns", cfg.Conversation.MinTurns).
		Int("max_concurrent", cfg.Conversation.MaxConcurrent).
		Msg("starting conversation orchestrator")

	store, err := convostore.New("redis", cfg)
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing state store")
		}
	}()

	// Tuned HTTP transport for concurrent LLM API calls.
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	httpClient := &http.Client{Transport: tr}

	factory := llmclient.NewFactory(cfg, httpClient)
	providers, err := factory.Providers()
	if err != nil {
		return fmt.Errorf("init llm providers: %w", err)
	}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctxAdmin, cancelAdmin := context.WithTimeout(baseCtx, 5*time.Second)
	if err := bus.CheckBrokers(ctxAdmin, cfg.Kafka.Brokers, 3*time.Second); err != nil {
		cancelAdmin()
		return fmt.Errorf("reach kafka brokers: %w", err)
	}
	topics := []string{
		cfg.Kafka.TopicConversationNew,
		cfg.Kafka.TopicConversationTurn,
		cfg.Kafka.TopicConversationResponse,
		cfg.Kafka.TopicConversationCompleted,
		cfg.Kafka.TopicConversationError,
	}
	if err := bus.EnsureTopics(ctxAdmin, cfg.Kafka.Brokers, topics); err != nil {
		cancelAdmin()
		return fmt.Errorf("ensure kafka topics: %w", err)
	}
	cancelAdmin()

	producer := bus.NewProducer(cfg.Kafka.Brokers, cfg.ServiceName, cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Error().Err(err).Msg("error closing kafka producer")
		}
	}()

	manager := convo.NewManager(store, providers, producer, cfg)

	consumer := bus.NewConsumer(bus.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.ConsumerGroupID,
		Topic:           cfg.Kafka.TopicConversationNew,
		AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
		WorkerCount:     cfg.Conversation.WorkerPoolSize,
	}, producer)
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error().Err(err).Msg("error closing kafka consumer")
		}
	}()

	consumer.RegisterHandler(cfg.Kafka.TopicConversationNew, newConversationHandler(manager))

	reapTicker := time.NewTicker(time.Minute)
	defer reapTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reapTicker.C:
				if n := manager.ReapFinished(ctx); n > 0 {
					log.Debug().Int("count", n).Msg("conversations_reaped")
				}
			}
		}
	}()

	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("kafka consumer terminated: %w", err)
	}

	log.Info().Msg("conversation orchestrator stopped")
	return nil
}
