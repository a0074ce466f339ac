package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t,
		"REDIS_HOST", "REDIS_PORT", "KAFKA_BOOTSTRAP_SERVERS", "KAFKA_CONSUMER_GROUP_ID",
		"MAX_CONVERSATION_TURNS", "MIN_CONVERSATION_TURNS", "CONVERSATION_TIMEOUT_SECONDS",
		"RATE_LIMIT_REQUESTS_PER_MINUTE", "MAX_RETRIES", "RETRY_DELAY_SECONDS",
		"CIRCUIT_BREAKER_FAILURE_THRESHOLD", "CIRCUIT_BREAKER_TIMEOUT_SECONDS",
		"MAX_CONCURRENT_CONVERSATIONS", "WORKER_POOL_SIZE",
	)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "orchestration-service", cfg.Kafka.ConsumerGroupID)
	assert.Equal(t, "latest", cfg.Kafka.AutoOffsetReset)
	assert.False(t, cfg.Kafka.EnableAutoCommit)

	assert.Equal(t, 10, cfg.Conversation.MaxTurns)
	assert.Equal(t, 5, cfg.Conversation.MinTurns)
	assert.Equal(t, 300, cfg.Conversation.TimeoutSeconds)
	assert.Equal(t, 86400, cfg.Conversation.TTLSeconds)
	assert.Equal(t, 100, cfg.Conversation.MaxConcurrent)
	assert.Equal(t, 10, cfg.Conversation.WorkerPoolSize)

	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 2.0, cfg.Retry.ExponentialBase)

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.ResetTimeout)

	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t, "REDIS_HOST", "KAFKA_BOOTSTRAP_SERVERS", "MAX_CONVERSATION_TURNS", "MIN_CONVERSATION_TURNS")
	os.Setenv("REDIS_HOST", "redis.internal")
	os.Setenv("KAFKA_BOOTSTRAP_SERVERS", "broker1:9092, broker2:9092")
	os.Setenv("MAX_CONVERSATION_TURNS", "20")
	os.Setenv("MIN_CONVERSATION_TURNS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 20, cfg.Conversation.MaxTurns)
	assert.Equal(t, 8, cfg.Conversation.MinTurns)
}

func TestLoad_RejectsInvertedTurnBounds(t *testing.T) {
	clearEnv(t, "MAX_CONVERSATION_TURNS", "MIN_CONVERSATION_TURNS")
	os.Setenv("MAX_CONVERSATION_TURNS", "3")
	os.Setenv("MIN_CONVERSATION_TURNS", "5")

	_, err := Load()
	assert.Error(t, err)
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())
}

func TestLoad_YAMLOverridesApplyBelowEnv(t *testing.T) {
	clearEnv(t, "CONFIG_FILE", "MAX_CONVERSATION_TURNS", "MIN_CONVERSATION_TURNS", "RATE_LIMIT_REQUESTS_PER_MINUTE")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conversation:\n  max_turns: 15\n  min_turns: 4\nrate_limit:\n  requests_per_minute: 30\n"), 0o644))
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("MIN_CONVERSATION_TURNS", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Conversation.MaxTurns, "yaml value applies where env is unset")
	assert.Equal(t, 6, cfg.Conversation.MinTurns, "env overrides yaml")
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	clearEnv(t, "CONFIG_FILE")
	os.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	_, err := Load()
	assert.NoError(t, err)
}
