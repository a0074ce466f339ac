// Package config loads the orchestrator's single typed configuration value
// from the environment once at startup. Nothing in this package does
// dynamic dict-or-struct duck typing: every field below is named, typed,
// and defaulted.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RedisConfig holds the connection parameters for the state store.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds the event bus adapter's connection and topic settings.
type KafkaConfig struct {
	Brokers         []string
	ConsumerGroupID string

	TopicConversationNew       string
	TopicConversationTurn      string
	TopicConversationResponse  string
	TopicConversationCompleted string
	TopicConversationError     string

	AutoOffsetReset  string
	EnableAutoCommit bool
}

// ProviderConfig is the per-provider piece of the LLM client layer's config.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ConversationConfig bounds a single conversation's shape.
type ConversationConfig struct {
	MaxTurns       int
	MinTurns       int
	TimeoutSeconds int
	TTLSeconds     int
	MaxConcurrent  int
	WorkerPoolSize int
}

// RateLimitConfig is the LLM client's sliding-window limiter.
type RateLimitConfig struct {
	RequestsPerMinute int
	WindowSeconds     int
}

// RetryConfig is the LLM client's bounded exponential backoff.
type RetryConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	ExponentialBase float64
}

// BreakerConfig is the LLM client's per-instance circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// LockConfig governs the state store's per-conversation advisory lock.
type LockConfig struct {
	TTL time.Duration
}

// Config is the single typed configuration value, constructed once by
// Load and passed explicitly through constructors.
type Config struct {
	Redis RedisConfig
	Kafka KafkaConfig

	Anthropic ProviderConfig
	Google    ProviderConfig

	Conversation ConversationConfig
	RateLimit    RateLimitConfig
	Retry        RetryConfig
	Breaker      BreakerConfig
	Lock         LockConfig

	LogLevel string
	LogPath  string

	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Load reads the environment (optionally layering a .env file found in the
// working directory via godotenv) into a Config, applying spec defaults for
// anything unset.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Redis: RedisConfig{
			Host:     getenv("REDIS_HOST", "localhost"),
			Port:     getenvInt("REDIS_PORT", 6379),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:         splitCommaList(getenv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
			ConsumerGroupID: getenv("KAFKA_CONSUMER_GROUP_ID", "orchestration-service"),

			TopicConversationNew:       getenv("TOPIC_CONVERSATION_NEW", "conversation.new"),
			TopicConversationTurn:      getenv("TOPIC_CONVERSATION_TURN", "conversation.turn"),
			TopicConversationResponse:  getenv("TOPIC_CONVERSATION_RESPONSE", "conversation.response"),
			TopicConversationCompleted: getenv("TOPIC_CONVERSATION_COMPLETED", "conversation.completed"),
			TopicConversationError:     getenv("TOPIC_CONVERSATION_ERROR", "conversation.error"),

			AutoOffsetReset:  getenv("KAFKA_AUTO_OFFSET_RESET", "latest"),
			EnableAutoCommit: getenvBool("KAFKA_ENABLE_AUTO_COMMIT", false),
		},
		Anthropic: ProviderConfig{
			APIKey:  getenv("ANTHROPIC_API_KEY", ""),
			Model:   getenv("ANTHROPIC_MODEL", "claude-3-sonnet-20240229"),
			BaseURL: getenv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		},
		Google: ProviderConfig{
			APIKey:  getenv("GOOGLE_LLM_API_KEY", ""),
			Model:   getenv("GOOGLE_LLM_MODEL", "gemini-pro"),
			BaseURL: getenv("GOOGLE_LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		},
		Conversation: ConversationConfig{
			MaxTurns:       getenvInt("MAX_CONVERSATION_TURNS", 10),
			MinTurns:       getenvInt("MIN_CONVERSATION_TURNS", 5),
			TimeoutSeconds: getenvInt("CONVERSATION_TIMEOUT_SECONDS", 300),
			TTLSeconds:     getenvInt("CONVERSATION_TTL_SECONDS", 86400),
			MaxConcurrent:  getenvInt("MAX_CONCURRENT_CONVERSATIONS", 100),
			WorkerPoolSize: getenvInt("WORKER_POOL_SIZE", 10),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getenvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			WindowSeconds:     getenvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Retry: RetryConfig{
			MaxAttempts:     getenvInt("MAX_RETRIES", 3),
			BaseDelay:       time.Duration(getenvFloat("RETRY_DELAY_SECONDS", 1.0) * float64(time.Second)),
			ExponentialBase: getenvFloat("RETRY_EXPONENTIAL_BASE", 2.0),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getenvInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
			ResetTimeout:     time.Duration(getenvInt("CIRCUIT_BREAKER_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Lock: LockConfig{
			TTL: time.Duration(getenvInt("CONVERSATION_LOCK_TTL_SECONDS", 30)) * time.Second,
		},

		LogLevel: getenv("LOG_LEVEL", "info"),
		LogPath:  getenv("LOG_PATH", ""),

		ServiceName:    getenv("OTEL_SERVICE_NAME", "conversation-orchestrator"),
		ServiceVersion: getenv("SERVICE_VERSION", "dev"),
		Environment:    getenv("ENVIRONMENT", "development"),
	}

	envSetMaxTurns := os.Getenv("MAX_CONVERSATION_TURNS") != ""
	envSetMinTurns := os.Getenv("MIN_CONVERSATION_TURNS") != ""
	envSetTimeout := os.Getenv("CONVERSATION_TIMEOUT_SECONDS") != ""
	envSetRPM := os.Getenv("RATE_LIMIT_REQUESTS_PER_MINUTE") != ""
	envSetRetries := os.Getenv("MAX_RETRIES") != ""

	yamlCfg := cfg
	if err := loadYAMLOverrides(getenv("CONFIG_FILE", "config.yaml"), &yamlCfg); err != nil {
		return Config{}, fmt.Errorf("config: load config.yaml: %w", err)
	}
	// env vars take precedence over config.yaml, which takes precedence
	// over the built-in default already in cfg.
	if !envSetMaxTurns {
		cfg.Conversation.MaxTurns = yamlCfg.Conversation.MaxTurns
	}
	if !envSetMinTurns {
		cfg.Conversation.MinTurns = yamlCfg.Conversation.MinTurns
	}
	if !envSetTimeout {
		cfg.Conversation.TimeoutSeconds = yamlCfg.Conversation.TimeoutSeconds
	}
	if !envSetRPM {
		cfg.RateLimit.RequestsPerMinute = yamlCfg.RateLimit.RequestsPerMinute
	}
	if !envSetRetries {
		cfg.Retry.MaxAttempts = yamlCfg.Retry.MaxAttempts
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks the invariants Load cannot default its way out of.
// Missing provider API keys are not fatal at construction time — a
// deployment may run with only one provider configured during development —
// but conversation turn bounds must be sane.
func (c Config) validate() error {
	if c.Conversation.MaxTurns < c.Conversation.MinTurns {
		return fmt.Errorf("config: max_conversation_turns (%d) must be >= min_conversation_turns (%d)", c.Conversation.MaxTurns, c.Conversation.MinTurns)
	}
	if c.Conversation.MaxConcurrent <= 0 {
		return fmt.Errorf("config: max_concurrent_conversations must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	return def
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
