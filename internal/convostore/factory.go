package convostore

import (
	"time"

	"duologue/internal/config"
)

// New selects a Store backend by name: "redis" (default) connects to the
// configured Redis instance; "memory" constructs an in-process fake for
// tests and local development without a broker.
func New(backend string, cfg config.Config) (Store, error) {
	ttl := time.Duration(cfg.Conversation.TTLSeconds) * time.Second
	switch backend {
	case "", "redis":
		return NewRedisStore(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, ttl)
	case "memory":
		return NewMemoryStore(ttl), nil
	default:
		return NewMemoryStore(ttl), nil
	}
}
