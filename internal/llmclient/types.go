// Package llmclient wraps the two heterogeneous LLM provider protocols
// behind a uniform contract with retry, rate-limiting, and circuit
// breaking, normalizing results to a single shape.
package llmclient

import (
	"context"
	"fmt"
)

// Role is a history message's normalized role. Internal assistant_1/
// assistant_2 both collapse to RoleAssistant before reaching a provider.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of conversation history passed to Generate.
type Message struct {
	Role    Role
	Content string
}

// Options configures a single generate_response call. Zero values mean
// "use the provider's default" — callers should prefer NewOptions.
type Options struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// NewOptions returns the spec's documented defaults.
func NewOptions() Options {
	return Options{MaxTokens: 2048, Temperature: 0.7}
}

// Result is the normalized shape every provider's response is mapped into.
type Result struct {
	Content      string
	Model        string
	Tokens       int
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
	FinishReason string
}

// Kind is a failure kind, provider-agnostic by construction.
type Kind string

const (
	KindRateLimited    Kind = "rate_limited"
	KindBadRequest     Kind = "bad_request"
	KindAuthFailed     Kind = "auth_failed"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindSafetyFiltered Kind = "safety_filtered"
	KindEmptyResponse  Kind = "empty_response"
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindCircuitOpen    Kind = "circuit_open"
	KindUnknown        Kind = "unknown"
)

// Transient reports whether this kind is retried by the retry policy.
func (k Kind) Transient() bool {
	return k == KindNetwork || k == KindTimeout
}

// Error wraps a Kind with the underlying cause, errors.As friendly.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llmclient: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("llmclient: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Provider is the uniform façade in front of a single LLM backend.
type Provider interface {
	// Name identifies the provider for logging, metrics, and factory
	// lookup ("anthropic", "google").
	Name() string
	// Generate drives one request/response exchange: history is prior
	// turns (already collapsed to user/assistant roles), prompt is the
	// fresh user utterance appended after history.
	Generate(ctx context.Context, history []Message, prompt string, opts Options) (Result, error)
	// HealthCheck issues a minimal prompt through Generate and reports
	// client health. The probe goes through the same rate limiter, retry
	// policy and circuit breaker as a real turn, and its outcome counts
	// toward the breaker.
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthStatus is Provider.HealthCheck's report.
type HealthStatus struct {
	Healthy          bool
	LatencyMS        int64
	CircuitOpen      bool
	Error            string
}
