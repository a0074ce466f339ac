package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"duologue/internal/config"
)

// Factory caches one Provider instance per provider name and is the
// single place new providers get registered.
type Factory struct {
	mu        sync.Mutex
	providers map[string]Provider
	cfg       config.Config
	http      *http.Client
}

func NewFactory(cfg config.Config, httpClient *http.Client) *Factory {
	return &Factory{
		providers: make(map[string]Provider),
		cfg:       cfg,
		http:      httpClient,
	}
}

// Client returns the cached provider for name ("anthropic" or "google"),
// constructing it on first use.
func (f *Factory) Client(name string) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[name]; ok {
		return p, nil
	}

	var p Provider
	switch name {
	case "anthropic":
		p = NewAnthropicProvider(AnthropicConfig{
			APIKey:            f.cfg.Anthropic.APIKey,
			Model:             f.cfg.Anthropic.Model,
			BaseURL:           f.cfg.Anthropic.BaseURL,
			RequestsPerMinute: f.cfg.RateLimit.RequestsPerMinute,
			WindowSeconds:     f.cfg.RateLimit.WindowSeconds,
			MaxRetries:        f.cfg.Retry.MaxAttempts,
			BaseDelay:         f.cfg.Retry.BaseDelay,
			RetryFactor:       f.cfg.Retry.ExponentialBase,
			BreakerThreshold:  f.cfg.Breaker.FailureThreshold,
			BreakerReset:      f.cfg.Breaker.ResetTimeout,
		}, f.http)
	case "google":
		p = NewGeminiProvider(GeminiConfig{
			APIKey:            f.cfg.Google.APIKey,
			Model:             f.cfg.Google.Model,
			BaseURL:           f.cfg.Google.BaseURL,
			RequestsPerMinute: f.cfg.RateLimit.RequestsPerMinute,
			WindowSeconds:     f.cfg.RateLimit.WindowSeconds,
			MaxRetries:        f.cfg.Retry.MaxAttempts,
			BaseDelay:         f.cfg.Retry.BaseDelay,
			RetryFactor:       f.cfg.Retry.ExponentialBase,
			BreakerThreshold:  f.cfg.Breaker.FailureThreshold,
			BreakerReset:      f.cfg.Breaker.ResetTimeout,
		}, f.http)
	default:
		return nil, fmt.Errorf("llmclient: unknown provider %q", name)
	}

	f.providers[name] = p
	return p, nil
}

// Providers returns the two alternating providers in spec order
// [Provider-A, Provider-B], constructing both if not already cached.
func (f *Factory) Providers() ([2]Provider, error) {
	a, err := f.Client("anthropic")
	if err != nil {
		return [2]Provider{}, err
	}
	b, err := f.Client("google")
	if err != nil {
		return [2]Provider{}, err
	}
	return [2]Provider{a, b}, nil
}

// HealthCheckAll reports health for every provider constructed so far.
func (f *Factory) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	f.mu.Lock()
	snapshot := make(map[string]Provider, len(f.providers))
	for name, p := range f.providers {
		snapshot[name] = p
	}
	f.mu.Unlock()

	out := make(map[string]HealthStatus, len(snapshot))
	for name, p := range snapshot {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		out[name] = p.HealthCheck(checkCtx)
		cancel()
	}
	return out
}
