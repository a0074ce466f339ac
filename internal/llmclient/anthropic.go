package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"duologue/internal/observability"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider is the Provider-A client: POST /v1/messages,
// x-api-key auth, role set {user, assistant}.
type AnthropicProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	limiter *rateLimiter
	breaker *breaker
	retry   *retryPolicy
}

// AnthropicConfig is the subset of config.ProviderConfig plus the ambient
// rate-limit/retry/breaker knobs an AnthropicProvider needs.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string

	RequestsPerMinute int
	WindowSeconds     int
	MaxRetries        int
	BaseDelay         time.Duration
	RetryFactor       float64
	BreakerThreshold  int
	BreakerReset      time.Duration
}

func NewAnthropicProvider(cfg AnthropicConfig, httpClient *http.Client) *AnthropicProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AnthropicProvider{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    newRateLimiter(cfg.RequestsPerMinute, cfg.WindowSeconds),
		breaker:    newBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
		retry:      newRetryPolicy(cfg.MaxRetries, cfg.BaseDelay, cfg.RetryFactor),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Generate(ctx context.Context, history []Message, prompt string, opts Options) (Result, error) {
	ctx, span := startSpan(ctx, "Anthropic Generate", p.model, len(history))
	defer span.End()
	log := observability.LoggerWithTrace(ctx)

	if !p.breaker.Allow() {
		recordRequest(ctx, p.model, KindCircuitOpen, 0)
		return Result{}, newError(KindCircuitOpen, errors.New("circuit open"))
	}

	res, err := p.retry.Do(ctx, func(attempt int) (Result, error) {
		if !p.limiter.Allow() {
			return Result{}, newError(KindRateLimited, errors.New("rate limit exceeded"))
		}
		return p.doRequest(ctx, history, prompt, opts)
	})

	if err != nil {
		p.breaker.RecordFailure()
		var lcErr *Error
		kind := KindUnknown
		if errors.As(err, &lcErr) {
			kind = lcErr.Kind
		}
		recordRequest(ctx, p.model, kind, 0)
		log.Error().Err(err).Str("model", p.model).Msg("anthropic_generate_error")
		return Result{}, err
	}

	p.breaker.RecordSuccess()
	recordRequest(ctx, p.model, "", res.Tokens)
	log.Debug().Str("model", res.Model).Int("tokens", res.Tokens).Dur("latency", time.Duration(res.LatencyMS)*time.Millisecond).Msg("anthropic_generate_ok")
	return res, nil
}

func (p *AnthropicProvider) doRequest(ctx context.Context, history []Message, prompt string, opts Options) (Result, error) {
	messages := formatAnthropicMessages(history, prompt)

	body := anthropicRequest{
		Model:       p.model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages:    messages,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, newError(KindBadRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return Result{}, newError(KindUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, newError(KindTimeout, err)
		}
		return Result{}, newError(KindNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, newError(KindNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		observability.LoggerWithTrace(ctx).Debug().
			Int("status", resp.StatusCode).
			RawJSON("body", observability.RedactJSON(raw)).
			Msg("anthropic_error_response")
		return Result{}, newError(anthropicStatusKind(resp.StatusCode), errors.New(anthropicErrorMessage(raw, resp.StatusCode)))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, newError(KindUnknown, err)
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return Result{}, newError(KindEmptyResponse, errors.New("no text content in response"))
	}

	return Result{
		Content:      content.String(),
		Model:        normalizeAnthropicModel(p.model),
		Tokens:       parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		LatencyMS:    latency,
	}, nil
}

// formatAnthropicMessages collapses prior history to the user/assistant
// role set and appends prompt as a fresh user message.
func formatAnthropicMessages(history []Message, prompt string) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	out = append(out, anthropicMessage{Role: "user", Content: prompt})
	return out
}

func anthropicStatusKind(status int) Kind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindAuthFailed
	default:
		return KindUnknown
	}
}

func anthropicErrorMessage(raw []byte, status int) string {
	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return fmt.Sprintf("API error %d", status)
}

// normalizeAnthropicModel maps a configured model string to the spec's
// normalized identifier by substring match, defaulting to claude-3-sonnet.
func normalizeAnthropicModel(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "haiku"):
		return "claude-3-haiku"
	case strings.Contains(lower, "opus"):
		return "claude-3-opus"
	default:
		return "claude-3-sonnet"
	}
}

func (p *AnthropicProvider) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	_, err := p.Generate(ctx, nil, "Hello", Options{MaxTokens: 16, Temperature: 0})
	status := HealthStatus{
		LatencyMS:   time.Since(start).Milliseconds(),
		CircuitOpen: p.breaker.IsOpen(),
	}
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true
	return status
}
