package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"duologue/internal/observability"
)

// GeminiProvider is the Provider-B client: POST
// /v1beta/models/{model}:generateContent?key={apikey}, no system role.
type GeminiProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	limiter *rateLimiter
	breaker *breaker
	retry   *retryPolicy
}

type GeminiConfig struct {
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

func NewGeminiProvider(cfg GeminiConfig, httpClient *http.Client) *GeminiProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GeminiProvider{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    newRateLimiter(cfg.RequestsPerMinute, cfg.WindowSeconds),
		breaker:    newBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
		retry:      newRetryPolicy(cfg.MaxRetries, cfg.BaseDelay, cfg.RetryFactor),
	}
}

func (p *GeminiProvider) Name() string { return "google" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

var geminiSafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting  `json:"safetySettings"`
}

type geminiSafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

type geminiCandidate struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
	FinishReason  string               `json:"finishReason"`
	SafetyRatings []geminiSafetyRating `json:"safetyRatings"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *GeminiProvider) Generate(ctx context.Context, history []Message, prompt string, opts Options) (Result, error) {
	ctx, span := startSpan(ctx, "Gemini Generate", p.model, len(history))
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
		log.Error().Err(err).Str("model", p.model).Msg("gemini_generate_error")
		return Result{}, err
	}

	p.breaker.RecordSuccess()
	recordRequest(ctx, p.model, "", res.Tokens)
	log.Debug().Str("model", res.Model).Int("tokens", res.Tokens).Dur("latency", time.Duration(res.LatencyMS)*time.Millisecond).Msg("gemini_generate_ok")
	return res, nil
}

func (p *GeminiProvider) doRequest(ctx context.Context, history []Message, prompt string, opts Options) (Result, error) {
	contents := formatGeminiContents(history, prompt)

	topP := opts.TopP
	if topP == 0 {
		topP = 0.95
	}
	topK := opts.TopK
	if topK == 0 {
		topK = 40
	}

	safety := make([]geminiSafetySetting, len(geminiSafetyCategories))
	for i, cat := range geminiSafetyCategories {
		safety[i] = geminiSafetySetting{Category: cat, Threshold: "BLOCK_MEDIUM_AND_ABOVE"}
	}

	body := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
			TopP:            topP,
			TopK:            topK,
		},
		SafetySettings: safety,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, newError(KindBadRequest, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, newError(KindUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var parsed geminiResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK {
		observability.LoggerWithTrace(ctx).Debug().
			Int("status", resp.StatusCode).
			RawJSON("body", observability.RedactJSON(raw)).
			Msg("gemini_error_response")
		return Result{}, newError(geminiStatusKind(resp.StatusCode, parsed), geminiErrorMessage(parsed, resp.StatusCode))
	}

	if len(parsed.Candidates) == 0 {
		return Result{}, newError(KindEmptyResponse, errors.New("no candidates returned"))
	}
	candidate := parsed.Candidates[0]

	if candidate.FinishReason == "SAFETY" {
		return Result{}, newError(KindSafetyFiltered, errors.New(geminiSafetySummary(candidate.SafetyRatings)))
	}

	var content strings.Builder
	for _, part := range candidate.Content.Parts {
		content.WriteString(part.Text)
	}
	if content.Len() == 0 {
		return Result{}, newError(KindEmptyResponse, errors.New("empty response from API"))
	}

	tokens := parsed.UsageMetadata.TotalTokenCount
	if tokens == 0 {
		tokens = parsed.UsageMetadata.PromptTokenCount + parsed.UsageMetadata.CandidatesTokenCount
	}

	return Result{
		Content:      content.String(),
		Model:        "gemini-pro",
		Tokens:       tokens,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		LatencyMS:    latency,
		FinishReason: candidate.FinishReason,
	}, nil
}

// formatGeminiContents maps internal assistant->model, system->user (Gemini
// has no system role), then appends prompt as a fresh user turn.
func formatGeminiContents(history []Message, prompt string) []geminiContent {
	out := make([]geminiContent, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		switch m.Role {
		case RoleAssistant:
			role = "model"
		case RoleSystem:
			role = "user"
		}
		out = append(out, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	out = append(out, geminiContent{Role: "user", Parts: []geminiPart{{Text: prompt}}})
	return out
}

func geminiStatusKind(status int, parsed geminiResponse) Kind {
	if status == http.StatusTooManyRequests || (parsed.Error != nil && parsed.Error.Code == 429) {
		return KindQuotaExceeded
	}
	switch status {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusForbidden:
		return KindAuthFailed
	default:
		return KindUnknown
	}
}

func geminiErrorMessage(parsed geminiResponse, status int) error {
	if parsed.Error != nil && parsed.Error.Message != "" {
		return errors.New(parsed.Error.Message)
	}
	return fmt.Errorf("API error %d", status)
}

func geminiSafetySummary(ratings []geminiSafetyRating) string {
	var flagged []string
	for _, r := range ratings {
		if r.Probability == "HIGH" || r.Probability == "MEDIUM" {
			flagged = append(flagged, r.Category+":"+r.Probability)
		}
	}
	if len(flagged) == 0 {
		return "content blocked by safety filter"
	}
	return "content blocked by safety filter: " + strings.Join(flagged, ", ")
}

func (p *GeminiProvider) HealthCheck(ctx context.Context) HealthStatus {
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
