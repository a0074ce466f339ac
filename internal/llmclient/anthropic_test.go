package llmclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoundTripper struct {
	responses []fakeResponse
	calls     int
	requests  []*http.Request
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

func (f *fakeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
		Header:     make(http.Header),
	}, nil
}

func newTestClient(rt http.RoundTripper) *http.Client {
	return &http.Client{Transport: rt}
}

func TestAnthropicProvider_Generate_Success(t *testing.T) {
	rt := &fakeRoundTripper{responses: []fakeResponse{
		{status: 200, body: `{"content":[{"type":"text","text":"hello there"}],"usage":{"input_tokens":10,"output_tokens":5}}`},
	}}
	p := NewAnthropicProvider(AnthropicConfig{
		APIKey: "k", Model: "haiku-test", BaseURL: "https://api.anthropic.com/v1",
		RequestsPerMinute: 60, WindowSeconds: 60, MaxRetries: 3, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))

	res, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Content)
	assert.Equal(t, "claude-3-haiku", res.Model)
	assert.Equal(t, 15, res.Tokens)
}

func TestAnthropicProvider_Generate_RateLimitedStatus(t *testing.T) {
	rt := &fakeRoundTripper{responses: []fakeResponse{
		{status: 429, body: `{"error":{"message":"Rate limit exceeded"}}`},
	}}
	p := NewAnthropicProvider(AnthropicConfig{
		APIKey: "k", Model: "claude-3-sonnet", BaseURL: "https://api.anthropic.com/v1",
		RequestsPerMinute: 60, WindowSeconds: 60, MaxRetries: 1, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))

	_, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.Error(t, err)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, KindRateLimited, lcErr.Kind)
}

func TestAnthropicProvider_RateLimiterRefusesBeforeHTTP(t *testing.T) {
	rt := &fakeRoundTripper{responses: []fakeResponse{{status: 200, body: `{"content":[{"type":"text","text":"x"}],"usage":{}}`}}}
	p := NewAnthropicProvider(AnthropicConfig{
		APIKey: "k", Model: "claude-3-sonnet", BaseURL: "https://api.anthropic.com/v1",
		RequestsPerMinute: 1, WindowSeconds: 60, MaxRetries: 1, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))

	_, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), nil, "hi again", NewOptions())
	require.Error(t, err)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, KindRateLimited, lcErr.Kind)
	assert.Equal(t, 1, rt.calls, "the second call must be refused by the limiter before reaching HTTP")
}

func TestAnthropicProvider_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	responses := make([]fakeResponse, 0, 5)
	for i := 0; i < 5; i++ {
		responses = append(responses, fakeResponse{status: 500, body: `{"error":{"message":"boom"}}`})
	}
	rt := &fakeRoundTripper{responses: responses}
	p := NewAnthropicProvider(AnthropicConfig{
		APIKey: "k", Model: "claude-3-sonnet", BaseURL: "https://api.anthropic.com/v1",
		RequestsPerMinute: 1000, WindowSeconds: 60, MaxRetries: 1, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))

	for i := 0; i < 5; i++ {
		_, err := p.Generate(context.Background(), nil, "hi", NewOptions())
		require.Error(t, err)
	}

	_, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.Error(t, err)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, KindCircuitOpen, lcErr.Kind)
	assert.Equal(t, 5, rt.calls, "the sixth call must fail fast without reaching HTTP")
}

func TestAnthropicProvider_RetriesTransientThenSucceeds(t *testing.T) {
	rt := &fakeRoundTripper{responses: []fakeResponse{
		{err: errTransientNetwork{}},
		{err: errTransientNetwork{}},
		{status: 200, body: `{"content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`},
	}}
	p := NewAnthropicProvider(AnthropicConfig{
		APIKey: "k", Model: "claude-3-sonnet", BaseURL: "https://api.anthropic.com/v1",
		RequestsPerMinute: 1000, WindowSeconds: 60, MaxRetries: 3, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))
	p.retry.sleep = noSleep

	res, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 3, rt.calls)
	assert.False(t, p.breaker.IsOpen())
}

type errTransientNetwork struct{}

func (errTransientNetwork) Error() string { return "connection reset by peer" }
