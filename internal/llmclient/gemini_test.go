package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiProvider_Generate_Success(t *testing.T) {
	rt := &fakeRoundTripper{responses: []fakeResponse{
		{status: 200, body: `{"candidates":[{"content":{"parts":[{"text":"hi back"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`},
	}}
	p := NewGeminiProvider(GeminiConfig{
		APIKey: "k", Model: "gemini-pro", BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		RequestsPerMinute: 60, WindowSeconds: 60, MaxRetries: 3, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))

	res, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.NoError(t, err)
	assert.Equal(t, "hi back", res.Content)
	assert.Equal(t, "gemini-pro", res.Model)
	assert.Equal(t, 5, res.Tokens)
}

func TestGeminiProvider_Generate_EmptyCandidates(t *testing.T) {
	rt := &fakeRoundTripper{responses: []fakeResponse{{status: 200, body: `{"candidates":[]}`}}}
	p := NewGeminiProvider(GeminiConfig{
		APIKey: "k", Model: "gemini-pro", BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		RequestsPerMinute: 60, WindowSeconds: 60, MaxRetries: 1, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))

	_, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.Error(t, err)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, KindEmptyResponse, lcErr.Kind)
}

func TestGeminiProvider_Generate_SafetyFiltered(t *testing.T) {
	rt := &fakeRoundTripper{responses: []fakeResponse{
		{status: 200, body: `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY","safetyRatings":[{"category":"HARM_CATEGORY_HATE_SPEECH","probability":"HIGH"}]}]}`},
	}}
	p := NewGeminiProvider(GeminiConfig{
		APIKey: "k", Model: "gemini-pro", BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		RequestsPerMinute: 60, WindowSeconds: 60, MaxRetries: 1, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))

	_, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.Error(t, err)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, KindSafetyFiltered, lcErr.Kind)
}

func TestGeminiProvider_Generate_QuotaExceeded(t *testing.T) {
	rt := &fakeRoundTripper{responses: []fakeResponse{{status: 429, body: `{"error":{"code":429,"message":"quota"}}`}}}
	p := NewGeminiProvider(GeminiConfig{
		APIKey: "k", Model: "gemini-pro", BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		RequestsPerMinute: 60, WindowSeconds: 60, MaxRetries: 1, BaseDelay: time.Millisecond, RetryFactor: 2,
		BreakerThreshold: 5, BreakerReset: 60 * time.Second,
	}, newTestClient(rt))

	_, err := p.Generate(context.Background(), nil, "hi", NewOptions())
	require.Error(t, err)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, KindQuotaExceeded, lcErr.Kind)
}
