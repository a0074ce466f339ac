package convo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duologue/internal/config"
	"duologue/internal/convostore"
	"duologue/internal/llmclient"
)

type scriptedProvider struct {
	name      string
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(ctx context.Context, history []llmclient.Message, prompt string, opts llmclient.Options) (llmclient.Result, error) {
	idx := p.calls
	p.calls++
	content := "a generic continuation of the discussion with some length"
	if idx < len(p.responses) {
		content = p.responses[idx]
	}
	return llmclient.Result{Content: content, Model: p.name, Tokens: 20, LatencyMS: 10}, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) llmclient.HealthStatus {
	return llmclient.HealthStatus{Healthy: true}
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Conversation.MaxTurns = 6
	cfg.Conversation.MinTurns = 2
	cfg.Conversation.TimeoutSeconds = 300
	cfg.Conversation.MaxConcurrent = 5
	cfg.Lock.TTL = 30 * time.Second
	cfg.Kafka.TopicConversationTurn = "conversation.turn"
	cfg.Kafka.TopicConversationResponse = "conversation.response"
	cfg.Kafka.TopicConversationCompleted = "conversation.completed"
	cfg.Kafka.TopicConversationError = "conversation.error"
	return cfg
}

func TestManager_RunsToMaxTurnsWithoutEarlyTermination(t *testing.T) {
	store := convostore.NewMemoryStore(time.Hour)
	a := &scriptedProvider{name: "anthropic"}
	b := &scriptedProvider{name: "google"}
	cfg := testConfig()
	m := NewManager(store, [2]llmclient.Provider{a, b}, nil, cfg)

	id, err := m.StartNewConversation(context.Background(), "", "the future of testing", "manual", "", nil)
	require.NoError(t, err)

	waitForTerminal(t, m, id)

	raw, err := m.GetState(context.Background(), id)
	require.NoError(t, err)
	var record Record
	require.NoError(t, json.Unmarshal(raw, &record))

	assert.Equal(t, StatusCompleted, record.Metadata.Status)
	assert.Equal(t, ReasonMaxTurns, *record.Metadata.CompletionReason)
	assert.Equal(t, cfg.Conversation.MaxTurns, len(record.Turns))
	assert.NotNil(t, record.Metadata.QualityScore)
}

func TestManager_StopsOnNaturalEnding(t *testing.T) {
	store := convostore.NewMemoryStore(time.Hour)
	a := &scriptedProvider{name: "anthropic", responses: []string{
		"some opening remarks about the topic at length",
		"continuing the discussion a bit further along",
		"In conclusion, this wraps things up nicely.",
	}}
	b := &scriptedProvider{name: "google"}
	cfg := testConfig()
	cfg.Conversation.MinTurns = 2
	m := NewManager(store, [2]llmclient.Provider{a, b}, nil, cfg)

	id, err := m.StartNewConversation(context.Background(), "", "wrapping up", "manual", "", nil)
	require.NoError(t, err)

	waitForTerminal(t, m, id)

	raw, err := m.GetState(context.Background(), id)
	require.NoError(t, err)
	var record Record
	require.NoError(t, json.Unmarshal(raw, &record))

	assert.Equal(t, StatusCompleted, record.Metadata.Status)
	assert.Equal(t, ReasonNaturalEnding, *record.Metadata.CompletionReason)
	assert.Less(t, len(record.Turns), cfg.Conversation.MaxTurns)
}

func TestManager_RejectsStartBeyondConcurrencyLimit(t *testing.T) {
	store := convostore.NewMemoryStore(time.Hour)
	a := &scriptedProvider{name: "anthropic"}
	b := &scriptedProvider{name: "google"}
	cfg := testConfig()
	cfg.Conversation.MaxConcurrent = 1
	m := NewManager(store, [2]llmclient.Provider{a, b}, nil, cfg)
	m.admission <- struct{}{}

	_, err := m.StartNewConversation(context.Background(), "", "x", "manual", "", nil)
	assert.Error(t, err)
}

func TestManager_HonorsExternallySuppliedConversationID(t *testing.T) {
	store := convostore.NewMemoryStore(time.Hour)
	a := &scriptedProvider{name: "anthropic"}
	b := &scriptedProvider{name: "google"}
	cfg := testConfig()
	m := NewManager(store, [2]llmclient.Provider{a, b}, nil, cfg)

	id, err := m.StartNewConversation(context.Background(), "external-id-123", "the future of testing", "manual", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "external-id-123", id)

	waitForTerminal(t, m, id)
}

func TestBuildPrompt_MatchesDocumentedWording(t *testing.T) {
	first := buildPrompt("testing strategy", nil, nil)
	assert.Equal(t, "Start a thoughtful discussion about: testing strategy", first)

	withContext := buildPrompt("testing strategy", nil, map[string]string{"source_text": "some background"})
	assert.Equal(t, "Start a thoughtful discussion about: testing strategy\n\nContext:\nsome background", withContext)

	later := buildPrompt("testing strategy", []Turn{{Content: "the previous assistant's reply"}}, nil)
	assert.Equal(t, "Respond to the previous message about testing strategy. Provide a thoughtful perspective that adds to the discussion.", later)
}

func waitForTerminal(t *testing.T, m *Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := m.GetState(context.Background(), id)
		require.NoError(t, err)
		var record Record
		if err := json.Unmarshal(raw, &record); err == nil && record.Metadata.Status.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("conversation %s did not reach a terminal state in time", id)
}
