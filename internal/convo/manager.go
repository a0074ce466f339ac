package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"duologue/internal/bus"
	"duologue/internal/config"
	"duologue/internal/convostore"
	"duologue/internal/llmclient"
)

// Manager drives conversations from StartNewConversation through a
// terminal state, each on its own goroutine, bounded by an admission
// semaphore sized to config.Conversation.MaxConcurrent.
type Manager struct {
	store     convostore.Store
	providers [2]llmclient.Provider
	producer  *bus.Producer
	cfg       config.Config

	admission chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	now func() time.Time
}

func NewManager(store convostore.Store, providers [2]llmclient.Provider, producer *bus.Producer, cfg config.Config) *Manager {
	return &Manager{
		store:     store,
		providers: providers,
		producer:  producer,
		cfg:       cfg,
		admission: make(chan struct{}, cfg.Conversation.MaxConcurrent),
		cancels:   make(map[string]context.CancelFunc),
		now:       time.Now,
	}
}

// StartNewConversation admits a new conversation if under the
// concurrency bound, persists its initial record, and launches its
// driving loop on a new goroutine. conversationID carries the id a
// conversation.new producer assigned; if empty, one is minted here.
// It returns the conversation_id the record was actually saved under.
func (m *Manager) StartNewConversation(ctx context.Context, conversationID, topic, source, sourceURL string, initialContext map[string]string) (string, error) {
	select {
	case m.admission <- struct{}{}:
	default:
		return "", fmt.Errorf("convo: at concurrency limit (%d)", m.cfg.Conversation.MaxConcurrent)
	}

	id := conversationID
	if id == "" {
		id = newConversationID()
	}
	now := m.now()
	record := &Record{
		ConversationID: id,
		Topic:          topic,
		Source:         source,
		SourceURL:      sourceURL,
		Turns:          []Turn{},
		Metadata:       Metadata{Status: StatusInitializing, ModelsUsed: []string{}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	raw, err := json.Marshal(record)
	if err != nil {
		<-m.admission
		return "", fmt.Errorf("convo: marshal initial record: %w", err)
	}
	if _, err := m.store.SaveConversation(ctx, id, raw); err != nil {
		<-m.admission
		return "", fmt.Errorf("convo: save initial record: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	go m.run(runCtx, id, initialContext)

	return id, nil
}

// GetState returns the current raw record, or nil if unknown.
func (m *Manager) GetState(ctx context.Context, id string) ([]byte, error) {
	return m.store.GetConversation(ctx, id)
}

func (m *Manager) ActiveCount() int {
	return len(m.admission)
}

// Stop requests cancellation of a running conversation's goroutine. This
// is advisory only — the store and its lock remain authoritative, so a
// crashed process's conversations are still recoverable by another
// instance once the lock TTL expires.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// ReapFinished drops cancel funcs for conversations no longer active in
// the store, so the in-process map doesn't grow without bound.
func (m *Manager) ReapFinished(ctx context.Context) int {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return 0
	}
	activeSet := make(map[string]struct{}, len(active))
	for _, id := range active {
		activeSet[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id := range m.cancels {
		if _, ok := activeSet[id]; !ok {
			delete(m.cancels, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) finish(id string) {
	m.mu.Lock()
	delete(m.cancels, id)
	m.mu.Unlock()
	select {
	case <-m.admission:
	default:
	}
}

// run is the per-conversation loop: acquire the lock, drive alternating
// turns until a termination predicate fires, publish lifecycle events,
// release the lock.
func (m *Manager) run(ctx context.Context, id string, initialContext map[string]string) {
	defer m.finish(id)

	locked, err := m.store.AcquireLock(ctx, id, int64(m.cfg.Lock.TTL.Seconds()))
	if err != nil || !locked {
		log.Error().Str("conversation_id", id).Err(err).Msg("convo_lock_failed")
		return
	}
	defer m.store.ReleaseLock(context.Background(), id)

	record, err := m.loadRecord(ctx, id)
	if err != nil {
		log.Error().Str("conversation_id", id).Err(err).Msg("convo_load_failed")
		return
	}

	record.Metadata.Status = StatusInProgress
	m.persist(ctx, record)

	started := m.now()
	deadline := started.Add(time.Duration(m.cfg.Conversation.TimeoutSeconds) * time.Second)

	reason := ReasonMaxTurns
	var runErr error

loop:
	for turnNumber := 1; turnNumber <= m.cfg.Conversation.MaxTurns; turnNumber++ {
		if ctx.Err() != nil {
			reason = ReasonError
			break loop
		}
		if m.now().After(deadline) {
			reason = ReasonTimeout
			break loop
		}

		if len(record.Turns) >= m.cfg.Conversation.MinTurns {
			if record.HasNaturalEnding() {
				reason = ReasonNaturalEnding
				break loop
			}
			if record.HasRepetition() {
				reason = ReasonRepetition
				break loop
			}
		}

		provider := m.providers[(turnNumber-1)%2]
		m.publishTurn(ctx, record, provider, turnNumber, initialContext)
		result, turnErr := m.processTurn(ctx, record, provider, turnNumber, initialContext)
		if turnErr != nil {
			runErr = turnErr
			reason = ReasonError
			break loop
		}

		m.persist(ctx, record)
		m.publishResponse(ctx, record, result, true, "")
		_ = m.store.IncrMetric(ctx, "turns_total", 1)
	}

	at := m.now()
	finalStatus := StatusCompleted
	switch {
	case runErr != nil:
		finalStatus = StatusFailed
	case reason == ReasonTimeout:
		finalStatus = StatusTimeout
	}

	record.SetTerminal(finalStatus, reason, at)
	if finalStatus == StatusCompleted || finalStatus == StatusTimeout {
		score := record.QualityScore()
		record.Metadata.QualityScore = &score
	}
	m.persist(ctx, record)
	_ = m.store.IncrMetric(ctx, "conversations_"+string(finalStatus), 1)

	if runErr != nil {
		m.publishError(ctx, record, runErr)
	}
	m.publishCompleted(ctx, record)
}

func (m *Manager) loadRecord(ctx context.Context, id string) (*Record, error) {
	raw, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("convo: record %s not found", id)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("convo: unmarshal record: %w", err)
	}
	return &record, nil
}

func (m *Manager) persist(ctx context.Context, record *Record) {
	raw, err := json.Marshal(record)
	if err != nil {
		log.Error().Str("conversation_id", record.ConversationID).Err(err).Msg("convo_marshal_failed")
		return
	}
	if _, err := m.store.UpdateConversation(ctx, record.ConversationID, func([]byte) ([]byte, error) {
		return raw, nil
	}); err != nil {
		log.Error().Str("conversation_id", record.ConversationID).Err(err).Msg("convo_persist_failed")
	}
}

// processTurn builds the prompt and history for turnNumber, calls the
// target provider, appends the resulting turn, and returns the
// normalized result.
func (m *Manager) processTurn(ctx context.Context, record *Record, provider llmclient.Provider, turnNumber int, initialContext map[string]string) (llmclient.Result, error) {
	role := turnRole(turnNumber)
	history := buildHistory(record.Turns)
	prompt := buildPrompt(record.Topic, record.Turns, initialContext)

	start := m.now()
	result, err := provider.Generate(ctx, history, prompt, llmclient.NewOptions())
	if err != nil {
		return llmclient.Result{}, err
	}
	latency := m.now().Sub(start).Milliseconds()
	if result.LatencyMS == 0 {
		result.LatencyMS = latency
	}

	tokens := result.Tokens
	latencyMS := result.LatencyMS
	record.AppendTurn(Turn{
		Role:      role,
		Content:   result.Content,
		Model:     result.Model,
		LatencyMS: &latencyMS,
		Tokens:    &tokens,
		Timestamp: m.now(),
	})

	return result, nil
}

// turnRole follows the assistant_{turn_number % 2 + 1} convention: odd
// turns are assistant_2, even turns assistant_1.
func turnRole(turnNumber int) string {
	if turnNumber%2 == 1 {
		return "assistant_2"
	}
	return "assistant_1"
}

// buildHistory collapses every prior turn to the assistant role: from a
// single provider's point of view, its counterpart's turns are just the
// other side of the conversation, not a distinct speaker identity.
func buildHistory(turns []Turn) []llmclient.Message {
	history := make([]llmclient.Message, 0, len(turns))
	for _, t := range turns {
		history = append(history, llmclient.Message{Role: llmclient.RoleAssistant, Content: t.Content})
	}
	return history
}

// buildPrompt constructs the fresh user-role utterance: a topic-seeding
// prompt for the first turn, a continuation prompt for every turn after.
func buildPrompt(topic string, turns []Turn, initialContext map[string]string) string {
	if len(turns) == 0 {
		prompt := fmt.Sprintf("Start a thoughtful discussion about: %s", topic)
		if v, ok := initialContext["source_text"]; ok && v != "" {
			prompt += fmt.Sprintf("\n\nContext:\n%s", v)
		}
		return prompt
	}
	return fmt.Sprintf("Respond to the previous message about %s. Provide a thoughtful perspective that adds to the discussion.", topic)
}

// publishTurn announces the work-item about to be processed: the target
// provider and the prior turns it will see as history.
func (m *Manager) publishTurn(ctx context.Context, record *Record, provider llmclient.Provider, turnNumber int, initialContext map[string]string) {
	if m.producer == nil {
		return
	}
	previous := make([]string, len(record.Turns))
	for i, t := range record.Turns {
		previous[i] = t.Content
	}
	header := m.producer.NewHeader("conversation.turn", record.ConversationID)
	event := bus.ConversationTurn{
		Header:         header,
		ConversationID: record.ConversationID,
		TurnNumber:     turnNumber,
		TargetModel:    provider.Name(),
		PreviousTurns:  previous,
		Context:        initialContext["source_text"],
	}
	m.producer.SendEvent(ctx, m.cfg.Kafka.TopicConversationTurn, event, record.ConversationID)
}

func (m *Manager) publishResponse(ctx context.Context, record *Record, result llmclient.Result, success bool, errMsg string) {
	if m.producer == nil {
		return
	}
	last := record.Turns[len(record.Turns)-1]
	header := m.producer.NewHeader("conversation.response", record.ConversationID)
	event := bus.ConversationResponse{
		Header:         header,
		ConversationID: record.ConversationID,
		Turn: bus.TurnResult{
			TurnNumber: last.TurnNumber,
			Role:       last.Role,
			Content:    last.Content,
			Model:      last.Model,
			LatencyMS:  last.LatencyMS,
			Tokens:     last.Tokens,
		},
		Success:      success,
		ErrorMessage: errMsg,
	}
	m.producer.SendEvent(ctx, m.cfg.Kafka.TopicConversationResponse, event, record.ConversationID)
}

func (m *Manager) publishCompleted(ctx context.Context, record *Record) {
	if m.producer == nil {
		return
	}
	turns := make([]bus.TurnResult, 0, len(record.Turns))
	for _, t := range record.Turns {
		turns = append(turns, bus.TurnResult{
			TurnNumber: t.TurnNumber,
			Role:       t.Role,
			Content:    t.Content,
			Model:      t.Model,
			LatencyMS:  t.LatencyMS,
			Tokens:     t.Tokens,
		})
	}
	reason := ""
	if record.Metadata.CompletionReason != nil {
		reason = string(*record.Metadata.CompletionReason)
	}
	header := m.producer.NewHeader("conversation.completed", record.ConversationID)
	event := bus.ConversationCompleted{
		Header:           header,
		ConversationID:   record.ConversationID,
		Topic:            record.Topic,
		Source:           record.Source,
		Turns:            turns,
		Metadata:         record.Metadata,
		CompletionReason: reason,
		QualityScore:     record.Metadata.QualityScore,
		CreatedAt:        record.CreatedAt,
		CompletedAt:      record.UpdatedAt,
	}
	m.producer.SendEvent(ctx, m.cfg.Kafka.TopicConversationCompleted, event, record.ConversationID)
}

func (m *Manager) publishError(ctx context.Context, record *Record, runErr error) {
	if m.producer == nil {
		return
	}
	errType := bus.ErrorTypeSystemError
	if lcErr, ok := asLLMClientError(runErr); ok {
		switch lcErr.Kind {
		case llmclient.KindTimeout:
			errType = bus.ErrorTypeTimeout
		case llmclient.KindRateLimited, llmclient.KindBadRequest, llmclient.KindAuthFailed,
			llmclient.KindQuotaExceeded, llmclient.KindSafetyFiltered, llmclient.KindEmptyResponse,
			llmclient.KindNetwork, llmclient.KindCircuitOpen, llmclient.KindUnknown:
			errType = bus.ErrorTypeLLMAPIError
		}
	}
	header := m.producer.NewHeader("conversation.error", record.ConversationID)
	event := bus.ConversationError{
		Header:         header,
		ConversationID: record.ConversationID,
		ErrorType:      errType,
		ErrorMessage:   runErr.Error(),
		IsRecoverable:  errType == bus.ErrorTypeTimeout || errType == bus.ErrorTypeLLMAPIError,
	}
	m.producer.SendEvent(ctx, m.cfg.Kafka.TopicConversationError, event, record.ConversationID)
}
