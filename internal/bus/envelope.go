// Package bus is the event bus adapter: a producer with ordered per-key
// delivery, bounded retries, and idempotence; a consumer with group
// membership, manual offset commit, handler dispatch, and dead-letter
// routing on failed handlers.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// ErrorType is the taxonomy every conversation.error event uses.
type ErrorType string

const (
	ErrorTypeLLMAPIError     ErrorType = "llm_api_error"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeValidationError ErrorType = "validation_error"
	ErrorTypeSystemError     ErrorType = "system_error"
)

// Header fields every event shares.
type Header struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	SourceService string    `json:"source_service"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func newHeader(eventType, sourceService, correlationID string, now time.Time) Header {
	return Header{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Timestamp:     now,
		SourceService: sourceService,
		CorrelationID: correlationID,
	}
}

// Priority is conversation.new's priority field.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ConversationNew is the conversation.new event payload.
type ConversationNew struct {
	Header
	ConversationID string            `json:"conversation_id"`
	Topic          string            `json:"topic"`
	Source         string            `json:"source"`
	SourceURL      string            `json:"source_url,omitempty"`
	InitialContext map[string]string `json:"initial_context,omitempty"`
	Priority       Priority          `json:"priority"`
}

// ConversationTurn is the conversation.turn event payload.
type ConversationTurn struct {
	Header
	ConversationID string   `json:"conversation_id"`
	TurnNumber     int      `json:"turn_number"`
	TargetModel    string   `json:"target_model"`
	PreviousTurns  []string `json:"previous_turns"`
	Context        string   `json:"context,omitempty"`
}

// TurnResult is embedded in ConversationResponse.
type TurnResult struct {
	TurnNumber int    `json:"turn_number"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Model      string `json:"model"`
	LatencyMS  *int64 `json:"latency_ms,omitempty"`
	Tokens     *int   `json:"tokens,omitempty"`
}

// ConversationResponse is the conversation.response event payload.
type ConversationResponse struct {
	Header
	ConversationID string     `json:"conversation_id"`
	Turn           TurnResult `json:"turn"`
	Success        bool       `json:"success"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RetryCount     int        `json:"retry_count"`
}

// ConversationCompleted is the conversation.completed event payload.
type ConversationCompleted struct {
	Header
	ConversationID   string       `json:"conversation_id"`
	Topic            string       `json:"topic"`
	Source           string       `json:"source"`
	Turns            []TurnResult `json:"turns"`
	Metadata         any          `json:"metadata"`
	CompletionReason string       `json:"completion_reason"`
	QualityScore     *float64     `json:"quality_score,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	CompletedAt      time.Time    `json:"completed_at"`
}

// ConversationError is the conversation.error event payload.
type ConversationError struct {
	Header
	ConversationID string    `json:"conversation_id"`
	ErrorType      ErrorType `json:"error_type"`
	ErrorMessage   string    `json:"error_message"`
	ErrorDetails   string    `json:"error_details,omitempty"`
	RetryCount     int       `json:"retry_count"`
	IsRecoverable  bool      `json:"is_recoverable"`
	TurnNumber     *int      `json:"turn_number,omitempty"`
}

// DeadLetter is the envelope published to {original_topic}.dlq.
type DeadLetter struct {
	OriginalTopic   string    `json:"original_topic"`
	OriginalMessage []byte    `json:"original_message"`
	Error           string    `json:"error"`
	Timestamp       time.Time `json:"timestamp"`
}

func dlqTopicFor(topic string) string {
	const suffix = ".dlq"
	if len(topic) >= len(suffix) && topic[len(topic)-len(suffix):] == suffix {
		return topic
	}
	return topic + suffix
}
