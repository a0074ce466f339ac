package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"duologue/internal/bus"
	"duologue/internal/convo"
)

// newConversationHandler decodes a conversation.new event and admits it to
// the manager. Returning an error here routes the triggering message to its
// DLQ rather than silently dropping it.
func newConversationHandler(manager *convo.Manager) bus.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var event bus.ConversationNew
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("decode conversation.new: %w", err)
		}
		if event.Topic == "" {
			return fmt.Errorf("conversation.new missing topic")
		}

		id, err := manager.StartNewConversation(ctx, event.ConversationID, event.Topic, event.Source, event.SourceURL, event.InitialContext)
		if err != nil {
			return fmt.Errorf("start conversation: %w", err)
		}
		log.Info().Str("conversation_id", id).Str("topic", event.Topic).Msg("conversation_admitted")
		return nil
	}
}
