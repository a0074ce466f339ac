package convostore

import "fmt"

const (
	keyActiveConversations = "active_conversations"
	keyTopicQueue          = "topic_queue"
	keyMetrics             = "conversation:metrics"
)

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

func lockKey(id string) string {
	return fmt.Sprintf("lock:conversation:%s", id)
}
