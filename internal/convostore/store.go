// Package convostore is the shared state store: conversation records with
// TTL, distributed per-conversation locks, a FIFO topic queue, an
// active-conversation index, and an aggregate metrics hash.
package convostore

import "context"

// Topic is a queue element popped exactly-once from the head of the FIFO
// topic queue.
type Topic struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Source    string            `json:"source"`
	URL       string            `json:"url,omitempty"`
	CreatedAt string            `json:"created_at"`
	Context   map[string]string `json:"context,omitempty"`
}

// Store is the typed interface every conversation-scoped and
// topic-scoped operation goes through. Two implementations exist: Redis
// (production) and an in-memory fake (tests, local dev).
type Store interface {
	// SaveConversation validates and writes record under
	// conversation:{id} with TTL, and adds id to active_conversations.
	SaveConversation(ctx context.Context, id string, record []byte) (bool, error)
	// GetConversation returns the raw JSON record, or nil if absent.
	GetConversation(ctx context.Context, id string) ([]byte, error)
	// UpdateConversation applies updater to the current record
	// (read-merge-write) and persists the result. updater receives the
	// current raw JSON (nil if absent) and returns the new raw JSON.
	UpdateConversation(ctx context.Context, id string, updater func(current []byte) ([]byte, error)) (bool, error)
	// DeleteConversation removes the record key and set membership.
	DeleteConversation(ctx context.Context, id string) error
	// ListActive returns the set of ids known to be active.
	ListActive(ctx context.Context) ([]string, error)

	// AcquireLock sets lock:conversation:{id} if absent with the given
	// TTL. Returns true iff acquired.
	AcquireLock(ctx context.Context, id string, ttl int64) (bool, error)
	// ReleaseLock unconditionally deletes the lock key. Safe against
	// double-release (see spec §9 lock-fencing hazard).
	ReleaseLock(ctx context.Context, id string) error

	// PopTopic pops the head of the FIFO topic_queue, or nil if empty.
	PopTopic(ctx context.Context) (*Topic, error)
	// PushTopic pushes a topic onto the tail of topic_queue.
	PushTopic(ctx context.Context, topic Topic) error
	// TopicQueueLength reports the queue's current length.
	TopicQueueLength(ctx context.Context) (int64, error)

	// SearchConversations iterates active ids, filtering by
	// case-insensitive substring on topic and/or exact match on status.
	SearchConversations(ctx context.Context, topic, status string) ([][]byte, error)
	// CleanupExpired removes ids from active_conversations whose record
	// key no longer exists; returns the count removed.
	CleanupExpired(ctx context.Context) (int, error)

	// IncrMetric increments a field of the conversation:metrics hash.
	IncrMetric(ctx context.Context, field string, delta int64) error
	// Metrics returns the full conversation:metrics hash.
	Metrics(ctx context.Context) (map[string]int64, error)

	Close() error
}
