package convostore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore is an in-memory Store for tests and local development. It
// implements the same validation, TTL, and lock semantics as RedisStore
// without an external dependency.
type MemoryStore struct {
	mu sync.RWMutex

	conversations map[string]memEntry
	active        map[string]struct{}
	locks         map[string]time.Time
	queue         []Topic
	metrics       map[string]int64

	conversationTTL time.Duration
	now             func() time.Time
}

type memEntry struct {
	raw       []byte
	expiresAt time.Time
}

func NewMemoryStore(conversationTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		conversations:   make(map[string]memEntry),
		active:          make(map[string]struct{}),
		locks:           make(map[string]time.Time),
		metrics:         make(map[string]int64),
		conversationTTL: conversationTTL,
		now:             time.Now,
	}
}

func (s *MemoryStore) SaveConversation(ctx context.Context, id string, record []byte) (bool, error) {
	if err := validateRecord(record); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = memEntry{raw: record, expiresAt: s.now().Add(s.conversationTTL)}
	s.active[id] = struct{}{}
	log.Debug().Str("conversation_id", id).Msg("mem_store_save_conversation")
	return true, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.conversations[id]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.raw, nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, id string, updater func([]byte) ([]byte, error)) (bool, error) {
	current, err := s.GetConversation(ctx, id)
	if err != nil {
		return false, err
	}
	next, err := updater(current)
	if err != nil {
		return false, err
	}
	return s.SaveConversation(ctx, id, next)
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	delete(s.active, id)
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) AcquireLock(ctx context.Context, id string, ttlSeconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if expiry, held := s.locks[id]; held && now.Before(expiry) {
		return false, nil
	}
	s.locks[id] = now.Add(time.Duration(ttlSeconds) * time.Second)
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
	return nil
}

func (s *MemoryStore) PopTopic(ctx context.Context) (*Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, nil
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	return &t, nil
}

func (s *MemoryStore) PushTopic(ctx context.Context, topic Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, topic)
	return nil
}

func (s *MemoryStore) TopicQueueLength(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.queue)), nil
}

func (s *MemoryStore) SearchConversations(ctx context.Context, topic, status string) ([][]byte, error) {
	ids, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, id := range ids {
		raw, err := s.GetConversation(ctx, id)
		if err != nil || raw == nil {
			continue
		}
		if memMatchesSearch(raw, topic, status) {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id := range s.active {
		entry, ok := s.conversations[id]
		if !ok || s.now().After(entry.expiresAt) {
			delete(s.active, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) IncrMetric(ctx context.Context, field string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[field] += delta
	return nil
}

func (s *MemoryStore) Metrics(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.metrics))
	for k, v := range s.metrics {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func memMatchesSearch(raw []byte, topic, status string) bool {
	var m struct {
		Topic    string `json:"topic"`
		Metadata struct {
			Status string `json:"status"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	if topic != "" && !strings.Contains(strings.ToLower(m.Topic), strings.ToLower(topic)) {
		return false
	}
	if status != "" && m.Metadata.Status != status {
		return false
	}
	return true
}
