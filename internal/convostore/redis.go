package convostore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore is the production Store backend.
type RedisStore struct {
	client     *redis.Client
	conversationTTL time.Duration
}

func NewRedisStore(addr, password string, db int, conversationTTL time.Duration) (*RedisStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("convostore: redis ping failed: %w", err)
	}
	return &RedisStore{client: c, conversationTTL: conversationTTL}, nil
}

func (s *RedisStore) SaveConversation(ctx context.Context, id string, record []byte) (bool, error) {
	if err := validateRecord(record); err != nil {
		return false, err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, conversationKey(id), record, s.conversationTTL)
	pipe.SAdd(ctx, keyActiveConversations, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) GetConversation(ctx context.Context, id string) ([]byte, error) {
	val, err := s.client.Get(ctx, conversationKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *RedisStore) UpdateConversation(ctx context.Context, id string, updater func([]byte) ([]byte, error)) (bool, error) {
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

func (s *RedisStore) DeleteConversation(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, conversationKey(id))
	pipe.SRem(ctx, keyActiveConversations, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListActive(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, keyActiveConversations).Result()
}

func (s *RedisStore) AcquireLock(ctx context.Context, id string, ttlSeconds int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey(id), "locked", time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, id string) error {
	return s.client.Del(ctx, lockKey(id)).Err()
}

func (s *RedisStore) PopTopic(ctx context.Context) (*Topic, error) {
	val, err := s.client.LPop(ctx, keyTopicQueue).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t Topic
	if err := json.Unmarshal(val, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) PushTopic(ctx context.Context, topic Topic) error {
	raw, err := json.Marshal(topic)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, keyTopicQueue, raw).Err()
}

func (s *RedisStore) TopicQueueLength(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, keyTopicQueue).Result()
}

func (s *RedisStore) SearchConversations(ctx context.Context, topic, status string) ([][]byte, error) {
	ids, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, id := range ids {
		raw, err := s.GetConversation(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", id).Msg("convostore_search_get_failed")
			continue
		}
		if raw == nil {
			continue
		}
		if matchesSearch(raw, topic, status) {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := s.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		n, err := s.client.Exists(ctx, conversationKey(id)).Result()
		if err != nil {
			return count, err
		}
		if n == 0 {
			if err := s.client.SRem(ctx, keyActiveConversations, id).Err(); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func (s *RedisStore) IncrMetric(ctx context.Context, field string, delta int64) error {
	return s.client.HIncrBy(ctx, keyMetrics, field, delta).Err()
}

func (s *RedisStore) Metrics(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, keyMetrics).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func matchesSearch(raw []byte, topic, status string) bool {
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
