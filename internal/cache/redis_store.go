// Package cache provides the redis-backed shared state of the relay: the
// per-document draft cache with TTL, the presence roster hash, and the
// recent-chat ring.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"codraft/internal/protocol"
)

// chatHistoryLimit caps the retained per-document chat tail.
const chatHistoryLimit = 100

// chatTTL expires idle chat rings.
const chatTTL = 24 * time.Hour

// DraftState is the cached uncommitted content for a document.
type DraftState struct {
	Content string    `json:"content"`
	SavedBy string    `json:"saved_by"`
	SavedAt time.Time `json:"saved_at"`
}

// RedisStore holds the relay's shared state in Redis.
type RedisStore struct {
	client   *redis.Client
	draftTTL time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, draftTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, draftTTL: draftTTL}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, draftTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, draftTTL: draftTTL}
}

func draftKey(documentID string) string    { return "draft:" + documentID }
func presenceKey(documentID string) string { return "presence:" + documentID }
func chatKey(documentID string) string     { return "chat:" + documentID }

// TopicFor is the pub/sub channel name for a document. Every relay instance
// subscribed to it receives every broadcast for the document.
func TopicFor(documentID string) string { return "topic:" + documentID }

// SaveDraft stores draft content with the configured TTL, resetting the
// countdown on every save.
func (s *RedisStore) SaveDraft(ctx context.Context, documentID, content, savedBy string) error {
	state := DraftState{Content: content, SavedBy: savedBy, SavedAt: time.Now()}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, draftKey(documentID), payload, s.draftTTL).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// FetchDraft returns the cached draft and its remaining TTL in seconds
// (-1 when the key has no expiry). found is false when no draft is cached.
func (s *RedisStore) FetchDraft(ctx context.Context, documentID string) (state DraftState, ttlSeconds int, found bool, err error) {
	payload, err := s.client.Get(ctx, draftKey(documentID)).Result()
	if err == redis.Nil {
		return DraftState{}, -1, false, nil
	}
	if err != nil {
		return DraftState{}, -1, false, fmt.Errorf("fetch draft: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return DraftState{}, -1, false, fmt.Errorf("unmarshal draft: %w", err)
	}

	ttl, err := s.client.TTL(ctx, draftKey(documentID)).Result()
	if err != nil {
		return DraftState{}, -1, false, fmt.Errorf("draft ttl: %w", err)
	}
	if ttl < 0 {
		return state, -1, true, nil
	}
	return state, int(ttl / time.Second), true, nil
}

// ClearDraft drops the cached draft, e.g. after a rollback.
func (s *RedisStore) ClearDraft(ctx context.Context, documentID string) error {
	if err := s.client.Del(ctx, draftKey(documentID)).Err(); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// AddPresence records a user on a document's roster.
func (s *RedisStore) AddPresence(ctx context.Context, documentID, userID, nickname string) error {
	if err := s.client.HSet(ctx, presenceKey(documentID), userID, nickname).Err(); err != nil {
		return fmt.Errorf("add presence: %w", err)
	}
	return nil
}

// RemovePresence drops a user from a document's roster.
func (s *RedisStore) RemovePresence(ctx context.Context, documentID, userID string) error {
	if err := s.client.HDel(ctx, presenceKey(documentID), userID).Err(); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

// Roster returns the document's full roster, ordered by user id.
func (s *RedisStore) Roster(ctx context.Context, documentID string) ([]protocol.RosterEntry, error) {
	members, err := s.client.HGetAll(ctx, presenceKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	roster := make([]protocol.RosterEntry, 0, len(members))
	for userID, nickname := range members {
		roster = append(roster, protocol.RosterEntry{UserID: userID, Nickname: nickname})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].UserID < roster[j].UserID })
	return roster, nil
}

// AppendChat pushes an encoded chat frame onto the document's history ring.
func (s *RedisStore) AppendChat(ctx context.Context, documentID string, frame []byte) error {
	key := chatKey(documentID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, frame)
	pipe.LTrim(ctx, key, -chatHistoryLimit, -1)
	pipe.Expire(ctx, key, chatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}

// ChatHistory returns the retained chat frames, oldest first.
func (s *RedisStore) ChatHistory(ctx context.Context, documentID string) ([][]byte, error) {
	entries, err := s.client.LRange(ctx, chatKey(documentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	frames := make([][]byte, len(entries))
	for i, entry := range entries {
		frames[i] = []byte(entry)
	}
	return frames, nil
}

// Publish fans a frame out on a document topic.
func (s *RedisStore) Publish(ctx context.Context, topic string, frame []byte) error {
	if err := s.client.Publish(ctx, topic, frame).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe opens a subscription on a document topic.
func (s *RedisStore) Subscribe(ctx context.Context, topic string) *redis.PubSub {
	return s.client.Subscribe(ctx, topic)
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
