package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps unread messages in a Redis list per user at
// "{prefix}unread:{user}", newest at the head.
type RedisStore struct {
	client *redis.Client
	prefix string
	limit  int
}

// NewRedisStore creates a RedisStore. The client is owned by the caller.
func NewRedisStore(client *redis.Client, prefix string, limit int) *RedisStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &RedisStore{client: client, prefix: prefix, limit: limit}
}

func (s *RedisStore) key(user string) string {
	return s.prefix + "unread:" + user
}

func (s *RedisStore) Add(ctx context.Context, user string, msg types.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := s.key(user)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(s.limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("store unread for %s: %w", user, err)
	}
	return nil
}

func (s *RedisStore) Unread(ctx context.Context, user string) ([]types.ChatMessage, error) {
	items, err := s.client.LRange(ctx, s.key(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load unread for %s: %w", user, err)
	}
	msgs := make([]types.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			// Skip entries written by something else.
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s *RedisStore) MarkRead(ctx context.Context, user string) (int, error) {
	key := s.key(user)
	var n *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		n = pipe.LLen(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark read for %s: %w", user, err)
	}
	return int(n.Val()), nil
}
