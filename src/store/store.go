// Package store keeps per-user unread chat messages for the relay.
package store

import (
	"context"
	"sync"

	"github.com/orchestra-mcp/petlink/src/types"
)

// DefaultLimit bounds how many unread messages are kept per user.
const DefaultLimit = 100

// Store holds unread messages, newest first.
type Store interface {
	Add(ctx context.Context, user string, msg types.ChatMessage) error
	Unread(ctx context.Context, user string) ([]types.ChatMessage, error)
	MarkRead(ctx context.Context, user string) (int, error)
}

// MemoryStore is an in-process Store used when Redis is unavailable.
type MemoryStore struct {
	mu     sync.RWMutex
	limit  int
	unread map[string][]types.ChatMessage
}

// NewMemoryStore creates a MemoryStore keeping at most limit messages per user.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{
		limit:  limit,
		unread: make(map[string][]types.ChatMessage),
	}
}

func (s *MemoryStore) Add(_ context.Context, user string, msg types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append([]types.ChatMessage{msg}, s.unread[user]...)
	if len(msgs) > s.limit {
		msgs = msgs[:s.limit]
	}
	s.unread[user] = msgs
	return nil
}

func (s *MemoryStore) Unread(_ context.Context, user string) ([]types.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ChatMessage, len(s.unread[user]))
	copy(out, s.unread[user])
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, user string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.unread[user])
	delete(s.unread, user)
	return n, nil
}
