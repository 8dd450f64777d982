package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/orchestra-mcp/petlink/src/hub"
	"github.com/orchestra-mcp/petlink/src/slack"
	"github.com/orchestra-mcp/petlink/src/store"
	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/rs/zerolog"
)

// ErrNoReplier is returned by Reply when replies are not configured.
var ErrNoReplier = errors.New("service: replies are not configured")

// Service provides the high-level relay API.
type Service struct {
	hub     *hub.Hub
	store   store.Store
	replier slack.Replier
	logger  zerolog.Logger
}

// New creates a relay service. replier may be nil.
func New(h *hub.Hub, s store.Store, replier slack.Replier, logger zerolog.Logger) *Service {
	return &Service{
		hub:     h,
		store:   s,
		replier: replier,
		logger:  logger.With().Str("component", "service").Logger(),
	}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Notify records msg as unread for user and pushes new_message followed by
// unread_update to every connected overlay.
func (s *Service) Notify(ctx context.Context, user string, msg types.ChatMessage) error {
	if err := s.store.Add(ctx, user, msg); err != nil {
		return err
	}
	unread, err := s.store.Unread(ctx, user)
	if err != nil {
		return err
	}

	newMsg, err := types.NewEnvelope(types.TypeNewMessage, msg)
	if err != nil {
		return err
	}
	update, err := types.NewEnvelope(types.TypeUnreadUpdate, types.UnreadUpdate{
		TotalUnread:       len(unread),
		LatestMessage:     &msg,
		AllUnreadMessages: unread,
		HasNewMessage:     true,
	})
	if err != nil {
		return err
	}

	s.hub.Broadcast(newMsg)
	s.hub.Broadcast(update)

	s.logger.Debug().
		Str("user", user).
		Str("channel", msg.Channel).
		Int("unread", len(unread)).
		Msg("notified")
	return nil
}

// Unread returns the unread messages for user, newest first.
func (s *Service) Unread(ctx context.Context, user string) ([]types.ChatMessage, error) {
	return s.store.Unread(ctx, user)
}

// MarkRead clears user's unread messages and broadcasts the empty state.
func (s *Service) MarkRead(ctx context.Context, user string) (int, error) {
	n, err := s.store.MarkRead(ctx, user)
	if err != nil {
		return 0, err
	}
	update, err := types.NewEnvelope(types.TypeUnreadUpdate, types.UnreadUpdate{
		AllUnreadMessages: []types.ChatMessage{},
	})
	if err != nil {
		return 0, err
	}
	s.hub.Broadcast(update)
	return n, nil
}

// Reply forwards a reply to the chat backend.
func (s *Service) Reply(ctx context.Context, req types.ReplyRequest) (*types.ReplyResult, error) {
	if s.replier == nil {
		return nil, ErrNoReplier
	}
	if req.Channel == "" || req.Text == "" {
		return nil, fmt.Errorf("channel and text are required")
	}
	res, err := s.replier.Reply(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("channel", req.Channel).Msg("reply failed")
		return nil, err
	}
	return res, nil
}

// GetConnectedClients returns IDs of all connected overlays.
func (s *Service) GetConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// GetClients returns every connected overlay, longest-connected first.
func (s *Service) GetClients() []types.ClientInfo {
	return s.hub.Clients()
}

// GetClientInfo returns info for a connected client, or error.
func (s *Service) GetClientInfo(clientID string) (types.ClientInfo, error) {
	info, ok := s.hub.ClientInfo(clientID)
	if !ok {
		return types.ClientInfo{}, fmt.Errorf("client %s not found", clientID)
	}
	return info, nil
}
