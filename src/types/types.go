package types

import (
	"encoding/json"
	"time"
)

// Liveness frames. They travel as bare text, never as envelopes.
const (
	PingFrame = "ping"
	PongFrame = "pong"
)

// Application event types pushed by the relay.
const (
	TypeConnected    = "connected"
	TypeNewMessage   = "new_message"
	TypeUnreadUpdate = "unread_update"
)

// TypeMarkRead is sent by an overlay once the user has seen its messages.
const TypeMarkRead = "mark_read"

// Envelope is the JSON object carried by every non-liveness frame.
type Envelope struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(typ string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// ChatMessage is a single chat notification.
type ChatMessage struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	ThreadTS  string `json:"thread_ts,omitempty"`
}

// UnreadUpdate summarises a user's unread state after a new message.
type UnreadUpdate struct {
	TotalUnread       int           `json:"total_unread"`
	LatestMessage     *ChatMessage  `json:"latest_message,omitempty"`
	AllUnreadMessages []ChatMessage `json:"all_unread_messages"`
	HasNewMessage     bool          `json:"has_new_message"`
}

// ReplyRequest is the body of a reply submission.
type ReplyRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// ReplyResult is returned once a reply has been accepted.
type ReplyResult struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Channel   string `json:"channel"`
	Text      string `json:"text"`
	ThreadTS  string `json:"thread_ts,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// UnreadResponse is the body served by the unread endpoints.
type UnreadResponse struct {
	Count    int           `json:"count"`
	Messages []ChatMessage `json:"messages"`
}

// ClientInfo holds metadata about a connected WebSocket client.
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	UserAgent   string    `json:"user_agent,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
// *websocket.Conn satisfies it directly.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// EnvelopeHandler handles an envelope received from a connected client.
type EnvelopeHandler func(clientID string, env Envelope) error
