package slack

import (
	"encoding/json"
	"fmt"

	"github.com/orchestra-mcp/petlink/src/types"
)

// Callback types sent to the events endpoint.
const (
	CallbackURLVerification = "url_verification"
	CallbackEvent           = "event_callback"
)

// Callback is the outer Events API payload.
type Callback struct {
	Type           string          `json:"type"`
	Challenge      string          `json:"challenge,omitempty"`
	TeamID         string          `json:"team_id,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
	Event          *MessageEvent   `json:"event,omitempty"`
	Authorizations []Authorization `json:"authorizations,omitempty"`
}

// Authorization names a user the app acts for in this workspace.
type Authorization struct {
	UserID string `json:"user_id"`
	IsBot  bool   `json:"is_bot"`
}

// MessageEvent is the inner event of an event_callback. Only the fields
// used for message notifications are decoded.
type MessageEvent struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Text        string `json:"text,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// ParseCallback decodes an Events API body.
func ParseCallback(body []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("parse slack callback: %w", err)
	}
	return &cb, nil
}

// Recipient returns the first human user the callback was delivered for.
func (cb *Callback) Recipient() string {
	for _, a := range cb.Authorizations {
		if !a.IsBot && a.UserID != "" {
			return a.UserID
		}
	}
	return ""
}

// ChatMessage converts a plain user message into a notification. Bot
// posts, edits, and other subtypes are ignored.
func (e *MessageEvent) ChatMessage() (types.ChatMessage, bool) {
	if e == nil || e.Type != "message" || e.Subtype != "" || e.BotID != "" || e.User == "" {
		return types.ChatMessage{}, false
	}
	id := e.ClientMsgID
	if id == "" {
		id = e.Channel + ":" + e.TS
	}
	return types.ChatMessage{
		ID:        id,
		Channel:   e.Channel,
		User:      e.User,
		Text:      e.Text,
		Timestamp: e.TS,
		ThreadTS:  e.ThreadTS,
	}, true
}
