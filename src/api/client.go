package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/orchestra-mcp/petlink/config"
	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// SlackAppID selects the configured user's Slack inbox in UnreadMessages.
const SlackAppID = "slack"

// StatusError reports a non-2xx response from the relay.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the relay's REST endpoints.
type Client struct {
	cfg    *config.APIConfig
	http   *fasthttp.Client
	logger zerolog.Logger
}

// New creates an API client. A nil httpClient uses a default fasthttp client.
func New(cfg *config.APIConfig, httpClient *fasthttp.Client, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = config.DefaultAPIConfig()
	}
	if httpClient == nil {
		httpClient = &fasthttp.Client{}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// SendReply posts a reply to channel, threaded under threadTS when set.
func (c *Client) SendReply(ctx context.Context, channel, text, threadTS string) (*types.ReplyResult, error) {
	req := types.ReplyRequest{
		UserID:   c.cfg.UserID,
		Channel:  channel,
		Text:     text,
		ThreadTS: threadTS,
	}
	var out types.ReplyResult
	if err := c.do(ctx, fasthttp.MethodPost, "/slack/reply", req, &out); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("channel", channel).Str("message_id", out.MessageID).Msg("reply sent")
	return &out, nil
}

// UnreadMessages fetches unread messages. An empty appID reads the default
// inbox and SlackAppID reads the configured user's inbox.
func (c *Client) UnreadMessages(ctx context.Context, appID string) ([]types.ChatMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, fasthttp.MethodGet, c.unreadPath(appID), nil, &raw); err != nil {
		return nil, err
	}
	return decodeUnread(raw)
}

// MarkRead clears a user's unread messages and returns how many were cleared.
func (c *Client) MarkRead(ctx context.Context, user string) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/messages/read/"+url.PathEscape(user), nil, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

func (c *Client) unreadPath(appID string) string {
	switch {
	case appID == SlackAppID && c.cfg.UserID != "":
		return "/messages/unread/" + url.PathEscape(c.cfg.UserID)
	case appID != "":
		return "/messages/unread/" + url.PathEscape(appID)
	default:
		return "/messages/unread"
	}
}

// decodeUnread accepts either a bare array or a {count, messages} object.
func decodeUnread(raw json.RawMessage) ([]types.ChatMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []types.ChatMessage{}, nil
	}
	if trimmed[0] == '[' {
		var msgs []types.ChatMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, fmt.Errorf("decode unread: %w", err)
		}
		return msgs, nil
	}
	var resp types.UnreadResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("decode unread: %w", err)
	}
	if resp.Messages == nil {
		return []types.ChatMessage{}, nil
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(c.cfg.BaseURL, "/") + path)
	req.Header.SetMethod(method)
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	if err := c.http.DoDeadline(req, resp, deadline(ctx, c.cfg.Timeout)); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return &StatusError{Method: method, Path: path, Code: code, Body: string(resp.Body())}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
