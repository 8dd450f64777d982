package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/valyala/fasthttp"
)

// DefaultAPIBase is the Slack Web API root.
const DefaultAPIBase = "https://slack.com/api"

// ErrNoToken is returned when no bot token is configured.
var ErrNoToken = errors.New("slack: bot token not configured")

// Replier posts a reply on behalf of the user.
type Replier interface {
	Reply(ctx context.Context, req types.ReplyRequest) (*types.ReplyResult, error)
}

// PostMessageReplier sends replies with chat.postMessage.
type PostMessageReplier struct {
	Token   string
	BaseURL string
	Client  *fasthttp.Client
	Timeout time.Duration
}

// NewPostMessageReplier creates a replier for the given bot token.
func NewPostMessageReplier(token string) *PostMessageReplier {
	return &PostMessageReplier{
		Token:   token,
		BaseURL: DefaultAPIBase,
		Client:  &fasthttp.Client{},
		Timeout: 10 * time.Second,
	}
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// Reply posts req.Text to req.Channel, threaded when ThreadTS is set.
func (r *PostMessageReplier) Reply(ctx context.Context, req types.ReplyRequest) (*types.ReplyResult, error) {
	if r.Token == "" {
		return nil, ErrNoToken
	}
	body, err := json.Marshal(postMessageRequest{Channel: req.Channel, Text: req.Text, ThreadTS: req.ThreadTS})
	if err != nil {
		return nil, err
	}

	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(httpReq)
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.SetRequestURI(r.BaseURL + "/chat.postMessage")
	httpReq.Header.SetMethod(fasthttp.MethodPost)
	httpReq.Header.SetContentType("application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Bearer "+r.Token)
	httpReq.SetBody(body)

	if err := r.Client.DoDeadline(httpReq, httpResp, deadline(ctx, r.Timeout)); err != nil {
		return nil, fmt.Errorf("chat.postMessage: %w", err)
	}
	if code := httpResp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("chat.postMessage: status %d", code)
	}

	var out postMessageResponse
	if err := json.Unmarshal(httpResp.Body(), &out); err != nil {
		return nil, fmt.Errorf("chat.postMessage: decode response: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("chat.postMessage: %s", out.Error)
	}
	return &types.ReplyResult{
		Status:    "sent",
		MessageID: out.TS,
		Channel:   out.Channel,
		Text:      req.Text,
		ThreadTS:  req.ThreadTS,
		Timestamp: out.TS,
	}, nil
}

// deadline picks the earlier of the context deadline and now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
