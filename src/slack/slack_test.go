package slack

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"type":"event_callback"}`)
	sig := Sign("secret", ts, body)

	assert.NoError(t, Verify("secret", ts, sig, body, now))
	assert.NoError(t, Verify("secret", ts, sig, body, now.Add(4*time.Minute)))

	assert.ErrorIs(t, Verify("other", ts, sig, body, now), ErrInvalidSignature)
	assert.ErrorIs(t, Verify("secret", ts, sig, []byte("tampered"), now), ErrInvalidSignature)
	assert.ErrorIs(t, Verify("secret", ts, sig, body, now.Add(6*time.Minute)), ErrStaleTimestamp)
	assert.ErrorIs(t, Verify("secret", ts, sig, body, now.Add(-6*time.Minute)), ErrStaleTimestamp)
	assert.ErrorIs(t, Verify("secret", "", sig, body, now), ErrStaleTimestamp)
	assert.ErrorIs(t, Verify("", ts, sig, body, now), ErrNoSecret)
}

func TestSignKnownVector(t *testing.T) {
	// Example from Slack's request signing documentation.
	body := "token=xyzz0WbapA4vBCDEFasx0q6G&team_id=T1DC2JH3J&team_domain=testteamnow&channel_id=G8PSS9T3V&channel_name=foobar&user_id=U2CERLKJA&user_name=roadrunner&command=%2Fwebhook-collect&text=&response_url=https%3A%2F%2Fhooks.slack.com%2Fcommands%2FT1DC2JH3J%2F397700885554%2F96rGlfmibIGlgcZRskXaIFfN&trigger_id=398738663015.47445629121.803a0bc887a14d10d2c447fce8b6703c"
	got := Sign("8f742231b10e8888abcd99yyyzzz85a5", "1531420618", []byte(body))
	assert.Equal(t, "v0=a2114d57b48eac39b9ad189dd8316235a7b4a8d21a10bd27519666489c69b503", got)
}

func TestParseCallbackURLVerification(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"type":"url_verification","challenge":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, CallbackURLVerification, cb.Type)
	assert.Equal(t, "abc", cb.Challenge)

	_, err = ParseCallback([]byte(`{`))
	assert.Error(t, err)
}

func TestParseCallbackMessage(t *testing.T) {
	body := `{
		"type": "event_callback",
		"team_id": "T1",
		"event_id": "Ev1",
		"authorizations": [{"user_id": "UBOT", "is_bot": true}, {"user_id": "U09", "is_bot": false}],
		"event": {"type": "message", "user": "U2", "text": "hi", "channel": "D1", "channel_type": "im", "ts": "1700000000.000100", "client_msg_id": "m-1"}
	}`
	cb, err := ParseCallback([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "U09", cb.Recipient())

	msg, ok := cb.Event.ChatMessage()
	require.True(t, ok)
	assert.Equal(t, types.ChatMessage{ID: "m-1", Channel: "D1", User: "U2", Text: "hi", Timestamp: "1700000000.000100"}, msg)
}

func TestChatMessageIgnoresNonUserMessages(t *testing.T) {
	tests := []*MessageEvent{
		nil,
		{Type: "reaction_added", User: "U1"},
		{Type: "message", Subtype: "message_changed", User: "U1"},
		{Type: "message", BotID: "B1", User: "U1"},
		{Type: "message"},
	}
	for _, ev := range tests {
		_, ok := ev.ChatMessage()
		assert.False(t, ok)
	}

	msg, ok := (&MessageEvent{Type: "message", User: "U1", Channel: "C1", TS: "1.2"}).ChatMessage()
	require.True(t, ok)
	assert.Equal(t, "C1:1.2", msg.ID)
}

func newSlackServer(t *testing.T, handler fasthttp.RequestHandler) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, handler) }()
	t.Cleanup(func() { ln.Close() })
	return &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
}

func TestPostMessageReplier(t *testing.T) {
	client := newSlackServer(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/api/chat.postMessage", string(ctx.Path()))
		assert.Equal(t, "Bearer xoxb-test", string(ctx.Request.Header.Peek("Authorization")))

		var req postMessageRequest
		assert.NoError(t, json.Unmarshal(ctx.PostBody(), &req))
		assert.Equal(t, "C1", req.Channel)
		assert.Equal(t, "1.0", req.ThreadTS)

		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"ok":true,"channel":"C1","ts":"2.0"}`)
	})

	r := NewPostMessageReplier("xoxb-test")
	r.BaseURL = "http://slack.test/api"
	r.Client = client

	res, err := r.Reply(context.Background(), types.ReplyRequest{Channel: "C1", Text: "hello", ThreadTS: "1.0"})
	require.NoError(t, err)
	assert.Equal(t, "sent", res.Status)
	assert.Equal(t, "2.0", res.MessageID)
	assert.Equal(t, "hello", res.Text)
}

func TestPostMessageReplierAPIError(t *testing.T) {
	client := newSlackServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"ok":false,"error":"channel_not_found"}`)
	})

	r := NewPostMessageReplier("xoxb-test")
	r.BaseURL = "http://slack.test/api"
	r.Client = client

	_, err := r.Reply(context.Background(), types.ReplyRequest{Channel: "C404", Text: "x"})
	assert.ErrorContains(t, err, "channel_not_found")
}

func TestPostMessageReplierNoToken(t *testing.T) {
	_, err := NewPostMessageReplier("").Reply(context.Background(), types.ReplyRequest{})
	assert.ErrorIs(t, err, ErrNoToken)
}
