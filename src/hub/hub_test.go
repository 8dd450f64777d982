package hub_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/petlink/src/hub"
	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn implements types.Conn for testing without a real WebSocket.
type mockConn struct {
	mu       sync.Mutex
	written  []string
	readCh   chan string
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:   make(chan string, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case s := <-m.readCh:
		return websocket.TextMessage, []byte(s), nil
	case <-m.closedCh:
		return 0, nil, errors.New("connection closed")
	}
}

func (m *mockConn) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, string(data))
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) getWritten() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]string, len(m.written))
	copy(cp, m.written)
	return cp
}

// newTestHub creates a hub and starts its event loop in a goroutine.
func newTestHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.New(zerolog.Nop())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

// registerClient creates, registers, and starts a mock client.
func registerClient(t *testing.T, h *hub.Hub, id string) (*hub.Client, *mockConn) {
	t.Helper()
	conn := newMockConn()
	client := hub.NewClient(id, conn, h)
	h.Register(client)
	go client.WritePump()
	// Allow registration to process.
	time.Sleep(20 * time.Millisecond)
	return client, conn
}

func mustEnvelope(t *testing.T, typ string, data any) types.Envelope {
	t.Helper()
	env, err := types.NewEnvelope(typ, data)
	require.NoError(t, err)
	return env
}

func TestHubRegisterAndUnregister(t *testing.T) {
	h := newTestHub(t)

	_, _ = registerClient(t, h, "client-1")
	_, _ = registerClient(t, h, "client-2")
	assert.Equal(t, []string{"client-1", "client-2"}, h.ConnectedClients())
	_, ok := h.ClientInfo("client-1")
	assert.True(t, ok)

	c3, _ := registerClient(t, h, "client-3")
	h.Unregister(c3)
	time.Sleep(20 * time.Millisecond)

	_, ok = h.ClientInfo("client-3")
	assert.False(t, ok)
	assert.Equal(t, 2, h.ClientCount())
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := newTestHub(t)
	_, conn1 := registerClient(t, h, "c1")
	_, conn2 := registerClient(t, h, "c2")

	h.Broadcast(mustEnvelope(t, types.TypeNewMessage, map[string]any{"id": "1"}))
	time.Sleep(50 * time.Millisecond)

	for _, conn := range []*mockConn{conn1, conn2} {
		written := conn.getWritten()
		require.Len(t, written, 1)
		assert.JSONEq(t, `{"type":"new_message","data":{"id":"1"}}`, written[0])
	}
}

func TestGreetingSentOnRegister(t *testing.T) {
	h := newTestHub(t)
	h.SetGreeting(mustEnvelope(t, types.TypeConnected, map[string]string{"message": "hello"}))

	_, conn := registerClient(t, h, "greeted")
	time.Sleep(20 * time.Millisecond)

	written := conn.getWritten()
	require.Len(t, written, 1)
	assert.JSONEq(t, `{"type":"connected","data":{"message":"hello"}}`, written[0])
}

func TestMaxConnections(t *testing.T) {
	h := newTestHub(t)
	h.SetMaxConnections(1)

	_, _ = registerClient(t, h, "first")
	_, _ = registerClient(t, h, "second")

	assert.Equal(t, 1, h.ClientCount())
	_, ok := h.ClientInfo("second")
	assert.False(t, ok)
}

func TestRejectedClientIsClosedAndIgnored(t *testing.T) {
	h := newTestHub(t)
	h.SetMaxConnections(1)

	handled := make(chan string, 2)
	h.RegisterHandler("mark_read", func(clientID string, _ types.Envelope) error {
		handled <- clientID
		return nil
	})

	_, _ = registerClient(t, h, "first")
	rejected, conn := registerClient(t, h, "second")

	select {
	case <-conn.closedCh:
	case <-time.After(time.Second):
		t.Fatal("rejected client connection was not closed")
	}

	conn.readCh <- `{"type":"mark_read"}`
	rejected.ReadPump()

	select {
	case id := <-handled:
		t.Fatalf("handler ran for %s", id)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []string{"first"}, h.ConnectedClients())
}

func TestClientsOrderedByConnectTime(t *testing.T) {
	h := newTestHub(t)
	_, _ = registerClient(t, h, "zeta")
	_, _ = registerClient(t, h, "alpha")

	infos := h.Clients()
	require.Len(t, infos, 2)
	assert.Equal(t, "zeta", infos[0].ID)
	assert.Equal(t, "alpha", infos[1].ID)
	assert.Equal(t, []string{"zeta", "alpha"}, h.ConnectedClients())
}

func TestRegisterNilHandlerRemovesRoute(t *testing.T) {
	h := newTestHub(t)

	handled := make(chan struct{}, 2)
	h.RegisterHandler("reply", func(string, types.Envelope) error {
		handled <- struct{}{}
		return nil
	})
	h.RegisterHandler("reply", nil)

	client, conn := registerClient(t, h, "sender")
	go client.ReadPump()
	conn.readCh <- `{"type":"reply","data":{}}`

	select {
	case <-handled:
		t.Fatal("removed handler was invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReadPumpAnswersPing(t *testing.T) {
	h := newTestHub(t)
	client, conn := registerClient(t, h, "pinger")
	go client.ReadPump()

	conn.readCh <- types.PingFrame
	require.Eventually(t, func() bool {
		return len(conn.getWritten()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.PongFrame, conn.getWritten()[0])
}

func TestHandlerInvocation(t *testing.T) {
	h := newTestHub(t)

	received := make(chan types.Envelope, 1)
	h.RegisterHandler("reply", func(clientID string, env types.Envelope) error {
		assert.Equal(t, "sender", clientID)
		received <- env
		return nil
	})

	client, conn := registerClient(t, h, "sender")
	go client.ReadPump()

	conn.readCh <- "garbage"
	conn.readCh <- `{"type":"unknown"}`
	conn.readCh <- `{"type":"reply","data":{"text":"ok"}}`

	select {
	case env := <-received:
		var data map[string]string
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "ok", data["text"])
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestReadPumpUnregistersOnClose(t *testing.T) {
	h := newTestHub(t)
	client, conn := registerClient(t, h, "leaver")

	done := make(chan struct{})
	go func() {
		client.ReadPump()
		close(done)
	}()
	conn.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read pump did not exit")
	}
	require.Eventually(t, func() bool {
		return h.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSendToClient(t *testing.T) {
	h := newTestHub(t)
	_, conn := registerClient(t, h, "target")

	env := mustEnvelope(t, "direct", map[string]any{"hello": "world"})
	require.True(t, h.SendToClient("target", env))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn.getWritten(), 1)

	assert.False(t, h.SendToClient("nonexistent", env))
}

func TestConnectionCallbacks(t *testing.T) {
	h := newTestHub(t)

	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	h.OnConnection(func(info types.ClientInfo) { connected <- info.ID })
	h.OnDisconnection(func(info types.ClientInfo) { disconnected <- info.ID })

	client, _ := registerClient(t, h, "cb-client")
	assert.Equal(t, "cb-client", <-connected)

	h.Unregister(client)
	select {
	case id := <-disconnected:
		assert.Equal(t, "cb-client", id)
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not invoked")
	}
}

type recordingBridge struct {
	mu        sync.Mutex
	published []types.Envelope
}

func (b *recordingBridge) Publish(env types.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}

func (b *recordingBridge) Available() bool { return true }

func (b *recordingBridge) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func TestBridgeReceivesBroadcastButNotLocalCast(t *testing.T) {
	h := newTestHub(t)
	b := &recordingBridge{}
	h.SetBridge(b)
	_, conn := registerClient(t, h, "c1")

	h.Broadcast(mustEnvelope(t, "a", nil))
	h.BroadcastToLocal(mustEnvelope(t, "b", nil))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, b.count())
	assert.Len(t, conn.getWritten(), 2)
}
