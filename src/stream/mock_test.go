package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/petlink/config"
	"github.com/orchestra-mcp/petlink/src/types"
)

type frame struct {
	messageType int
	data        []byte
	err         error
}

// mockConn implements types.Conn for testing without a real WebSocket.
type mockConn struct {
	mu       sync.Mutex
	written  []string
	readCh   chan frame
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:   make(chan frame, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.readCh:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.messageType, f.data, nil
	case <-m.closedCh:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (m *mockConn) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("write on closed connection")
	}
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

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) getWritten() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]string, len(m.written))
	copy(cp, m.written)
	return cp
}

// text queues an inbound text frame.
func (m *mockConn) text(s string) {
	m.readCh <- frame{messageType: websocket.TextMessage, data: []byte(s)}
}

// fail makes the next read return err.
func (m *mockConn) fail(err error) {
	m.readCh <- frame{err: err}
}

// mockDialer hands out a fresh mockConn per dial, or fails when failing is set.
type mockDialer struct {
	mu      sync.Mutex
	conns   []*mockConn
	dials   int
	failing error
	dialed  chan *mockConn
}

func newMockDialer() *mockDialer {
	return &mockDialer{dialed: make(chan *mockConn, 16)}
}

func (d *mockDialer) Dial(_ context.Context, _ string) (types.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failing != nil {
		return nil, d.failing
	}
	conn := newMockConn()
	d.conns = append(d.conns, conn)
	d.dialed <- conn
	return conn, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *mockDialer) setFailing(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = err
}

// recorder collects events delivered to listeners.
type recorder struct {
	ch chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 64)}
}

func (r *recorder) listen(c *Client, names ...string) {
	for _, name := range names {
		c.On(name, func(ev Event) { r.ch <- ev })
	}
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *recorder) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %q (%s)", ev.Name, ev.Kind)
	case <-time.After(wait):
	}
}

// diagSink records diagnostics.
type diagSink struct {
	mu    sync.Mutex
	diags []Diagnostic
}

func (s *diagSink) Record(d Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diags = append(s.diags, d)
}

func (s *diagSink) count(kind DiagnosticKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.diags {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

func testConfig() *config.StreamConfig {
	cfg := config.DefaultStreamConfig()
	cfg.URL = "ws://test.invalid/ws"
	cfg.PingInterval = time.Hour
	cfg.ReconnectDelay = 50 * time.Millisecond
	return cfg
}

// newTestClient creates a client with a mock dialer and starts its loop.
func newTestClient(t *testing.T, cfg *config.StreamConfig, opts ...Option) (*Client, *mockDialer) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	d := newMockDialer()
	opts = append([]Option{WithDialer(d)}, opts...)
	c := New(cfg, opts...)
	go c.Run()
	t.Cleanup(c.Stop)
	return c, d
}

func waitConn(t *testing.T, d *mockDialer) *mockConn {
	t.Helper()
	select {
	case conn := <-d.dialed:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}
