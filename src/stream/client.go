package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/petlink/config"
	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrStopped is returned by Connect after Stop.
	ErrStopped = errors.New("stream: client stopped")
	// ErrNotConnected is returned by Send when no connection is open.
	ErrNotConnected = errors.New("stream: not connected")
)

// State is the connection state of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnectPending
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// session is one connection generation. Every connection attempt gets a
// fresh session with its own ping loop; nothing is shared across them.
type session struct {
	id     string
	url    string
	cancel context.CancelFunc
	done   chan struct{} // closed when the read loop exits

	// retired marks an intentional close: no error event, no reconnect.
	retired atomic.Bool

	// guarded by Client.mu
	conn  types.Conn
	open  bool
	ended bool

	writeMu sync.Mutex
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

type pendingReconnect struct {
	url   string
	timer *time.Timer
}

type loopEventKind int

const (
	evOpened loopEventKind = iota
	evFrame
	evFailed
	evClosed
	evReconnect
)

type loopEvent struct {
	kind    loopEventKind
	session *session
	data    []byte
	err     error
	pending *pendingReconnect
}

// Client is a reconnecting event-stream client. Listener callbacks run on
// the goroutine executing Run, in frame arrival order.
type Client struct {
	cfg      config.StreamConfig
	dialer   Dialer
	logger   zerolog.Logger
	sink     DiagnosticSink
	registry *registry

	events   chan loopEvent
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	session   *session
	detached  *session // last session ended by Disconnect, still owed its disconnected event
	reconnect *pendingReconnect
	stopped   bool
}

// New creates a client. A nil cfg means config.DefaultStreamConfig().
func New(cfg *config.StreamConfig, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.DefaultStreamConfig()
	}
	c := &Client{
		cfg:      *cfg,
		logger:   zerolog.Nop(),
		sink:     nopSink{},
		registry: newRegistry(),
		events:   make(chan loopEvent, 256),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = defaultDialer(c.cfg.HandshakeTimeout)
	}
	c.logger = c.logger.With().Str("component", "stream").Logger()
	return c
}

// Run dispatches connection events to listeners until Stop. Call in a goroutine.
func (c *Client) Run() {
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.done:
			return
		}
	}
}

// Stop disconnects and halts the dispatch loop. The client cannot be reused.
func (c *Client) Stop() {
	c.Disconnect()
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.done) })
}

// On registers fn for the named event. Listeners for the same name run in
// registration order; registering the same function twice calls it twice.
func (c *Client) On(name string, fn Listener) ListenerID {
	return c.registry.add(name, fn)
}

// Off removes a registration. It is a no-op for unknown ids.
func (c *Client) Off(name string, id ListenerID) {
	c.registry.remove(name, id)
}

// Connect opens a new connection to url, or to the configured URL when url
// is empty. Any existing connection is closed first and a pending reconnect
// is cancelled. The result of the attempt is reported through events.
func (c *Client) Connect(url string) error {
	if url == "" {
		url = c.cfg.URL
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.cancelReconnectLocked()
	c.retireLocked()
	c.detached = nil

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.New().String(),
		url:    url,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.session = s
	c.mu.Unlock()

	c.logger.Info().Str("conn_id", s.id).Str("url", url).Msg("connecting")
	go c.serve(ctx, s)
	return nil
}

// Disconnect cancels any pending reconnect and closes the active
// connection. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelReconnectLocked()
	if c.session != nil {
		c.detached = c.session
	}
	c.retireLocked()
}

// Send writes an envelope to the open connection.
func (c *Client) Send(typ string, data any) error {
	env, err := types.NewEnvelope(typ, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	s := c.session
	if s == nil || !s.open {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()
	return s.write(websocket.TextMessage, payload)
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.stopped:
		return StateStopped
	case c.reconnect != nil:
		return StateReconnectPending
	case c.session == nil:
		return StateIdle
	case c.session.open:
		return StateOpen
	case c.session.ended:
		return StateClosed
	default:
		return StateConnecting
	}
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnect == nil {
		return
	}
	c.reconnect.timer.Stop()
	c.reconnect = nil
}

func (c *Client) retireLocked() {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	s.retired.Store(true)
	s.cancel()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// serve dials, then reads frames until the connection ends.
func (c *Client) serve(ctx context.Context, s *session) {
	defer s.cancel()

	conn, err := c.dialer.Dial(ctx, s.url)
	if err != nil {
		c.sink.Record(Diagnostic{Kind: DiagDialFailed, ConnID: s.id, Err: err, At: time.Now()})
		c.finish(s, err)
		return
	}

	c.mu.Lock()
	if s.retired.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		c.finish(s, nil)
		return
	}
	s.conn = conn
	s.open = true
	c.mu.Unlock()

	c.post(loopEvent{kind: evOpened, session: s})
	go c.pingLoop(s)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			c.finish(s, err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		c.post(loopEvent{kind: evFrame, session: s, data: data})
	}
}

// finish marks the session ended and queues its error and close events.
func (c *Client) finish(s *session, err error) {
	c.mu.Lock()
	s.open = false
	s.ended = true
	c.mu.Unlock()
	close(s.done)

	if err != nil && !s.retired.Load() && !isNormalClose(err) {
		c.post(loopEvent{kind: evFailed, session: s, err: err})
	}
	c.post(loopEvent{kind: evClosed, session: s})
}

func (c *Client) pingLoop(s *session) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, []byte(types.PingFrame)); err != nil {
				c.logger.Warn().Err(err).Str("conn_id", s.id).Msg("ping failed")
				c.sink.Record(Diagnostic{Kind: DiagPingFailed, ConnID: s.id, Err: err, At: time.Now()})
				continue
			}
			c.logger.Debug().Str("conn_id", s.id).Msg("ping")
		}
	}
}

func (c *Client) post(ev loopEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// current reports whether s is still the live session. Events from a
// session replaced by Connect or ended by Disconnect are dropped.
func (c *Client) current(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s && !s.retired.Load()
}

// owesClose reports whether s should still report disconnected: it is the
// live session, or the one Disconnect ended most recently.
func (c *Client) owesClose(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.session == s:
		return true
	case c.session == nil && c.detached == s:
		c.detached = nil
		return true
	default:
		return false
	}
}

func (c *Client) handle(ev loopEvent) {
	switch ev.kind {
	case evOpened, evFrame, evFailed:
		if !c.current(ev.session) {
			c.logger.Debug().Str("conn_id", ev.session.id).Msg("dropping event from retired connection")
			return
		}
	case evClosed:
		if !c.owesClose(ev.session) {
			c.logger.Debug().Str("conn_id", ev.session.id).Msg("retired connection closed")
			return
		}
	}

	switch ev.kind {
	case evOpened:
		c.logger.Info().Str("conn_id", ev.session.id).Msg("connected")
		c.emit(Event{Name: EventConnected, Kind: KindConnected})
	case evFrame:
		c.handleFrame(ev.session, ev.data)
	case evFailed:
		c.logger.Error().Err(ev.err).Str("conn_id", ev.session.id).Msg("transport error")
		c.emit(Event{Name: EventError, Kind: KindError, Err: ev.err})
	case evClosed:
		c.logger.Info().Str("conn_id", ev.session.id).Msg("disconnected")
		c.emit(Event{Name: EventDisconnected, Kind: KindDisconnected})
		c.scheduleReconnect(ev.session)
	case evReconnect:
		c.fireReconnect(ev.pending)
	}
}

func (c *Client) handleFrame(s *session, data []byte) {
	env, err := decodeFrame(data)
	switch {
	case errors.Is(err, errPong):
		c.logger.Debug().Str("conn_id", s.id).Msg("pong")
		c.sink.Record(Diagnostic{Kind: DiagPongReceived, ConnID: s.id, At: time.Now()})
		return
	case err != nil:
		c.logger.Error().Err(err).Str("conn_id", s.id).Bytes("raw", data).Msg("failed to parse frame")
		c.sink.Record(Diagnostic{Kind: DiagParseFailed, ConnID: s.id, Err: err, Raw: data, At: time.Now()})
		return
	}

	c.emit(Event{Name: EventMessage, Kind: KindMessage, Envelope: &env})
	if env.Type != "" {
		c.emit(Event{Name: env.Type, Kind: KindApp, Envelope: &env, Data: env.Data})
	}
}

func (c *Client) emit(ev Event) {
	for _, fn := range c.registry.snapshot(ev.Name) {
		fn(ev)
	}
}

// scheduleReconnect arms a single reconnect for the current session.
// Retired or superseded sessions never reconnect.
func (c *Client) scheduleReconnect(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || s.retired.Load() || c.session != s || c.reconnect != nil {
		return
	}
	p := &pendingReconnect{url: s.url}
	p.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.post(loopEvent{kind: evReconnect, pending: p})
	})
	c.reconnect = p

	c.logger.Info().Dur("delay", c.cfg.ReconnectDelay).Msg("reconnect scheduled")
	c.sink.Record(Diagnostic{Kind: DiagReconnectScheduled, ConnID: s.id, Delay: c.cfg.ReconnectDelay, At: time.Now()})
}

func (c *Client) fireReconnect(p *pendingReconnect) {
	c.mu.Lock()
	if c.reconnect != p {
		// Cancelled after the timer fired.
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	c.mu.Unlock()

	c.logger.Info().Str("url", p.url).Msg("reconnecting")
	if err := c.Connect(p.url); err != nil {
		c.logger.Debug().Err(err).Msg("reconnect skipped")
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
