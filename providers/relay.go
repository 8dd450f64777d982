package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/petlink/config"
	"github.com/orchestra-mcp/petlink/src/bridge"
	"github.com/orchestra-mcp/petlink/src/hub"
	"github.com/orchestra-mcp/petlink/src/service"
	"github.com/orchestra-mcp/petlink/src/slack"
	"github.com/orchestra-mcp/petlink/src/store"
	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// WebSocketPath is where overlays connect.
const WebSocketPath = "/ws"

// Relay serves the overlay WebSocket endpoint and the REST routes on a
// single fasthttp server.
type Relay struct {
	cfg      *config.SocketConfig
	redisCfg *config.RedisConfig
	base     zerolog.Logger
	logger   zerolog.Logger
	now      func() time.Time

	ctx      context.Context
	hub      *hub.Hub
	service  *service.Service
	bridge   atomic.Pointer[bridge.RedisBridge]
	redis    *redis.Client
	app      *fiber.App
	server   *fasthttp.Server
	upgrader websocket.FastHTTPUpgrader
	tools    []Tool

	mu     sync.Mutex
	active bool
}

// NewRelay creates a relay. A nil redisCfg runs standalone with in-memory
// unread storage.
func NewRelay(cfg *config.SocketConfig, redisCfg *config.RedisConfig, logger zerolog.Logger) *Relay {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Relay{
		cfg:      cfg,
		redisCfg: redisCfg,
		base:     logger,
		logger:   logger.With().Str("component", "relay").Logger(),
		now:      time.Now,
	}
}

// Activate builds the hub, storage, service and routes, and starts the hub
// event loop. Redis problems are logged and the relay falls back to
// standalone mode.
func (r *Relay) Activate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return fmt.Errorf("relay already active")
	}

	r.ctx = ctx
	r.hub = hub.New(r.base)
	r.hub.SetMaxConnections(r.cfg.MaxConnections)
	greeting, err := types.NewEnvelope(types.TypeConnected, map[string]string{"message": "WebSocket connection established"})
	if err != nil {
		return err
	}
	r.hub.SetGreeting(greeting)
	go r.hub.Run()

	st := r.initRedis(ctx)

	var replier slack.Replier
	if r.cfg.SlackBotToken != "" {
		replier = slack.NewPostMessageReplier(r.cfg.SlackBotToken)
	} else {
		r.logger.Warn().Msg("SLACK_BOT_TOKEN not set, replies disabled")
	}
	r.service = service.New(r.hub, st, replier, r.base)
	r.hub.RegisterHandler(types.TypeMarkRead, r.handleMarkReadEnvelope)

	r.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  r.cfg.ReadBufferSize,
		WriteBufferSize: r.cfg.WriteBufferSize,
		CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
	}
	r.tools = r.defaultTools()
	r.app = fiber.New()
	r.RegisterRoutes(r.app)
	// Upgraded sockets are closed by their pumps, not by fasthttp.
	r.server = &fasthttp.Server{
		Handler:           r.Handler(),
		Name:              "petlink-relay",
		KeepHijackedConns: true,
	}

	r.active = true
	r.logger.Info().Int("max_connections", r.cfg.MaxConnections).Msg("relay activated")
	return nil
}

// initRedis connects the unread store and pub/sub bridge. It returns the
// store to use.
func (r *Relay) initRedis(ctx context.Context) store.Store {
	mem := store.NewMemoryStore(r.cfg.UnreadLimit)
	if r.redisCfg == nil {
		return mem
	}

	client := r.redisCfg.NewClient()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		r.logger.Warn().Err(err).Str("redis_addr", r.redisCfg.Addr).Msg("redis unavailable, running standalone")
		_ = client.Close()
		return mem
	}
	r.redis = client

	rb := bridge.NewRedisBridge(client, r.redisCfg.Prefix, r.hub, r.base)
	if err := rb.Start(); err != nil {
		r.logger.Warn().Err(err).Msg("redis bridge unavailable, broadcasts stay local")
	} else {
		r.bridge.Store(rb)
		r.hub.SetBridge(rb)
		r.logger.Info().Str("redis_addr", r.redisCfg.Addr).Str("instance_id", rb.InstanceID()).Msg("redis bridge connected")
	}
	return store.NewRedisStore(client, r.redisCfg.Prefix, r.cfg.UnreadLimit)
}

// Bridged reports whether envelopes are shared with other relays.
func (r *Relay) Bridged() bool {
	rb := r.bridge.Load()
	return rb != nil && rb.Available()
}

// Service returns the relay service. It is nil before Activate.
func (r *Relay) Service() *service.Service { return r.service }

// Handler routes WebSocket upgrades to the hub and everything else to the
// fiber app.
func (r *Relay) Handler() fasthttp.RequestHandler {
	routes := r.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == WebSocketPath {
			r.handleUpgrade(ctx)
			return
		}
		routes(ctx)
	}
}

// Serve accepts connections on ln until Stop.
func (r *Relay) Serve(ln net.Listener) error {
	return r.server.Serve(ln)
}

// Start activates the relay and serves on the configured address.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.Activate(ctx); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		r.Stop()
		return fmt.Errorf("listen %s: %w", r.cfg.Addr, err)
	}
	r.logger.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
	go func() {
		if err := r.Serve(ln); err != nil {
			r.logger.Error().Err(err).Msg("relay server stopped")
		}
	}()
	return nil
}

// Stop closes overlay connections and shuts down the server.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.hub.Stop()
	if rb := r.bridge.Swap(nil); rb != nil {
		if err := rb.Stop(); err != nil {
			r.logger.Error().Err(err).Msg("bridge stop error")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.server.ShutdownWithContext(ctx); err != nil {
		r.logger.Error().Err(err).Msg("server shutdown error")
	}
	if r.redis != nil {
		_ = r.redis.Close()
		r.redis = nil
	}
	r.active = false
	r.logger.Info().Msg("relay stopped")
}

// handleMarkReadEnvelope runs on the hub loop, so the store round trip and
// the resulting broadcast happen on their own goroutine.
func (r *Relay) handleMarkReadEnvelope(clientID string, env types.Envelope) error {
	var req struct {
		User string `json:"user"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return fmt.Errorf("mark_read from %s: %w", clientID, err)
		}
	}
	if req.User == "" {
		req.User = DefaultUser
	}
	go func() {
		if _, err := r.service.MarkRead(r.ctx, req.User); err != nil {
			r.logger.Error().Err(err).Str("client_id", clientID).Msg("mark read failed")
		}
	}()
	return nil
}

func (r *Relay) handleUpgrade(ctx *fasthttp.RequestCtx) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	clientID := uuid.New().String()
	userAgent := string(ctx.UserAgent())
	writeTimeout := time.Duration(r.cfg.WriteTimeout) * time.Second
	h := r.hub

	err := r.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := hub.NewClient(clientID, &wsConn{conn: conn, writeTimeout: writeTimeout}, h)
		client.SetUserAgent(userAgent)
		h.Register(client)
		go client.WritePump()
		client.ReadPump()
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// wsConn adapts fasthttp/websocket.Conn to types.Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (w *wsConn) ReadMessage() (int, []byte, error) { return w.conn.ReadMessage() }

func (w *wsConn) WriteMessage(messageType int, data []byte) error {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(messageType, data)
}

// Close sends a going-away close frame and closes the socket. Both pumps
// call it; only the first call has any effect.
func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
