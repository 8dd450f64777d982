package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrUntypedEnvelope is returned by Publish for envelopes without a type.
// Overlays dispatch on type, so such envelopes are useless to other relays.
var ErrUntypedEnvelope = errors.New("bridge: envelope has no type")

var _ Bridge = (*RedisBridge)(nil)

// redisEnvelope wraps an envelope with the originating instance ID
// so that a node can skip its own published envelopes.
type redisEnvelope struct {
	InstanceID string         `json:"instance_id"`
	SentAt     time.Time      `json:"sent_at"`
	Envelope   types.Envelope `json:"envelope"`
}

// Stats counts envelopes crossing the bridge.
type Stats struct {
	Published int64 `json:"published"`
	Relayed   int64 `json:"relayed"`
	Dropped   int64 `json:"dropped"`
}

// RedisBridge relays envelopes between relay instances via Redis pub/sub.
// The Redis client is owned by the caller.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        BroadcastTarget
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool

	published atomic.Int64
	relayed   atomic.Int64
	dropped   atomic.Int64
}

// NewRedisBridge creates a bridge publishing on "{prefix}broadcast".
func NewRedisBridge(client *redis.Client, prefix string, hub BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		channel:    prefix + "broadcast",
		instanceID: uuid.New().String(),
		hub:        hub,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this relay on the bridge.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the Redis broadcast channel and begins relaying envelopes.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return err
	}

	sub := b.client.Subscribe(b.ctx, b.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		_ = sub.Close()
		return err
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// Publish sends an envelope to all other instances via Redis.
func (b *RedisBridge) Publish(env types.Envelope) error {
	if env.Type == "" {
		b.dropped.Add(1)
		return ErrUntypedEnvelope
	}
	data, err := json.Marshal(redisEnvelope{
		InstanceID: b.instanceID,
		SentAt:     time.Now(),
		Envelope:   env,
	})
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.channel, data).Err(); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Stats returns the envelope counters.
func (b *RedisBridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Relayed:   b.relayed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Stop unsubscribes and waits for the listener to exit.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// listen reads envelopes from the Redis subscription and forwards to the local hub.
func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRedisMessage(msg)
		case <-b.ctx.Done():
			return
		}
	}
}

// handleRedisMessage decodes an envelope and forwards non-self envelopes to the hub.
func (b *RedisBridge) handleRedisMessage(msg *redis.Message) {
	var re redisEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &re); err != nil {
		b.dropped.Add(1)
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip envelopes that originated from this instance.
	if re.InstanceID == b.instanceID {
		return
	}
	if re.Envelope.Type == "" {
		b.dropped.Add(1)
		b.logger.Warn().Str("from_instance", re.InstanceID).Msg("dropping untyped envelope")
		return
	}

	ev := b.logger.Debug().
		Str("from_instance", re.InstanceID).
		Str("type", re.Envelope.Type)
	if !re.SentAt.IsZero() {
		ev = ev.Dur("lag", time.Since(re.SentAt))
	}
	ev.Msg("relaying envelope from redis")

	b.relayed.Add(1)
	b.hub.BroadcastToLocal(re.Envelope)
}
