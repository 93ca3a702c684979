package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/ojhub/realtime/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisEnvelope wraps an envelope with the originating instance ID
// so that a node can skip its own published envelopes.
type redisEnvelope struct {
	InstanceID string         `json:"instance_id"`
	Envelope   types.Envelope `json:"envelope"`
}

// RedisBridge relays topic publications between relay instances via Redis pub/sub.
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
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance fan-out.
func NewRedisBridge(cfg RedisConfig, hub BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		channel:    cfg.Channel(),
		instanceID: uuid.New().String(),
		hub:        hub,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this relay instance on the bridge.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the Redis broadcast channel and begins relaying envelopes.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return err
	}

	sub := b.client.Subscribe(b.ctx, b.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		sub.Close()
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
	data, err := encodeEnvelope(b.instanceID, env)
	if err != nil {
		return err
	}
	return b.client.Publish(b.ctx, b.channel, data).Err()
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// listen reads messages from the Redis subscription and forwards to the local hub.
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
			b.handlePayload(msg.Payload)
		case <-b.ctx.Done():
			return
		}
	}
}

// handlePayload decodes an envelope and forwards non-self envelopes to the hub.
func (b *RedisBridge) handlePayload(payload string) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip envelopes that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}
	if env.Envelope.Topic == "" {
		b.logger.Warn().Str("from_instance", env.InstanceID).Msg("dropping envelope without topic")
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("topic", env.Envelope.Topic).
		Msg("relaying envelope from redis")

	b.hub.BroadcastToLocal(env.Envelope)
}

func encodeEnvelope(instanceID string, env types.Envelope) ([]byte, error) {
	return json.Marshal(redisEnvelope{InstanceID: instanceID, Envelope: env})
}
