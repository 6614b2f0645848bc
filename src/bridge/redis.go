package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/canvasbus/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const encodingZstd = "zstd"

// redisEnvelope wraps a broadcast with the originating instance ID
// so that a node can skip its own published messages.
type redisEnvelope struct {
	InstanceID string `json:"instance_id"`
	Topic      string `json:"topic,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Payload    []byte `json:"payload"`
}

func encodeEnvelope(instanceID string, out types.Outbound) ([]byte, error) {
	env := redisEnvelope{InstanceID: instanceID, Topic: out.Topic}
	payload, ok := compress(out.Payload)
	if ok {
		env.Encoding = encodingZstd
	}
	env.Payload = payload
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (redisEnvelope, types.Outbound, error) {
	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, types.Outbound{}, err
	}
	payload := env.Payload
	switch env.Encoding {
	case "":
	case encodingZstd:
		var err error
		if payload, err = decompress(payload); err != nil {
			return env, types.Outbound{}, fmt.Errorf("decompress: %w", err)
		}
	default:
		return env, types.Outbound{}, fmt.Errorf("unknown encoding %q", env.Encoding)
	}
	if !json.Valid(payload) {
		return env, types.Outbound{}, fmt.Errorf("payload is not JSON")
	}
	return env, types.Outbound{Topic: env.Topic, Payload: payload}, nil
}

// RedisBridge relays broadcasts between bus instances via Redis pub/sub.
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

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance messaging.
func NewRedisBridge(cfg *RedisConfig, hub BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     NewClient(cfg),
		channel:    cfg.Channel(),
		instanceID: uuid.New().String(),
		hub:        hub,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the Redis broadcast channel and begins relaying messages.
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

// Publish sends a broadcast to all other instances via Redis.
func (b *RedisBridge) Publish(out types.Outbound) error {
	data, err := encodeEnvelope(b.instanceID, out)
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
			b.handleRedisMessage(msg)
		case <-b.ctx.Done():
			return
		}
	}
}

// handleRedisMessage decodes an envelope and forwards non-self broadcasts to the hub.
func (b *RedisBridge) handleRedisMessage(msg *redis.Message) {
	env, out, err := decodeEnvelope([]byte(msg.Payload))
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip messages that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("topic", out.Topic).
		Msg("relaying broadcast from redis")

	b.hub.BroadcastToLocal(out)
}
