package bridge

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/orchestra-mcp/canvasbus/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcastTarget records broadcasts forwarded from the bridge.
type mockBroadcastTarget struct {
	received []types.Outbound
}

func (m *mockBroadcastTarget) BroadcastToLocal(out types.Outbound) {
	m.received = append(m.received, out)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	out := types.Outbound{
		Topic:   "world:42",
		Payload: json.RawMessage(`{"type":"state_change","event":"agent_thinking"}`),
	}

	data, err := encodeEnvelope("instance-abc", out)
	require.NoError(t, err)

	env, decoded, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "instance-abc", env.InstanceID)
	assert.Empty(t, env.Encoding)
	assert.Equal(t, "world:42", decoded.Topic)
	assert.JSONEq(t, string(out.Payload), string(decoded.Payload))
}

func TestEnvelopeCompressesLargePayloads(t *testing.T) {
	big := `{"type":"canvas_update","spec":{"text":"` + strings.Repeat("canvas ", 500) + `"}}`
	out := types.Outbound{Payload: json.RawMessage(big)}

	data, err := encodeEnvelope("node-1", out)
	require.NoError(t, err)
	assert.Less(t, len(data), len(big))

	env, decoded, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, encodingZstd, env.Encoding)
	assert.Equal(t, big, string(decoded.Payload))
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, _, err := decodeEnvelope([]byte("not json"))
	assert.Error(t, err)

	bad, err := json.Marshal(redisEnvelope{InstanceID: "x", Encoding: "lz4", Payload: []byte("{}")})
	require.NoError(t, err)
	_, _, err = decodeEnvelope(bad)
	assert.Error(t, err)
}

func TestHandleRedisMessageSkipsSelf(t *testing.T) {
	target := &mockBroadcastTarget{}
	rb := NewRedisBridge(DefaultRedisConfig(), target, testLogger())
	out := types.Outbound{Topic: "story:1", Payload: json.RawMessage(`{"type":"pong"}`)}

	own, err := encodeEnvelope(rb.instanceID, out)
	require.NoError(t, err)
	rb.handleRedisMessage(&redis.Message{Payload: string(own)})
	assert.Empty(t, target.received)

	other, err := encodeEnvelope("another-node", out)
	require.NoError(t, err)
	rb.handleRedisMessage(&redis.Message{Payload: string(other)})
	require.Len(t, target.received, 1)
	assert.Equal(t, "story:1", target.received[0].Topic)

	rb.handleRedisMessage(&redis.Message{Payload: "garbage"})
	assert.Len(t, target.received, 1)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, "canvasbus:ws:", cfg.Prefix)
	assert.Equal(t, "canvasbus:ws:broadcast", cfg.Channel())
}

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.example.com:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_WS_PREFIX", "test:ws:")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, "redis.example.com:6380", cfg.Addr)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, "test:ws:", cfg.Prefix)
}

func TestRedisConfigFromEnvInvalidDB(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, 0, cfg.DB) // falls back to default
}

func TestRedisBridgeAvailableFalseBeforeStart(t *testing.T) {
	rb := NewRedisBridge(DefaultRedisConfig(), &mockBroadcastTarget{}, testLogger())
	assert.False(t, rb.Available())
}

func TestRedisBridgeInstanceIDUnique(t *testing.T) {
	target := &mockBroadcastTarget{}
	b1 := NewRedisBridge(DefaultRedisConfig(), target, testLogger())
	b2 := NewRedisBridge(DefaultRedisConfig(), target, testLogger())
	assert.NotEqual(t, b1.instanceID, b2.instanceID)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
