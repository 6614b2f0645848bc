package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/orchestra-mcp/canvasbus/config"
	"github.com/orchestra-mcp/canvasbus/src/bridge"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newTestPlugin(t *testing.T, mutate func(*config.BusConfig)) *BusPlugin {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	p := NewBusPlugin()
	require.NoError(t, p.Activate(&Context{
		Logger: zerolog.Nop(),
		Config: cfg,
		Redis:  bridge.DefaultRedisConfig(),
	}))
	t.Cleanup(func() { _ = p.Deactivate() })
	return p
}

func doJSON(t *testing.T, p *BusPlugin, method, target, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestPollPostRequiresInteraction(t *testing.T) {
	p := newTestPlugin(t, nil)

	status, body := doJSON(t, p, http.MethodPost, "/poll", `{"clientId":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "interaction is required", body["error"])

	status, body = doJSON(t, p, http.MethodPost, "/poll", `{"interaction":{"componentId":"b"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "clientId is required", body["error"])

	status, _ = doJSON(t, p, http.MethodPost, "/poll", `{"clientId":`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPollGetRequiresClientID(t *testing.T) {
	p := newTestPlugin(t, nil)
	status, body := doJSON(t, p, http.MethodGet, "/poll", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "clientId is required", body["error"])
}

func TestPollReceivesAgentCanvas(t *testing.T) {
	p := newTestPlugin(t, nil)

	status, body := doJSON(t, p, http.MethodGet, "/poll?clientId=p1&topics=world:42,%20story:1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["messages"])
	assert.EqualValues(t, 1, body["clientCount"])

	status, body = doJSON(t, p, http.MethodPost, "/agent/canvas", `{
		"type":"canvas_ui","action":"create","target":"main","componentId":"welcome","topic":"world:42",
		"tree":{"type":"Stack","children":[{"type":"Text","props":{"content":"Hi"}}]}
	}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "tree", body["payload"])

	status, body = doJSON(t, p, http.MethodGet, "/poll?clientId=p1", "")
	require.Equal(t, http.StatusOK, status)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	frame := msgs[0].(map[string]any)
	assert.Equal(t, "canvas_update", frame["type"])
	assert.Equal(t, "welcome", frame["componentId"])
	assert.Contains(t, frame, "tree")
	assert.Equal(t, false, body["hasMore"])
}

func TestAgentCanvasRejectsInvalidEnvelope(t *testing.T) {
	p := newTestPlugin(t, nil)
	status, body := doJSON(t, p, http.MethodPost, "/agent/canvas", `{"action":"remove","componentId":"x","spec":{}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "remove carries no payload")
}

func TestPollInteractionReachesInbox(t *testing.T) {
	p := newTestPlugin(t, nil)
	doJSON(t, p, http.MethodGet, "/poll?clientId=p1", "")

	status, body := doJSON(t, p, http.MethodPost, "/poll",
		`{"clientId":"p1","interaction":{"componentId":"btn","interactionType":"click","data":{"n":1}}}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = doJSON(t, p, http.MethodGet, "/agent/interactions?max=10", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])
	item := body["interactions"].([]any)[0].(map[string]any)
	assert.Equal(t, "p1", item["clientId"])
	assert.Equal(t, "btn", item["componentId"])

	_, body = doJSON(t, p, http.MethodGet, "/agent/interactions", "")
	assert.EqualValues(t, 0, body["count"])

	status, _ = doJSON(t, p, http.MethodGet, "/agent/interactions?max=-1", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPollMessageGetsReply(t *testing.T) {
	p := newTestPlugin(t, nil)
	doJSON(t, p, http.MethodGet, "/poll?clientId=p1", "")

	status, body := doJSON(t, p, http.MethodPost, "/poll", `{"clientId":"p1","message":{"type":"ping","timestamp":42}}`)
	require.Equal(t, http.StatusOK, status)
	reply := body["reply"].(map[string]any)
	assert.Equal(t, "pong", reply["type"])
	assert.EqualValues(t, 42, reply["timestamp"])

	status, _ = doJSON(t, p, http.MethodPost, "/poll", `{"clientId":"p1","message":{"type":"identify","clientType":"debug"}}`)
	require.Equal(t, http.StatusOK, status)
	info, err := p.service.GetClientInfo("p1")
	require.NoError(t, err)
	assert.Equal(t, "debug", string(info.ClientType))
}

func TestPollInboxFullIs503(t *testing.T) {
	p := newTestPlugin(t, func(c *config.BusConfig) { c.InboxCapacity = 1 })
	payload := `{"clientId":"p1","interaction":{"componentId":"b","interactionType":"click"}}`

	status, _ := doJSON(t, p, http.MethodPost, "/poll", payload)
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, p, http.MethodPost, "/poll", payload)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "INBOX_FULL", body["code"])
}

func TestInfoAndStats(t *testing.T) {
	p := newTestPlugin(t, nil)
	doJSON(t, p, http.MethodGet, "/poll?clientId=p1&topics=canvas:7", "")

	status, body := doJSON(t, p, http.MethodGet, "/ws/info", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/ws", body["endpoint"])
	assert.EqualValues(t, 1, body["clients"])
	assert.EqualValues(t, 1, body["channels"])

	status, body = doJSON(t, p, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])
}

func TestAgentTools(t *testing.T) {
	p := newTestPlugin(t, nil)
	doJSON(t, p, http.MethodGet, "/poll?clientId=p1", "")

	status, body := doJSON(t, p, http.MethodPost, "/agent/tools/state_change", `{"event":"agent_thinking"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["published"])

	status, body = doJSON(t, p, http.MethodPost, "/agent/tools/suggest", `{"suggestions":[{"id":"s1","text":"More"}]}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["count"])

	status, body = doJSON(t, p, http.MethodPost, "/agent/tools/canvas_ui",
		`{"action":"update","target":"main","componentId":"c1","spec":{"kind":"card"}}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "spec", body["payload"])

	status, body = doJSON(t, p, http.MethodPost, "/agent/tools/list_canvas_clients", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = doJSON(t, p, http.MethodPost, "/agent/tools/state_change", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "event is required", body["error"])

	status, _ = doJSON(t, p, http.MethodPost, "/agent/tools/nope", "")
	assert.Equal(t, http.StatusNotFound, status)

	_, body = doJSON(t, p, http.MethodGet, "/poll?clientId=p1", "")
	assert.Len(t, body["messages"], 3)
}

func TestDrainTool(t *testing.T) {
	p := newTestPlugin(t, nil)
	doJSON(t, p, http.MethodPost, "/poll", `{"clientId":"p1","interaction":{"componentId":"a","interactionType":"click"}}`)
	doJSON(t, p, http.MethodPost, "/poll", `{"clientId":"p1","interaction":{"componentId":"b","interactionType":"click"}}`)

	tool, ok := p.tool("drain_interactions")
	require.True(t, ok)
	out, err := tool.Handler(context.Background(), map[string]any{"max": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["count"])

	out, err = tool.Handler(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["count"])
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	p := newTestPlugin(t, nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/ws")
	p.Handler()(&ctx)
	assert.Equal(t, fasthttp.StatusUpgradeRequired, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "upgrade_required")
}

func TestLifecycle(t *testing.T) {
	p := NewBusPlugin()
	assert.False(t, p.IsActive())

	_, err := p.Service()
	assert.ErrorIs(t, err, ErrNotActive)
	_, err = p.toolListClients(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotActive)
	assert.NoError(t, p.Deactivate())

	ctx := &Context{Logger: zerolog.Nop()}
	require.NoError(t, p.Activate(ctx))
	require.NoError(t, p.Activate(ctx))
	assert.True(t, p.IsActive())
	svc, err := p.Service()
	require.NoError(t, err)
	assert.NotNil(t, svc)

	require.NoError(t, p.Deactivate())
	require.NoError(t, p.Deactivate())
	assert.False(t, p.IsActive())
}

func TestActivateRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InboxBackend = "disk"
	err := NewBusPlugin().Activate(&Context{Logger: zerolog.Nop(), Config: cfg})
	assert.Error(t, err)
}

func TestSplitTopics(t *testing.T) {
	assert.Nil(t, splitTopics(""))
	assert.Equal(t, []string{"world:1", "story:2"}, splitTopics("world:1, story:2,,"))
}
